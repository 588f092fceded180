package relay

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/testhelpers"
	"github.com/Tyrowin/chatrelay/internal/transport"
)

const msgFromClientTemplate = "Message from client %d"

// TestMultipleClientsMessageExchange has five members broadcast once each and
// checks that every other member receives every message.
func TestMultipleClientsMessageExchange(t *testing.T) {
	const numClients = 5
	r, baseURL := startRelay(t, testConfig())
	wsURL := testhelpers.WebSocketURL(baseURL)

	conns := make([]*transport.WebSocket, numClients)
	for i := range conns {
		conns[i] = testhelpers.JoinAs(t, wsURL, fmt.Sprintf("client%d", i))
	}
	eventually(t, "all members registered", func() bool { return r.Registry().Len() == numClients })

	for i, conn := range conns {
		msg := protocol.ChatMessage{
			Sender:      fmt.Sprintf("client%d", i),
			Destination: protocol.BroadcastAddress,
			Content:     fmt.Sprintf(msgFromClientTemplate, i),
		}
		if err := conn.WriteFrame(msg); err != nil {
			t.Fatalf("Client %d failed to send: %v", i, err)
		}
	}

	for i, conn := range conns {
		want := make(map[string]string, numClients-1)
		for j := range conns {
			if j != i {
				want[fmt.Sprintf(msgFromClientTemplate, j)] = fmt.Sprintf("client%d", j)
			}
		}
		for len(want) > 0 {
			msg, err := testhelpers.ReadChat(conn, waitFor)
			if err != nil {
				t.Fatalf("Client %d is missing %d messages: %v", i, len(want), err)
			}
			if msg.Content == fmt.Sprintf(msgFromClientTemplate, i) {
				t.Errorf("Client %d received its own broadcast", i)
			}
			sender, ok := want[msg.Content]
			if !ok {
				continue
			}
			if msg.Sender != sender {
				t.Errorf("Client %d: expected sender %s, got %s", i, sender, msg.Sender)
			}
			delete(want, msg.Content)
		}
	}
}

// TestConcurrentJoinsAndLeaves joins and drops many clients at once and
// checks that the registry ends up empty.
func TestConcurrentJoinsAndLeaves(t *testing.T) {
	const numClients = 20
	r, baseURL := startRelay(t, testConfig())
	wsURL := testhelpers.WebSocketURL(baseURL)

	var wg sync.WaitGroup
	errs := make(chan error, numClients)
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := testhelpers.ConnectWebSocket(wsURL, "")
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()

			name := fmt.Sprintf("member%d", i)
			if err := conn.WriteFrame(protocol.JoinRequest{ClientName: name}); err != nil {
				errs <- err
				return
			}
			resp, err := testhelpers.ReadMembership(conn, waitFor)
			if err != nil {
				errs <- err
				return
			}
			if !resp.Success {
				errs <- fmt.Errorf("%s rejected: %s", name, resp.Message)
				return
			}
			_ = conn.WriteClose()
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	eventually(t, "registry to drain", func() bool { return r.Registry().Len() == 0 })
	eventually(t, "sessions to finish", func() bool { return r.SessionCount() == 0 })
}

// TestMessageAtSizeLimit verifies that a frame just under the limit is
// delivered intact.
func TestMessageAtSizeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 1024
	_, baseURL := startRelay(t, cfg)
	wsURL := testhelpers.WebSocketURL(baseURL)

	alice := testhelpers.JoinAs(t, wsURL, "Alice")
	bob := testhelpers.JoinAs(t, wsURL, "Bob")

	content := strings.Repeat("a", 800)
	if err := alice.WriteFrame(protocol.ChatMessage{Sender: "Alice", Destination: "Bob", Content: content}); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if _, err := testhelpers.ReadChatWithContent(bob, content, waitFor); err != nil {
		t.Errorf("Expected message under the limit to be delivered: %v", err)
	}
}
