// Package testhelpers provides utilities shared by the relay's package tests:
// HTTP assertions, WebSocket dialing and an in-memory frame pipe.
package testhelpers

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/transport"
)

// TestOrigin is the browser origin the helpers send when asked to.
const TestOrigin = "http://localhost:8080"

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks that the Content-Type header starts with
// expected, ignoring any charset parameter.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request with a 5-second timeout,
// failing the test if it cannot be made.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// WebSocketURL converts an http:// base URL into the relay's ws:// endpoint.
func WebSocketURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
}

// ConnectWebSocket dials url. A non-empty origin is sent as the Origin
// header.
func ConnectWebSocket(url, origin string) (*transport.WebSocket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return transport.NewWebSocket(conn, transport.Options{WriteTimeout: 5 * time.Second}), nil
}

// JoinAs dials url, joins as name and consumes the welcome. The connection is
// closed when the test ends.
func JoinAs(t *testing.T, url, name string) *transport.WebSocket {
	t.Helper()

	conn, err := ConnectWebSocket(url, TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", name, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.WriteFrame(protocol.JoinRequest{ClientName: name}); err != nil {
		t.Fatalf("Failed to send join request for %s: %v", name, err)
	}

	resp, err := ReadMembership(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("Expected welcome for %s, got error: %v", name, err)
	}
	if !resp.Success || resp.Message != protocol.MsgConnected {
		t.Fatalf("Expected successful welcome for %s, got %#v", name, resp)
	}
	return conn
}

// ReadFrame reads the next frame, waiting at most timeout.
func ReadFrame(conn *transport.WebSocket, timeout time.Duration) (protocol.Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	return conn.ReadFrame()
}

// ReadChat skips membership frames until a chat message arrives.
func ReadChat(conn *transport.WebSocket, timeout time.Duration) (protocol.ChatMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := ReadFrame(conn, time.Until(deadline))
		if err != nil {
			return protocol.ChatMessage{}, err
		}
		if m, ok := f.(protocol.ChatMessage); ok {
			return m, nil
		}
	}
}

// ReadMembership skips chat frames until a membership response arrives.
func ReadMembership(conn *transport.WebSocket, timeout time.Duration) (protocol.MembershipResponse, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := ReadFrame(conn, time.Until(deadline))
		if err != nil {
			return protocol.MembershipResponse{}, err
		}
		if m, ok := f.(protocol.MembershipResponse); ok {
			return m, nil
		}
	}
}

// ReadChatWithContent reads until a chat message carrying content arrives.
func ReadChatWithContent(conn *transport.WebSocket, content string, timeout time.Duration) (protocol.ChatMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		m, err := ReadChat(conn, time.Until(deadline))
		if err != nil {
			return protocol.ChatMessage{}, fmt.Errorf("waiting for %q: %w", content, err)
		}
		if m.Content == content {
			return m, nil
		}
	}
}
