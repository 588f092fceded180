// Command relay-client is a terminal client for the chat relay.
//
// Lines typed on stdin are broadcast. "@name text" sends text to one member,
// "/who" prints the member list and "/quit" leaves.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/chatrelay/internal/client"
	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay-client: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	url := flag.String("url", envOr("RELAY_URL", "ws://localhost:8080/ws"), "Relay WebSocket URL")
	name := flag.String("name", os.Getenv("RELAY_NAME"), "Name to join as")
	origin := flag.String("origin", "", "Origin header to send (optional)")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	if strings.TrimSpace(*name) == "" {
		return errors.New("a name is required (-name or RELAY_NAME)")
	}

	logger.Init(*logLevel, logger.TextFormat, logger.FileOptions{Path: os.Getenv("RELAY_LOG_FILE")})

	opts := []client.Option{client.WithLogger(logger.Get())}
	if *origin != "" {
		opts = append(opts, client.WithOrigin(*origin))
	}

	c := client.New(*url, *name, client.Handlers{
		Message: func(msg protocol.ChatMessage) {
			fmt.Printf("%s\n\n", msg)
		},
		Status: func(status string) {
			fmt.Printf("* %s\n", status)
		},
		Membership: func(clients []string) {
			fmt.Printf("* Online: %s\n", strings.Join(clients, ", "))
		},
	}, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := c.Connect(ctx)
	cancel()
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case <-quit:
			c.Disconnect("Application closed")
			return nil
		case <-c.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				c.Disconnect("Application closed")
				return nil
			}
			if done := handleLine(c, line); done {
				return nil
			}
		}
	}
}

// handleLine acts on one line of input and reports whether the client quit.
func handleLine(c *client.Client, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		c.Disconnect("User disconnected")
		return true
	case line == "/who":
		fmt.Printf("* Online: %s\n", strings.Join(c.Members(), ", "))
		return false
	case strings.HasPrefix(line, "@"):
		destination, content, found := strings.Cut(line[1:], " ")
		content = strings.TrimSpace(content)
		if !found || destination == "" || content == "" {
			fmt.Println("* Usage: @name message")
			return false
		}
		report(c.Send(destination, content))
	default:
		report(c.Broadcast(line))
	}
	return false
}

func report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, client.ErrNotConnected):
		fmt.Println("* Not connected to server")
	default:
		fmt.Printf("* Send failed: %v\n", err)
	}
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
