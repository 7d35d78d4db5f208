package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const quitCommand = "/quit"

// ErrQuit is returned by Console.Run when the user asks to leave.
var ErrQuit = errors.New("chat: quit requested")

// Console is a line-oriented input loop: each non-empty line becomes one
// chat message. It also prints decoded events as an Observer.
type Console struct {
	in   io.Reader
	out  io.Writer
	mu   sync.Mutex
	send func(ctx context.Context, content string) error
}

func NewConsole(in io.Reader, out io.Writer, send func(ctx context.Context, content string) error) *Console {
	return &Console{in: in, out: out, send: send}
}

// Run reads lines until EOF (nil), "/quit" (ErrQuit) or a read error. Send
// failures are reported on the output and do not stop the loop.
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == quitCommand {
			return ErrQuit
		}
		if err := c.send(ctx, line); err != nil {
			c.printf("! send failed: %v\n", err)
		}
	}
	return scanner.Err()
}

func (c *Console) OnChat(sessionID, content string) {
	c.printf("[%s] %s\n", sessionID, content)
}

func (c *Console) OnPresence(sessionID string, online bool) {
	if online {
		c.printf("* %s connected\n", sessionID)
		return
	}
	c.printf("* %s disconnected\n", sessionID)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
