// Package console is the interactive side of a chat node: it reads lines
// from the user, submits them to the group and prints what the group says.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"groupchat/internal/chatlog"
)

const prompt = "> "

// Submitter sends one line of user input to the group.
type Submitter interface {
	Submit(ctx context.Context, text string) error
}

type Console struct {
	in  io.Reader
	out io.Writer
	mu  sync.Mutex
}

func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out}
}

// IsQuit reports whether line asks to leave the chat.
func IsQuit(line string) bool {
	l := strings.ToLower(strings.TrimSpace(line))
	return strings.HasPrefix(l, "quit") || strings.HasPrefix(l, "exit")
}

// Run reads input until EOF, a quit command or ctx is done. A failed
// submit is logged and the loop keeps going.
func (c *Console) Run(ctx context.Context, s Submitter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		c.write(prompt)

		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case line = <-lines:
		}

		if IsQuit(line) {
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := s.Submit(ctx, line); err != nil {
			log.Println("[CONSOLE][ERROR] send:", err)
		}
	}
}

// PrintLine shows one delivered line.
func (c *Console) PrintLine(l chatlog.Line) {
	c.write(l.String() + "\n")
}

// PrintHistory shows the transcript received on join.
func (c *Console) PrintHistory(lines []chatlog.Line) {
	var b strings.Builder
	fmt.Fprintf(&b, "%d messages in chat history:\n", len(lines))
	for _, l := range lines {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	c.write(b.String())
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, s)
}
