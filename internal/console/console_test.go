package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"groupchat/internal/chatlog"
)

type recorder struct {
	mu    sync.Mutex
	sent  []string
	fail  map[string]bool
	calls int
}

func (r *recorder) Submit(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail[text] {
		return errors.New("broadcast failed")
	}
	r.sent = append(r.sent, text)
	return nil
}

func TestIsQuit(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"quit", true},
		{"QUIT", true},
		{"exit now", true},
		{"  Exit", true},
		{"hello", false},
		{"please quit", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsQuit(tt.line); got != tt.want {
			t.Errorf("IsQuit(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestRunStopsOnQuit(t *testing.T) {
	for _, cmd := range []string{"quit", "QUIT", "exit now"} {
		t.Run(cmd, func(t *testing.T) {
			r := &recorder{}
			in := strings.NewReader("hello\n" + cmd + "\nafter\n")
			c := New(in, &bytes.Buffer{})

			if err := c.Run(context.Background(), r); err != nil {
				t.Fatal(err)
			}
			if len(r.sent) != 1 || r.sent[0] != "hello" {
				t.Fatalf("sent %q", r.sent)
			}
		})
	}
}

func TestRunContinuesAfterFailedSend(t *testing.T) {
	r := &recorder{fail: map[string]bool{"first": true}}
	in := strings.NewReader("first\n\n   \nsecond\n")
	c := New(in, &bytes.Buffer{})

	if err := c.Run(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if r.calls != 2 || len(r.sent) != 1 || r.sent[0] != "second" {
		t.Fatalf("calls=%d sent=%q", r.calls, r.sent)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A reader that never returns; cancellation must still end Run.
	pr, pw := io.Pipe()
	defer pw.Close()
	c := New(pr, &bytes.Buffer{})
	if err := c.Run(ctx, &recorder{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestPrint(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	c.PrintHistory([]chatlog.Line{chatlog.NewLine("alice", "hi"), chatlog.NewLine("bob", "yo")})
	c.PrintLine(chatlog.NewLine("node-1", "[carol] hello"))

	want := "2 messages in chat history:\nalice: hi\nbob: yo\nnode-1: [carol] hello\n"
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}
}
