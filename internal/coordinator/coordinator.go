// Package coordinator drives a chat node's replicated transcript: the
// join-time snapshot hand-off and the steady-state delivery of broadcast
// lines into the local log.
//
// A node starts Joining. Run must already be consuming transport events
// when RequestState is called, so that deliveries and peers' state
// requests keep being served during the join. A delivery appended while
// the join is in flight can be overwritten by the installed snapshot.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"groupchat/internal/chatlog"
	"groupchat/internal/transport"
	"groupchat/internal/wire"
)

var (
	ErrAlreadySynchronized = errors.New("coordinator: already synchronized")
	ErrMalformedDelivery   = errors.New("coordinator: malformed delivery")
)

type State int32

const (
	Joining State = iota
	Synchronized
)

func (s State) String() string {
	switch s {
	case Joining:
		return "JOINING"
	case Synchronized:
		return "SYNCHRONIZED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configures a Coordinator. The hooks run on the delivery and
// join paths and must not block.
type Options struct {
	// User is the local user name prefixed to submitted lines.
	User string
	// OnLine is called once per appended line.
	OnLine func(chatlog.Line)
	// OnHistory is called with the snapshot installed at join. A founding
	// member installs nothing and OnHistory is not called.
	OnHistory func([]chatlog.Line)
}

type Coordinator struct {
	tr     transport.Transport
	handle transport.Handle
	log    *chatlog.Log
	opts   Options
	state  atomic.Int32
}

// New returns a Joining coordinator for a node already joined as handle.
func New(tr transport.Transport, handle transport.Handle, lg *chatlog.Log, opts Options) *Coordinator {
	if opts.OnLine == nil {
		opts.OnLine = func(chatlog.Line) {}
	}
	if opts.OnHistory == nil {
		opts.OnHistory = func([]chatlog.Line) {}
	}
	return &Coordinator{tr: tr, handle: handle, log: lg, opts: opts}
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// RequestState synchronizes the local log with the group, waiting at most
// timeout. A founding member, or a node whose peers have all left, keeps
// its empty log. Any other failure leaves the node Joining and must abort
// startup.
func (c *Coordinator) RequestState(ctx context.Context, timeout time.Duration) error {
	if c.State() == Synchronized {
		return ErrAlreadySynchronized
	}

	if c.handle.Founding {
		log.Printf("[SYNC] %s is the founding member of %q", c.handle.ID, c.handle.Group)
		c.state.Store(int32(Synchronized))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := c.tr.RequestState(ctx, c.handle)
	if errors.Is(err, transport.ErrNoPeers) {
		log.Printf("[SYNC] no peers left in %q, starting empty", c.handle.Group)
		c.state.Store(int32(Synchronized))
		return nil
	}
	if err != nil {
		return fmt.Errorf("coordinator: request state: %w", err)
	}

	lines, err := wire.DecodeSnapshot(raw)
	if err != nil {
		return fmt.Errorf("coordinator: %w: %v", transport.ErrStateTransfer, err)
	}

	c.log.Install(lines)
	c.state.Store(int32(Synchronized))
	log.Printf("[SYNC] installed %d lines", len(lines))
	c.opts.OnHistory(lines)
	return nil
}

// OnStateRequest serves a joining peer.
func (c *Coordinator) OnStateRequest() []chatlog.Line {
	return c.log.Snapshot()
}

// OnDeliver appends a delivered broadcast. It runs in every state.
func (c *Coordinator) OnDeliver(sender, text string) error {
	if sender == "" {
		return fmt.Errorf("%w: empty sender", ErrMalformedDelivery)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: text from %s is not valid UTF-8", ErrMalformedDelivery, sender)
	}

	line := chatlog.NewLine(sender, text)
	c.log.Append(line)
	c.opts.OnLine(line)
	return nil
}

// Submit broadcasts text as the local user. The line reaches the local log
// only when the transport delivers it back.
func (c *Coordinator) Submit(ctx context.Context, text string) error {
	return c.tr.Broadcast(ctx, c.handle, FormatPayload(c.opts.User, text))
}

// FormatPayload renders the broadcast payload for user's text.
func FormatPayload(user, text string) string {
	return "[" + user + "] " + text
}

// Run dispatches transport events until ctx is done or the transport
// closes its event channel. Per-event failures are logged and dropped.
func (c *Coordinator) Run(ctx context.Context) error {
	events := c.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.dispatch(ev)
		}
	}
}

func (c *Coordinator) dispatch(ev transport.Event) {
	switch ev := ev.(type) {
	case transport.Deliver:
		if err := c.OnDeliver(ev.Sender, ev.Text); err != nil {
			log.Printf("[DELIVER][ERROR] %v", err)
		}

	case transport.StateRequest:
		lines := c.OnStateRequest()
		raw, err := wire.EncodeSnapshot(lines)
		if err != nil {
			log.Printf("[STATE][ERROR] %v", err)
			raw = nil
		}
		// Reply is buffered for exactly one value.
		select {
		case ev.Reply <- raw:
		default:
			log.Println("[STATE][WARN] state reply already sent")
		}
		log.Printf("[STATE] served %d lines", len(lines))

	default:
		log.Printf("[DISPATCH][WARN] unknown event %T", ev)
	}
}
