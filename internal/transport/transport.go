// Package transport defines the group membership and multicast layer a chat
// node runs on, and an in-process implementation of it.
//
// Ordering: every implementation delivers a broadcast to all members of the
// group, the sender included, and preserves per-sender FIFO order: if one
// member broadcasts A before B, every member delivers A before B. There is
// no total order across senders; two members may deliver concurrent lines
// from different senders in different relative orders, so two transcripts
// can differ in interleaving while agreeing on each sender's subsequence.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrStateTimeout means no peer answered a state request in time.
	ErrStateTimeout = errors.New("transport: state request timed out")
	// ErrStateTransfer means a peer failed while serving its state.
	ErrStateTransfer = errors.New("transport: state transfer failed")
	// ErrNoPeers means there is nobody to request state from.
	ErrNoPeers = errors.New("transport: no peers to synchronize from")
	// ErrTransport wraps send failures.
	ErrTransport = errors.New("transport: send failed")
	ErrClosed    = errors.New("transport: closed")
)

// Handle is this node's registration in a group.
type Handle struct {
	ID    string
	Group string
	// Founding is set when no other member was registered at join time.
	Founding bool
	// Peers are the other members at join time, oldest first.
	Peers []string
}

// Event is one of the closed set of notifications a Transport emits.
type Event interface {
	event()
}

// Deliver is a broadcast line arriving from some member, possibly self.
type Deliver struct {
	Sender string
	Text   string
}

// StateRequest asks this node for its encoded transcript. The handler
// writes exactly one value to Reply, which is buffered.
type StateRequest struct {
	Reply chan<- []byte
}

func (Deliver) event()      {}
func (StateRequest) event() {}

type Transport interface {
	Join(ctx context.Context, group string) (Handle, error)
	Broadcast(ctx context.Context, h Handle, payload string) error
	// RequestState fetches an encoded snapshot from an existing member.
	RequestState(ctx context.Context, h Handle) ([]byte, error)
	Events() <-chan Event
	Close() error
}
