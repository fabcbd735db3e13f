package transport

import (
	"context"
	"fmt"
	"sync"
)

// Hub is an in-process group transport. Every endpoint connected to the
// same Hub sees the same groups; broadcasts are serialized by the hub lock,
// which gives per-sender FIFO delivery.
type Hub struct {
	mu     sync.Mutex
	nextID int
	groups map[string][]*endpoint
}

func NewHub() *Hub {
	return &Hub{groups: map[string][]*endpoint{}}
}

// Connect returns a new, not yet joined, endpoint on the hub.
func (h *Hub) Connect() Transport {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	return &endpoint{
		hub: h,
		id:  fmt.Sprintf("node-%d", h.nextID),
		box: newMailbox(),
	}
}

// Members lists the ids currently joined to group, oldest first.
func (h *Hub) Members(group string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.groups[group]))
	for _, e := range h.groups[group] {
		ids = append(ids, e.id)
	}
	return ids
}

type endpoint struct {
	hub *Hub
	id  string
	box *mailbox

	// guarded by hub.mu
	group  string
	closed bool
}

func (e *endpoint) Join(ctx context.Context, group string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}

	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.closed {
		return Handle{}, ErrClosed
	}
	if e.group != "" {
		return Handle{}, fmt.Errorf("transport: %s already joined %q", e.id, e.group)
	}

	members := h.groups[group]
	peers := make([]string, 0, len(members))
	for _, m := range members {
		peers = append(peers, m.id)
	}
	h.groups[group] = append(members, e)
	e.group = group

	return Handle{ID: e.id, Group: group, Founding: len(peers) == 0, Peers: peers}, nil
}

func (e *endpoint) Broadcast(ctx context.Context, hd Handle, payload string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: %v", ErrTransport, ErrClosed)
	}
	if e.group == "" || e.group != hd.Group {
		return fmt.Errorf("%w: %s is not a member of %q", ErrTransport, e.id, hd.Group)
	}
	for _, m := range h.groups[e.group] {
		m.box.put(Deliver{Sender: e.id, Text: payload})
	}
	return nil
}

func (e *endpoint) RequestState(ctx context.Context, hd Handle) ([]byte, error) {
	h := e.hub
	h.mu.Lock()
	var peer *endpoint
	for _, m := range h.groups[hd.Group] {
		if m != e {
			peer = m
			break
		}
	}
	if peer == nil {
		h.mu.Unlock()
		return nil, ErrNoPeers
	}
	reply := make(chan []byte, 1)
	ok := peer.box.put(StateRequest{Reply: reply})
	h.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s is closed", ErrStateTransfer, peer.id)
	}

	select {
	case raw := <-reply:
		return raw, nil
	case <-peer.box.done:
		return nil, fmt.Errorf("%w: %s left during transfer", ErrStateTransfer, peer.id)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrStateTimeout, peer.id, ctx.Err())
	}
}

func (e *endpoint) Events() <-chan Event {
	return e.box.out
}

func (e *endpoint) Close() error {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	members := h.groups[e.group]
	for i, m := range members {
		if m == e {
			h.groups[e.group] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	e.box.close()
	return nil
}

// mailbox is an unbounded FIFO feeding an event channel, so a broadcaster
// never blocks on a slow consumer.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool

	out  chan Event
	done chan struct{}
}

func newMailbox() *mailbox {
	m := &mailbox{
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.pump()
	return m
}

func (m *mailbox) put(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.queue = append(m.queue, ev)
	m.cond.Signal()
	return true
}

func (m *mailbox) close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.done)
		m.cond.Signal()
	}
	m.mu.Unlock()
}

func (m *mailbox) pump() {
	defer close(m.out)

	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		ev := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- ev:
		case <-m.done:
			return
		}
	}
}
