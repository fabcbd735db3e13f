// Package zmqbus is the ZeroMQ transport for chat nodes.
//
// Group multicast goes through a bus (an XSUB/XPUB forwarder, see
// cmd/bus): every node publishes on the group topic and subscribes to it,
// so each broadcast reaches every member, the sender included. The bus
// forwards each publisher's frames in order over one connection, which
// keeps per-sender FIFO; there is no order across publishers.
//
// Membership comes from the registry (cmd/registry). The join reply names
// the current peers and says whether this node founded the group. The
// join-time snapshot is fetched point to point over REQ/REP from the
// oldest peer that answers.
package zmqbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	zmq "github.com/pebbe/zmq4"

	"groupchat/internal/clock"
	"groupchat/internal/transport"
	"groupchat/internal/wire"
)

// pollInterval bounds blocking receives so the loops notice Close.
const pollInterval = 250 * time.Millisecond

var errNoReply = errors.New("zmqbus: no reply")

var _ transport.Transport = (*Bus)(nil)

type Config struct {
	RegistryAddr string // registry REP endpoint
	PubAddr      string // bus XSUB endpoint, nodes publish here
	SubAddr      string // bus XPUB endpoint, nodes subscribe here

	StateBind     string // local REP bind for state requests, e.g. tcp://*:*
	AdvertiseHost string // host peers use to reach StateBind

	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration // per registry call and per peer
	ReplyTimeout      time.Duration // how long a state request waits on the coordinator
}

type Bus struct {
	cfg   Config
	id    string
	clock clock.Lamport
	zctx  *zmq.Context

	mu     sync.Mutex
	handle transport.Handle
	addr   string
	rank   int
	peers  []wire.Member
	joined bool

	pubMu sync.Mutex
	pub   *zmq.Socket
	sub   *zmq.Socket
	state *zmq.Socket

	events    chan transport.Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates an unjoined bus endpoint with a fresh node identity.
func New(cfg Config) (*Bus, error) {
	zctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("zmqbus: context: %w", err)
	}
	return &Bus{
		cfg:    cfg,
		id:     nodeID(),
		zctx:   zctx,
		events: make(chan transport.Event),
		done:   make(chan struct{}),
	}, nil
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ID is the identity this node broadcasts under.
func (b *Bus) ID() string { return b.id }

func (b *Bus) Join(ctx context.Context, group string) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return transport.Handle{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.joined {
		return transport.Handle{}, fmt.Errorf("zmqbus: %s already joined %q", b.id, b.handle.Group)
	}

	var opened []*zmq.Socket
	fail := func(err error) (transport.Handle, error) {
		for _, s := range opened {
			s.Close()
		}
		return transport.Handle{}, err
	}

	// REP for peers' state requests
	state, err := b.zctx.NewSocket(zmq.REP)
	if err != nil {
		return fail(fmt.Errorf("zmqbus: state socket: %w", err))
	}
	opened = append(opened, state)
	state.SetLinger(0)
	state.SetRcvtimeo(pollInterval)
	if err := state.Bind(b.cfg.StateBind); err != nil {
		return fail(fmt.Errorf("zmqbus: bind %s: %w", b.cfg.StateBind, err))
	}
	endpoint, err := state.GetLastEndpoint()
	if err != nil {
		return fail(fmt.Errorf("zmqbus: state endpoint: %w", err))
	}
	addr := advertise(endpoint, b.cfg.AdvertiseHost)

	req := wire.New(wire.ServiceJoin, &b.clock)
	req.Origin = b.id
	req.Group = group
	req.Addr = addr
	rep, err := b.request(b.cfg.RegistryAddr, req, b.cfg.RequestTimeout)
	if err != nil {
		return fail(fmt.Errorf("zmqbus: register with %s: %w", b.cfg.RegistryAddr, err))
	}
	if rep.Service == wire.ServiceError {
		return fail(fmt.Errorf("zmqbus: registry refused join: %s", rep.Error))
	}

	sub, err := b.zctx.NewSocket(zmq.SUB)
	if err != nil {
		return fail(fmt.Errorf("zmqbus: sub socket: %w", err))
	}
	opened = append(opened, sub)
	sub.SetLinger(0)
	sub.SetRcvtimeo(pollInterval)
	if err := sub.Connect(b.cfg.SubAddr); err != nil {
		return fail(fmt.Errorf("zmqbus: connect %s: %w", b.cfg.SubAddr, err))
	}
	if err := sub.SetSubscribe(group); err != nil {
		return fail(fmt.Errorf("zmqbus: subscribe %q: %w", group, err))
	}

	pub, err := b.zctx.NewSocket(zmq.PUB)
	if err != nil {
		return fail(fmt.Errorf("zmqbus: pub socket: %w", err))
	}
	opened = append(opened, pub)
	pub.SetLinger(0)
	if err := pub.Connect(b.cfg.PubAddr); err != nil {
		return fail(fmt.Errorf("zmqbus: connect %s: %w", b.cfg.PubAddr, err))
	}

	peers := make([]string, 0, len(rep.Members))
	for _, m := range rep.Members {
		peers = append(peers, m.Name)
	}
	b.handle = transport.Handle{ID: b.id, Group: group, Founding: rep.Founding, Peers: peers}
	b.addr = addr
	b.rank = rep.Rank
	b.peers = rep.Members
	b.state, b.sub, b.pub = state, sub, pub
	b.joined = true

	log.Printf("[BUS] %s joined %q rank=%d founding=%v state=%s", b.id, group, rep.Rank, rep.Founding, addr)

	b.wg.Add(3)
	go b.subLoop(group)
	go b.stateLoop(group)
	go b.heartbeatLoop(group)

	return b.handle, nil
}

// advertise rewrites a bound endpoint such as tcp://0.0.0.0:41234 to the
// address peers should dial.
func advertise(endpoint, host string) string {
	i := strings.LastIndex(endpoint, ":")
	if i < 0 || host == "" {
		return endpoint
	}
	return "tcp://" + host + endpoint[i:]
}

func (b *Bus) Broadcast(ctx context.Context, h transport.Handle, payload string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}

	env := wire.New(wire.ServiceDeliver, &b.clock)
	env.Origin = b.id
	env.Group = h.Group
	env.Text = payload
	raw, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if b.pub == nil {
		return fmt.Errorf("%w: %v", transport.ErrTransport, transport.ErrClosed)
	}
	if _, err := b.pub.SendMessage(h.Group, raw); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}
	return nil
}

func (b *Bus) RequestState(ctx context.Context, h transport.Handle) ([]byte, error) {
	peers := b.livePeers(h.Group)
	if len(peers) == 0 {
		return nil, transport.ErrNoPeers
	}

	for _, p := range peers {
		if ctx.Err() != nil {
			break
		}
		timeout := b.cfg.RequestTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < timeout {
				timeout = left
			}
		}
		if timeout <= 0 {
			break
		}

		req := wire.New(wire.ServiceStateRequest, &b.clock)
		req.Origin = b.id
		req.Group = h.Group
		rep, err := b.request(p.Addr, req, timeout)
		switch {
		case errors.Is(err, errNoReply):
			log.Printf("[SYNC][WARN] %s (%s) did not answer: %v", p.Name, p.Addr, err)
			continue
		case err != nil:
			return nil, fmt.Errorf("%w: %s: %v", transport.ErrStateTransfer, p.Name, err)
		case rep.Service == wire.ServiceError:
			return nil, fmt.Errorf("%w: %s: %s", transport.ErrStateTransfer, p.Name, rep.Error)
		case rep.Service != wire.ServiceStateResponse:
			return nil, fmt.Errorf("%w: %s answered %q", transport.ErrStateTransfer, p.Name, rep.Service)
		}
		log.Printf("[SYNC] snapshot of %d bytes from %s", len(rep.Snapshot), p.Name)
		return rep.Snapshot, nil
	}
	return nil, fmt.Errorf("%w: no answer from %d peers", transport.ErrStateTimeout, len(peers))
}

// livePeers asks the registry for the members that joined before this
// node, falling back to the view captured at join time. Later joiners are
// still synchronizing and are never asked.
func (b *Bus) livePeers(group string) []wire.Member {
	b.mu.Lock()
	fallback := append([]wire.Member(nil), b.peers...)
	rank := b.rank
	b.mu.Unlock()

	req := wire.New(wire.ServiceList, &b.clock)
	req.Origin = b.id
	req.Group = group
	rep, err := b.request(b.cfg.RegistryAddr, req, b.cfg.RequestTimeout)
	if err != nil || rep.Service == wire.ServiceError {
		log.Printf("[SYNC][WARN] registry list failed, using join view: %v %s", err, rep.Error)
		return fallback
	}

	peers := make([]wire.Member, 0, len(rep.Members))
	for _, m := range rep.Members {
		if m.Name != b.id && m.Rank < rank {
			peers = append(peers, m)
		}
	}
	return peers
}

func (b *Bus) Events() <-chan transport.Event {
	return b.events
}

// Close leaves the group, stops the loops and releases every socket.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		joined, group := b.joined, b.handle.Group
		b.mu.Unlock()

		if joined {
			req := wire.New(wire.ServiceLeave, &b.clock)
			req.Origin = b.id
			req.Group = group
			if _, lerr := b.request(b.cfg.RegistryAddr, req, time.Second); lerr != nil {
				log.Printf("[BUS][WARN] leave: %v", lerr)
			}
		}

		close(b.done)
		b.wg.Wait()

		b.pubMu.Lock()
		for _, s := range []*zmq.Socket{b.pub, b.sub, b.state} {
			if s != nil {
				s.Close()
			}
		}
		b.pub = nil
		b.pubMu.Unlock()

		close(b.events)
		err = b.zctx.Term()
	})
	return err
}

func (b *Bus) emit(ev transport.Event, timeout <-chan time.Time) bool {
	select {
	case b.events <- ev:
		return true
	case <-timeout:
		return false
	case <-b.done:
		return false
	}
}

func (b *Bus) closing() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Bus) subLoop(group string) {
	defer b.wg.Done()

	for !b.closing() {
		parts, err := b.sub.RecvMessageBytes(0)
		if err != nil {
			if !isTimeout(err) {
				log.Println("[SUB][ERROR] recv:", err)
			}
			continue
		}
		if len(parts) < 2 {
			log.Println("[SUB][WARN] short message dropped")
			continue
		}
		// SUB filters by prefix; the group must match exactly.
		if string(parts[0]) != group {
			continue
		}

		env, err := wire.Decode(parts[1])
		if err != nil {
			log.Println("[SUB][ERROR] decode:", err)
			continue
		}
		b.clock.Observe(env.Clock)
		if env.Service != wire.ServiceDeliver {
			log.Printf("[SUB][WARN] unexpected service %q", env.Service)
			continue
		}
		b.emit(transport.Deliver{Sender: env.Origin, Text: env.Text}, nil)
	}
}

func (b *Bus) stateLoop(group string) {
	defer b.wg.Done()

	for !b.closing() {
		raw, err := b.state.RecvBytes(0)
		if err != nil {
			if !isTimeout(err) {
				log.Println("[STATE][ERROR] recv:", err)
			}
			continue
		}

		// a REP socket must always answer
		out, err := wire.Encode(b.serveState(group, raw))
		if err != nil {
			log.Println("[STATE][ERROR]", err)
			out, _ = wire.Encode(wire.Errorf(&b.clock, "encode reply: %v", err))
		}
		if _, err := b.state.SendBytes(out, 0); err != nil {
			log.Println("[STATE][ERROR] send:", err)
		}
	}
}

func (b *Bus) serveState(group string, raw []byte) wire.Envelope {
	req, err := wire.Decode(raw)
	if err != nil {
		return wire.Errorf(&b.clock, "%v", err)
	}
	b.clock.Observe(req.Clock)
	if req.Service != wire.ServiceStateRequest {
		return wire.Errorf(&b.clock, "unknown service %q", req.Service)
	}
	if req.Group != group {
		return wire.Errorf(&b.clock, "not a member of %q", req.Group)
	}

	timer := time.NewTimer(b.cfg.ReplyTimeout)
	defer timer.Stop()

	reply := make(chan []byte, 1)
	if !b.emit(transport.StateRequest{Reply: reply}, timer.C) {
		return wire.Errorf(&b.clock, "%s busy or closing", b.id)
	}

	select {
	case snap := <-reply:
		if snap == nil {
			return wire.Errorf(&b.clock, "%s has no snapshot", b.id)
		}
		env := wire.New(wire.ServiceStateResponse, &b.clock)
		env.Origin = b.id
		env.Group = group
		env.Snapshot = snap
		log.Printf("[STATE] sent snapshot to %s", req.Origin)
		return env
	case <-timer.C:
		return wire.Errorf(&b.clock, "%s timed out building snapshot", b.id)
	case <-b.done:
		return wire.Errorf(&b.clock, "%s closing", b.id)
	}
}

func (b *Bus) heartbeatLoop(group string) {
	defer b.wg.Done()

	t := time.NewTicker(b.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
		}

		req := wire.New(wire.ServiceHeartbeat, &b.clock)
		req.Origin = b.id
		req.Group = group
		b.mu.Lock()
		req.Addr = b.addr
		b.mu.Unlock()
		if _, err := b.request(b.cfg.RegistryAddr, req, b.cfg.RequestTimeout); err != nil {
			log.Println("[REGISTRY][WARN] heartbeat:", err)
		}
	}
}

// request is a one-shot REQ/REP exchange on a short-lived socket.
func (b *Bus) request(addr string, env wire.Envelope, timeout time.Duration) (wire.Envelope, error) {
	sock, err := b.zctx.NewSocket(zmq.REQ)
	if err != nil {
		return wire.Envelope{}, err
	}
	defer sock.Close()
	sock.SetLinger(0)
	if timeout > 0 {
		sock.SetSndtimeo(timeout)
		sock.SetRcvtimeo(timeout)
	}
	if err := sock.Connect(addr); err != nil {
		return wire.Envelope{}, err
	}

	out, err := wire.Encode(env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if _, err := sock.SendBytes(out, 0); err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: send to %s: %v", errNoReply, addr, err)
	}
	raw, err := sock.RecvBytes(0)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: from %s: %v", errNoReply, addr, err)
	}

	rep, err := wire.Decode(raw)
	if err != nil {
		return wire.Envelope{}, err
	}
	b.clock.Observe(rep.Clock)
	return rep, nil
}

func isTimeout(err error) bool {
	return zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN)
}
