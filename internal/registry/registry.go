// Package registry tracks group membership for chat nodes: it hands out
// join ranks, answers who else is in a group, and forgets members that stop
// sending heartbeats.
package registry

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"groupchat/internal/clock"
	"groupchat/internal/wire"
)

type member struct {
	wire.Member
	lastSeen time.Time
}

type Registry struct {
	mu       sync.Mutex
	groups   map[string]map[string]*member
	nextRank int
	ttl      time.Duration
	clock    clock.Lamport

	now func() time.Time
}

// New returns a registry that drops members silent for longer than ttl.
func New(ttl time.Duration) *Registry {
	return &Registry{
		groups:   map[string]map[string]*member{},
		nextRank: 1,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Handle answers one registry request.
func (r *Registry) Handle(req wire.Envelope) wire.Envelope {
	r.clock.Observe(req.Clock)

	if req.Group == "" {
		return wire.Errorf(&r.clock, "missing group")
	}
	if req.Service != wire.ServiceList && req.Origin == "" {
		return wire.Errorf(&r.clock, "missing origin")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch req.Service {
	case wire.ServiceJoin:
		others := r.membersLocked(req.Group, req.Origin)
		m := r.touchLocked(req.Group, req.Origin, req.Addr)
		resp := wire.New(wire.ServiceJoin, &r.clock)
		resp.Group = req.Group
		resp.Rank = m.Rank
		resp.Members = others
		resp.Founding = len(others) == 0
		log.Printf("[REGISTRY] %s joined %q rank=%d founding=%v", req.Origin, req.Group, m.Rank, resp.Founding)
		return resp

	case wire.ServiceHeartbeat:
		m := r.touchLocked(req.Group, req.Origin, req.Addr)
		resp := wire.New(wire.ServiceHeartbeat, &r.clock)
		resp.Group = req.Group
		resp.Rank = m.Rank
		return resp

	case wire.ServiceList:
		resp := wire.New(wire.ServiceList, &r.clock)
		resp.Group = req.Group
		resp.Members = r.membersLocked(req.Group, "")
		return resp

	case wire.ServiceLeave:
		if g := r.groups[req.Group]; g != nil {
			delete(g, req.Origin)
			if len(g) == 0 {
				delete(r.groups, req.Group)
			}
			log.Printf("[REGISTRY] %s left %q", req.Origin, req.Group)
		}
		resp := wire.New(wire.ServiceLeave, &r.clock)
		resp.Group = req.Group
		return resp
	}
	return wire.Errorf(&r.clock, "unknown service %q", req.Service)
}

// touchLocked refreshes a member, registering it with the next rank if it
// is unknown.
func (r *Registry) touchLocked(group, name, addr string) *member {
	g := r.groups[group]
	if g == nil {
		g = map[string]*member{}
		r.groups[group] = g
	}
	m, ok := g[name]
	if !ok {
		m = &member{Member: wire.Member{Name: name, Rank: r.nextRank}}
		r.nextRank++
		g[name] = m
	}
	if addr != "" {
		m.Addr = addr
	}
	m.lastSeen = r.now()
	return m
}

func (r *Registry) membersLocked(group, except string) []wire.Member {
	out := []wire.Member{}
	for name, m := range r.groups[group] {
		if name != except {
			out = append(out, m.Member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Members lists group by rank.
func (r *Registry) Members(group string) []wire.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked(group, "")
}

// Prune drops members not seen since now-ttl and returns their names.
func (r *Registry) Prune(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []string
	for group, g := range r.groups {
		for name, m := range g {
			if now.Sub(m.lastSeen) > r.ttl {
				log.Printf("[REGISTRY] removing inactive member %s of %q", name, group)
				delete(g, name)
				dropped = append(dropped, name)
			}
		}
		if len(g) == 0 {
			delete(r.groups, group)
		}
	}
	sort.Strings(dropped)
	return dropped
}

func (r *Registry) PruneLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.Prune(now)
		}
	}
}
