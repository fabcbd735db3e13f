package registry

import (
	"testing"
	"time"

	"groupchat/internal/wire"
)

func req(service, group, origin, addr string) wire.Envelope {
	return wire.Envelope{Service: service, Group: group, Origin: origin, Addr: addr}
}

func TestJoin(t *testing.T) {
	r := New(time.Minute)

	a := r.Handle(req(wire.ServiceJoin, "chat", "a", "tcp://a:1"))
	if a.Service != wire.ServiceJoin || !a.Founding || a.Rank != 1 || len(a.Members) != 0 {
		t.Fatalf("first join: %+v", a)
	}

	b := r.Handle(req(wire.ServiceJoin, "chat", "b", "tcp://b:1"))
	if b.Founding || b.Rank != 2 {
		t.Fatalf("second join: %+v", b)
	}
	if len(b.Members) != 1 || b.Members[0] != (wire.Member{Name: "a", Addr: "tcp://a:1", Rank: 1}) {
		t.Fatalf("second join members: %+v", b.Members)
	}

	// groups are independent; ranks are global
	c := r.Handle(req(wire.ServiceJoin, "other", "c", "tcp://c:1"))
	if !c.Founding || c.Rank != 3 {
		t.Fatalf("other group: %+v", c)
	}

	again := r.Handle(req(wire.ServiceJoin, "chat", "a", "tcp://a:2"))
	if again.Rank != 1 || again.Founding {
		t.Fatalf("rejoin: %+v", again)
	}
	if got := r.Members("chat"); got[0].Addr != "tcp://a:2" {
		t.Fatalf("rejoin did not refresh addr: %+v", got)
	}
}

func TestListLeave(t *testing.T) {
	r := New(time.Minute)
	r.Handle(req(wire.ServiceJoin, "chat", "b", "tcp://b:1"))
	r.Handle(req(wire.ServiceJoin, "chat", "a", "tcp://a:1"))

	list := r.Handle(req(wire.ServiceList, "chat", "", ""))
	if len(list.Members) != 2 || list.Members[0].Name != "b" || list.Members[1].Name != "a" {
		t.Fatalf("list not ordered by rank: %+v", list.Members)
	}

	r.Handle(req(wire.ServiceLeave, "chat", "b", ""))
	list = r.Handle(req(wire.ServiceList, "chat", "", ""))
	if len(list.Members) != 1 || list.Members[0].Name != "a" {
		t.Fatalf("after leave: %+v", list.Members)
	}

	r.Handle(req(wire.ServiceLeave, "chat", "a", ""))
	j := r.Handle(req(wire.ServiceJoin, "chat", "c", ""))
	if !j.Founding {
		t.Fatal("join into emptied group is not founding")
	}
}

func TestHeartbeatRegistersUnknown(t *testing.T) {
	r := New(time.Minute)
	hb := r.Handle(req(wire.ServiceHeartbeat, "chat", "a", "tcp://a:1"))
	if hb.Service != wire.ServiceHeartbeat || hb.Rank != 1 {
		t.Fatalf("heartbeat: %+v", hb)
	}
	if got := r.Members("chat"); len(got) != 1 || got[0].Addr != "tcp://a:1" {
		t.Fatalf("members: %+v", got)
	}
}

func TestPrune(t *testing.T) {
	r := New(15 * time.Second)
	base := time.Unix(1000, 0)
	now := base
	r.now = func() time.Time { return now }

	r.Handle(req(wire.ServiceJoin, "chat", "a", ""))
	now = base.Add(10 * time.Second)
	r.Handle(req(wire.ServiceJoin, "chat", "b", ""))

	if got := r.Prune(base.Add(20 * time.Second)); len(got) != 1 || got[0] != "a" {
		t.Fatalf("pruned %v", got)
	}
	if got := r.Members("chat"); len(got) != 1 || got[0].Name != "b" {
		t.Fatalf("members: %+v", got)
	}
	if got := r.Prune(base.Add(time.Minute)); len(got) != 1 {
		t.Fatalf("pruned %v", got)
	}
	if len(r.groups) != 0 {
		t.Fatalf("empty group kept: %v", r.groups)
	}
}

func TestHandleErrors(t *testing.T) {
	r := New(time.Minute)
	tests := []struct {
		name string
		req  wire.Envelope
	}{
		{"missing group", req(wire.ServiceJoin, "", "a", "")},
		{"missing origin", req(wire.ServiceJoin, "chat", "", "")},
		{"unknown service", req("rank", "chat", "a", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := r.Handle(tt.req)
			if resp.Service != wire.ServiceError || resp.Error == "" {
				t.Fatalf("got %+v", resp)
			}
		})
	}
}

func TestClockAdvances(t *testing.T) {
	r := New(time.Minute)
	resp := r.Handle(wire.Envelope{Service: wire.ServiceList, Group: "chat", Clock: 41})
	if resp.Clock != 43 {
		t.Fatalf("clock = %d, want 43", resp.Clock)
	}
}
