// Package wire is the msgpack envelope every groupchat process speaks: chat
// deliveries on the bus, the join-time state exchange, and registry calls.
package wire

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"groupchat/internal/chatlog"
	"groupchat/internal/clock"
)

// Services.
const (
	ServiceDeliver       = "deliver"
	ServiceStateRequest  = "state_request"
	ServiceStateResponse = "state_response"
	ServiceJoin          = "join"
	ServiceHeartbeat     = "heartbeat"
	ServiceList          = "list"
	ServiceLeave         = "leave"
	ServiceError         = "error"
)

var ErrMalformed = errors.New("wire: malformed envelope")

// Member is one entry of a group's membership view.
type Member struct {
	Name string `msgpack:"name"`
	Addr string `msgpack:"addr"`
	Rank int    `msgpack:"rank"`
}

type Envelope struct {
	Service   string   `msgpack:"service"`
	ID        string   `msgpack:"id,omitempty"`
	Origin    string   `msgpack:"origin,omitempty"`
	Group     string   `msgpack:"group,omitempty"`
	Text      string   `msgpack:"text,omitempty"`
	Snapshot  []byte   `msgpack:"snapshot,omitempty"`
	Addr      string   `msgpack:"addr,omitempty"`
	Rank      int      `msgpack:"rank,omitempty"`
	Members   []Member `msgpack:"members,omitempty"`
	Founding  bool     `msgpack:"founding,omitempty"`
	Error     string   `msgpack:"error,omitempty"`
	Timestamp string   `msgpack:"timestamp"`
	Clock     int      `msgpack:"clock"`
}

// New builds an envelope for service with a fresh id, timestamp and a
// ticked Lamport clock.
func New(service string, c *clock.Lamport) Envelope {
	return Envelope{
		Service:   service,
		ID:        uuid.NewString(),
		Timestamp: clock.NowISO(),
		Clock:     c.Tick(),
	}
}

// Errorf builds an error reply.
func Errorf(c *clock.Lamport, format string, args ...interface{}) Envelope {
	env := New(ServiceError, c)
	env.Error = fmt.Sprintf(format, args...)
	return env
}

func Encode(env Envelope) ([]byte, error) {
	raw, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", env.Service, err)
	}
	return raw, nil
}

// Decode parses an envelope. An envelope without a service is rejected.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Service == "" {
		return Envelope{}, fmt.Errorf("%w: missing service", ErrMalformed)
	}
	return env, nil
}

type snapshotLine struct {
	Sender string `msgpack:"sender"`
	Text   string `msgpack:"text"`
}

// EncodeSnapshot serializes a transcript as an ordered array of
// {sender, text} pairs.
func EncodeSnapshot(lines []chatlog.Line) ([]byte, error) {
	out := make([]snapshotLine, len(lines))
	for i, l := range lines {
		out[i] = snapshotLine{Sender: l.Sender(), Text: l.Text()}
	}
	raw, err := msgpack.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("wire: encode snapshot: %w", err)
	}
	return raw, nil
}

func DecodeSnapshot(raw []byte) ([]chatlog.Line, error) {
	var in []snapshotLine
	if err := msgpack.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("wire: decode snapshot: %w", err)
	}
	lines := make([]chatlog.Line, len(in))
	for i, l := range in {
		lines[i] = chatlog.NewLine(l.Sender, l.Text)
	}
	return lines, nil
}
