package registry

import (
	"context"
	"log"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"groupchat/internal/wire"
)

// Serve answers registry requests on a bound REP socket until ctx is done.
// Every request gets a reply, an undecodable one included.
func Serve(ctx context.Context, sock *zmq.Socket, r *Registry) error {
	if err := sock.SetRcvtimeo(250 * time.Millisecond); err != nil {
		return err
	}

	for ctx.Err() == nil {
		raw, err := sock.RecvBytes(0)
		if err != nil {
			if zmq.AsErrno(err) != zmq.Errno(syscall.EAGAIN) {
				log.Println("[REGISTRY][ERROR] recv:", err)
			}
			continue
		}

		var resp wire.Envelope
		if req, err := wire.Decode(raw); err != nil {
			log.Println("[REGISTRY][ERROR] decode:", err)
			resp = wire.Errorf(&r.clock, "%v", err)
		} else {
			resp = r.Handle(req)
		}

		out, err := wire.Encode(resp)
		if err != nil {
			log.Println("[REGISTRY][ERROR]", err)
			out, _ = wire.Encode(wire.Errorf(&r.clock, "encode reply"))
		}
		if _, err := sock.SendBytes(out, 0); err != nil {
			log.Println("[REGISTRY][ERROR] send:", err)
		}
	}
	return ctx.Err()
}
