// Command registry serves group membership to chat nodes.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	zmq "github.com/pebbe/zmq4"

	"groupchat/internal/config"
	"groupchat/internal/registry"
)

func main() {
	cfg, err := config.LoadRegistry(os.Getenv("CHAT_ENV_FILE"))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zctx, err := zmq.NewContext()
	if err != nil {
		log.Fatal("[REGISTRY] context:", err)
	}
	defer zctx.Term()

	rep, err := zctx.NewSocket(zmq.REP)
	if err != nil {
		log.Fatal("[REGISTRY] socket:", err)
	}
	defer rep.Close()
	rep.SetLinger(0)
	if err := rep.Bind(cfg.Bind); err != nil {
		log.Fatalf("[REGISTRY] bind %s: %v", cfg.Bind, err)
	}
	log.Printf("[REGISTRY] listening on %s (member ttl %s)", cfg.Bind, cfg.MemberTTL)

	reg := registry.New(cfg.MemberTTL)
	go reg.PruneLoop(ctx, cfg.PruneEvery)

	if err := registry.Serve(ctx, rep, reg); err != nil && ctx.Err() == nil {
		log.Println("[REGISTRY]", err)
	}
	log.Println("[REGISTRY] stopped")
}
