// Command chatnode joins a chat group, receives the group's transcript and
// then chats on the console until quit, exit or end of input.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"groupchat/internal/chatlog"
	"groupchat/internal/config"
	"groupchat/internal/console"
	"groupchat/internal/coordinator"
	"groupchat/internal/transport/zmqbus"
)

func main() {
	envFile := os.Getenv("CHAT_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := config.LoadNode(envFile)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := zmqbus.New(zmqbus.Config{
		RegistryAddr:      cfg.RegistryAddr,
		PubAddr:           cfg.BusPubAddr,
		SubAddr:           cfg.BusSubAddr,
		StateBind:         cfg.StateBind,
		AdvertiseHost:     cfg.AdvertiseHost,
		HeartbeatInterval: cfg.HeartbeatInterval,
		RequestTimeout:    cfg.RequestTimeout,
		ReplyTimeout:      cfg.ReplyTimeout,
	})
	if err != nil {
		log.Fatal(err)
	}

	h, err := bus.Join(ctx, cfg.Group)
	if err != nil {
		bus.Close()
		log.Fatalf("[MAIN] join %q: %v", cfg.Group, err)
	}

	con := console.New(os.Stdin, os.Stdout)
	coord := coordinator.New(bus, h, chatlog.New(), coordinator.Options{
		User:      cfg.User,
		OnLine:    con.PrintLine,
		OnHistory: con.PrintHistory,
	})

	// deliveries and peers' state requests are served during the join too
	runDone := make(chan error, 1)
	go func() { runDone <- coord.Run(ctx) }()

	if err := coord.RequestState(ctx, cfg.SyncTimeout); err != nil {
		stop()
		bus.Close()
		log.Fatalf("[MAIN] synchronization with %q failed: %v", cfg.Group, err)
	}
	log.Printf("[MAIN] %s is %v in %q as %s", h.ID, coord.State(), cfg.Group, cfg.User)

	if err := con.Run(ctx, coord); err != nil && ctx.Err() == nil {
		log.Println("[MAIN] console:", err)
	}

	stop()
	if err := bus.Close(); err != nil {
		log.Println("[MAIN] close:", err)
	}
	<-runDone
}
