// Command bus is the group multicast forwarder: chat nodes publish to its
// XSUB side and subscribe to its XPUB side.
package main

import (
	"log"
	"os"

	zmq "github.com/pebbe/zmq4"

	"groupchat/internal/config"
)

func main() {
	cfg, err := config.LoadBus(os.Getenv("CHAT_ENV_FILE"))
	if err != nil {
		log.Fatal(err)
	}

	log.Println("[BUS] starting")
	log.Printf("[BUS] XSUB (nodes publish) %s", cfg.XSubAddr)
	log.Printf("[BUS] XPUB (nodes subscribe) %s", cfg.XPubAddr)

	ctx, err := zmq.NewContext()
	if err != nil {
		log.Fatal("[BUS] context:", err)
	}
	defer ctx.Term()

	xsub, err := ctx.NewSocket(zmq.XSUB)
	if err != nil {
		log.Fatal("[BUS] XSUB:", err)
	}
	defer xsub.Close()
	if err := xsub.Bind(cfg.XSubAddr); err != nil {
		log.Fatal("[BUS] bind XSUB:", err)
	}

	xpub, err := ctx.NewSocket(zmq.XPUB)
	if err != nil {
		log.Fatal("[BUS] XPUB:", err)
	}
	defer xpub.Close()
	if err := xpub.Bind(cfg.XPubAddr); err != nil {
		log.Fatal("[BUS] bind XPUB:", err)
	}

	// zmq.Proxy forwards subscriptions upstream and messages downstream
	if err := zmq.Proxy(xsub, xpub, nil); err != nil {
		log.Println("[BUS] proxy stopped:", err)
	}
}
