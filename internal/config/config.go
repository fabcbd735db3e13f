// Package config reads the environment of the groupchat binaries. Values
// may be preloaded from a .env file; variables already set in the process
// environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Node is the chat node configuration.
type Node struct {
	Group string
	User  string

	RegistryAddr string
	BusPubAddr   string
	BusSubAddr   string

	StateBind     string
	AdvertiseHost string

	SyncTimeout       time.Duration
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	ReplyTimeout      time.Duration
}

type Registry struct {
	Bind       string
	MemberTTL  time.Duration
	PruneEvery time.Duration
}

type Bus struct {
	XSubAddr string
	XPubAddr string
}

// LoadEnvFile loads path into the environment. A missing file is fine.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func LoadNode(envFile string) (Node, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return Node{}, err
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}

	n := Node{
		Group:         getenv("CHAT_GROUP", "ChatCluster"),
		User:          getenv("CHAT_USER", getenv("USER", "n/a")),
		RegistryAddr:  getenv("REGISTRY_ADDR", "tcp://localhost:5550"),
		BusPubAddr:    getenv("BUS_PUB_ADDR", "tcp://localhost:5557"),
		BusSubAddr:    getenv("BUS_SUB_ADDR", "tcp://localhost:5558"),
		StateBind:     getenv("STATE_BIND", "tcp://*:*"),
		AdvertiseHost: getenv("ADVERTISE_HOST", host),
	}

	var err error
	if n.SyncTimeout, err = duration("SYNC_TIMEOUT", 10*time.Second); err != nil {
		return Node{}, err
	}
	if n.HeartbeatInterval, err = duration("HEARTBEAT_INTERVAL", 5*time.Second); err != nil {
		return Node{}, err
	}
	if n.RequestTimeout, err = duration("REQUEST_TIMEOUT", 3*time.Second); err != nil {
		return Node{}, err
	}
	if n.ReplyTimeout, err = duration("STATE_REPLY_TIMEOUT", 2*time.Second); err != nil {
		return Node{}, err
	}
	return n, nil
}

func LoadRegistry(envFile string) (Registry, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return Registry{}, err
	}
	r := Registry{Bind: getenv("REGISTRY_BIND", "tcp://*:5550")}

	var err error
	if r.MemberTTL, err = duration("MEMBER_TTL", 15*time.Second); err != nil {
		return Registry{}, err
	}
	if r.PruneEvery, err = duration("PRUNE_INTERVAL", 5*time.Second); err != nil {
		return Registry{}, err
	}
	return r, nil
}

func LoadBus(envFile string) (Bus, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return Bus{}, err
	}
	return Bus{
		XSubAddr: getenv("XSUB_ADDR", "tcp://*:5557"),
		XPubAddr: getenv("XPUB_ADDR", "tcp://*:5558"),
	}, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %s", key, v)
	}
	return d, nil
}
