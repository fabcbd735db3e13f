package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var nodeKeys = []string{
	"CHAT_GROUP", "CHAT_USER", "REGISTRY_ADDR", "BUS_PUB_ADDR", "BUS_SUB_ADDR",
	"STATE_BIND", "ADVERTISE_HOST", "SYNC_TIMEOUT", "HEARTBEAT_INTERVAL",
	"REQUEST_TIMEOUT", "STATE_REPLY_TIMEOUT",
}

// unset clears keys for the duration of the test, including values a
// .env file loads.
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, ok := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if ok {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestNodeDefaults(t *testing.T) {
	unset(t, nodeKeys...)
	t.Setenv("USER", "alice")

	n, err := LoadNode("")
	if err != nil {
		t.Fatal(err)
	}
	if n.Group != "ChatCluster" || n.User != "alice" {
		t.Fatalf("group/user = %q/%q", n.Group, n.User)
	}
	if n.SyncTimeout != 10*time.Second || n.HeartbeatInterval != 5*time.Second {
		t.Fatalf("timeouts = %v/%v", n.SyncTimeout, n.HeartbeatInterval)
	}
	if n.StateBind != "tcp://*:*" || n.RegistryAddr != "tcp://localhost:5550" {
		t.Fatalf("addrs = %q %q", n.StateBind, n.RegistryAddr)
	}
}

func TestNodeOverrides(t *testing.T) {
	unset(t, nodeKeys...)
	t.Setenv("CHAT_GROUP", "ops")
	t.Setenv("CHAT_USER", "bob")
	t.Setenv("SYNC_TIMEOUT", "250ms")

	n, err := LoadNode("")
	if err != nil {
		t.Fatal(err)
	}
	if n.Group != "ops" || n.User != "bob" || n.SyncTimeout != 250*time.Millisecond {
		t.Fatalf("got %+v", n)
	}
}

func TestNodeBadDuration(t *testing.T) {
	for _, v := range []string{"soon", "-1s", "0s"} {
		t.Run(v, func(t *testing.T) {
			unset(t, nodeKeys...)
			t.Setenv("SYNC_TIMEOUT", v)
			if _, err := LoadNode(""); err == nil {
				t.Fatalf("SYNC_TIMEOUT=%s accepted", v)
			}
		})
	}
}

func TestEnvFile(t *testing.T) {
	unset(t, nodeKeys...)
	t.Setenv("CHAT_USER", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	data := "CHAT_GROUP=filegroup\nCHAT_USER=from-file\nHEARTBEAT_INTERVAL=1s\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := LoadNode(path)
	if err != nil {
		t.Fatal(err)
	}
	if n.Group != "filegroup" || n.HeartbeatInterval != time.Second {
		t.Fatalf("file values not loaded: %+v", n)
	}
	if n.User != "from-env" {
		t.Fatalf("env did not win over file: %q", n.User)
	}
}

func TestMissingEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryAndBus(t *testing.T) {
	unset(t, "REGISTRY_BIND", "MEMBER_TTL", "PRUNE_INTERVAL", "XSUB_ADDR", "XPUB_ADDR")
	t.Setenv("MEMBER_TTL", "30s")

	r, err := LoadRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	if r.Bind != "tcp://*:5550" || r.MemberTTL != 30*time.Second || r.PruneEvery != 5*time.Second {
		t.Fatalf("registry = %+v", r)
	}

	b, err := LoadBus("")
	if err != nil {
		t.Fatal(err)
	}
	if b.XSubAddr != "tcp://*:5557" || b.XPubAddr != "tcp://*:5558" {
		t.Fatalf("bus = %+v", b)
	}
}
