package chatwire

import (
	"testing"
	"time"
)

func TestServerLifecycle(t *testing.T) {
	server := NewServer(&ServerOptions{ServerAddr: "127.0.0.1:0"})

	if server.IsRunning() {
		t.Error("expected server not running before start")
	}
	if err := server.Stop(time.Second); err != nil {
		t.Errorf("expected stop of idle server to be a no-op, got %v", err)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, server.IsRunning) {
		t.Fatal("expected server running after start")
	}
	if err := server.Start(); err == nil {
		t.Error("expected error starting a running server")
	}

	if server.Gateway() == nil || server.Coordinator() == nil {
		t.Error("expected gateway and coordinator accessors")
	}

	if err := server.Stop(2 * time.Second); err != nil {
		t.Errorf("stop failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return !server.IsRunning() }) {
		t.Error("expected server stopped")
	}
}
