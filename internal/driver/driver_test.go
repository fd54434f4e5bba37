package driver

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/klp2/cfprobe/internal/cidr"
	"github.com/klp2/cfprobe/internal/config"
	"github.com/klp2/cfprobe/internal/latency"
	"github.com/klp2/cfprobe/internal/socketbind"
)

func endpoints(t *testing.T, text string, cfg config.RunConfig) <-chan cidr.Endpoint {
	t.Helper()
	return cidr.Expand(context.Background(), text, cfg)
}

func TestRunStageAAcceptsReachableEndpoint(t *testing.T) {
	var listeners []net.Listener
	for i := 0; i < 3; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		listeners = append(listeners, ln)
		go func(l net.Listener) {
			for {
				c, err := l.Accept()
				if err != nil {
					return
				}
				c.Close()
			}
		}(ln)
		defer ln.Close()
	}

	cfg := config.Default()
	cfg.Mode = config.ModeTCP
	cfg.PingTimes = 1
	cfg.MaxThreads = 32
	cfg.MaxDelayMS = 5000

	_, port0, _ := net.SplitHostPort(listeners[0].Addr().String())
	port, err := strconv.Atoi(port0)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	cfg.TCPPort = port

	prober := latency.New(cfg, nil, socketbind.Policy{})
	d := New(cfg, prober, nil)

	eps := endpoints(t, "127.0.0.1/32", cfg)
	results := d.RunStageA(context.Background(), eps)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestRunStageARespectsCancellation(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeTCP
	cfg.PingTimes = 1
	cfg.MaxThreads = 8
	cfg.MaxDelayMS = 200
	cfg.TCPPort = 1 // closed port, every probe fails quickly

	prober := latency.New(cfg, nil, socketbind.Policy{})
	d := New(cfg, prober, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eps := endpoints(t, "10.0.0.0/24", cfg)
	done := make(chan []latency.Result, 1)
	go func() { done <- d.RunStageA(ctx, eps) }()

	select {
	case results := <-done:
		if len(results) != 0 {
			t.Errorf("got %d results after cancellation, want 0", len(results))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunStageA did not return promptly after cancellation")
	}
}
