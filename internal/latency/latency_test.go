package latency

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/klp2/cfprobe/internal/cidr"
	"github.com/klp2/cfprobe/internal/config"
	"github.com/klp2/cfprobe/internal/socketbind"
)

func socketbindPolicyNoop() socketbind.Policy {
	return socketbind.Policy{}
}

func mustEndpoint(t *testing.T, text string) cidr.Endpoint {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Default()
	for ep := range cidr.Expand(ctx, text, cfg) {
		return ep
	}
	t.Fatalf("no endpoint produced from %q", text)
	return cidr.Endpoint{}
}

func TestProbeTCPModeSucceedsAgainstLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.Default()
	cfg.Mode = config.ModeTCP
	cfg.TCPPort = port
	cfg.PingTimes = 3

	ep := mustEndpoint(t, "127.0.0.1/32")
	p := New(cfg, nil, socketbindPolicyNoop())

	result := p.Probe(context.Background(), ep)
	if result.Sent != 3 {
		t.Errorf("Sent = %d, want 3", result.Sent)
	}
	if result.Received != 3 {
		t.Errorf("Received = %d, want 3", result.Received)
	}
	if result.LossRate != 0 {
		t.Errorf("LossRate = %v, want 0", result.LossRate)
	}
	if result.MeanDelayMS <= 0 {
		t.Error("MeanDelayMS should be positive for a successful probe")
	}
}

func TestProbeTCPModeAllFailClosedPort(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeTCP
	cfg.PingTimes = 2
	cfg.MaxDelayMS = 50 // irrelevant to TCP mode's fixed 1s connect timeout, but harmless
	cfg.TCPPort = 1     // nothing listens on port 1; connection refused returns immediately

	ep := mustEndpoint(t, "127.0.0.1/32")
	p := New(cfg, nil, socketbindPolicyNoop())

	result := p.Probe(context.Background(), ep)
	if result.Received != 0 {
		t.Errorf("Received = %d, want 0", result.Received)
	}
	if result.LossRate != 1 {
		t.Errorf("LossRate = %v, want 1", result.LossRate)
	}
}

func TestProbeHTTPModeExtractsPopTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("cf-ray", "8899aabbccddeeff-DFW")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.Default()
	cfg.Mode = config.ModeHTTP
	cfg.PingTimes = 1
	cfg.ProbeURL = "http://probe.example/"
	cfg.TCPPort = port

	ep := mustEndpoint(t, host+"/32")
	p := New(cfg, nil, socketbindPolicyNoop())

	result := p.Probe(context.Background(), ep)
	if result.Received != 1 {
		t.Fatalf("Received = %d, want 1", result.Received)
	}
	if result.Pop != "DFW" {
		t.Errorf("Pop = %q, want DFW", result.Pop)
	}
}

func TestProbeHTTPModeDropsResponseWithoutPop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // no cf-ray header
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.Default()
	cfg.Mode = config.ModeHTTP
	cfg.PingTimes = 2
	cfg.ProbeURL = "http://probe.example/"
	cfg.TCPPort = port

	ep := mustEndpoint(t, host+"/32")
	p := New(cfg, nil, socketbindPolicyNoop())

	result := p.Probe(context.Background(), ep)
	if result.Received != 0 {
		t.Errorf("Received = %d, want 0 (no extractable PoP on any attempt)", result.Received)
	}
}

func TestAcceptFiltersOnDelayLossAndPop(t *testing.T) {
	cfg := config.Default()
	cfg.MinDelayMS = 10
	cfg.MaxDelayMS = 100
	cfg.MaxLoss = 0.5
	cfg.PopFilter = config.NewPopFilter([]string{"SJC"})

	tests := []struct {
		name string
		r    Result
		want bool
	}{
		{"no successes", Result{Received: 0}, false},
		{"too fast", Result{Received: 1, MeanDelayMS: 5, LossRate: 0}, false},
		{"too slow", Result{Received: 1, MeanDelayMS: 500, LossRate: 0}, false},
		{"too lossy", Result{Received: 1, MeanDelayMS: 50, LossRate: 0.9}, false},
		{"wrong pop", Result{Received: 1, MeanDelayMS: 50, LossRate: 0, Pop: "LAX"}, false},
		{"no pop observed rejected when filter set", Result{Received: 1, MeanDelayMS: 50, LossRate: 0}, false},
		{"accepted", Result{Received: 1, MeanDelayMS: 50, LossRate: 0, Pop: "sjc"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accept(cfg, tt.r); got != tt.want {
				t.Errorf("Accept() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeanDelayRoundsToTwoDecimals(t *testing.T) {
	got := meanDelay([]float64{1.004, 1.006})
	if got != 1.0 && got != 1.01 {
		t.Errorf("meanDelay = %v, want ~1.0 or 1.01", got)
	}
}

func TestLossRate(t *testing.T) {
	if lossRate(0, 0) != 0 {
		t.Error("lossRate(0,0) should be 0")
	}
	if got := lossRate(4, 2); got != 0.5 {
		t.Errorf("lossRate(4,2) = %v, want 0.5", got)
	}
}
