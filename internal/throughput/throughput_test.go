package throughput

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/klp2/cfprobe/internal/cidr"
	"github.com/klp2/cfprobe/internal/config"
	"github.com/klp2/cfprobe/internal/socketbind"
)

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

func TestMeasureBelowWarmupYieldsZeroRate(t *testing.T) {
	payload := make([]byte, 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("cf-ray", "112233445566-ORD")
		w.Write(payload)
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.Default()
	cfg.DownloadWindow = 200 * time.Millisecond // shorter than the 3s warmup
	cfg.DownloadURLs = []string{srv.URL}
	cfg.TCPPort = port

	ep := mustEndpoint(t, host+"/32")
	p := New(cfg, socketbind.Policy{}, nil)

	result := p.Measure(context.Background(), ep, "")
	if result.BytesPerSec != 0 {
		t.Errorf("BytesPerSec = %v, want 0 (transfer never outlasts the warmup)", result.BytesPerSec)
	}
}

func TestMeasureAbortsWithoutAnyPop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) // no cf-ray header
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.Default()
	cfg.DownloadWindow = 500 * time.Millisecond
	cfg.DownloadURLs = []string{srv.URL}
	cfg.TCPPort = port

	ep := mustEndpoint(t, host+"/32")
	p := New(cfg, socketbind.Policy{}, nil)

	result := p.Measure(context.Background(), ep, "")
	if result != (Result{}) {
		t.Errorf("Measure() = %+v, want a null (zero) Result when no PoP can be established", result)
	}
}

func TestMeasureTrustsKnownPopOverReextraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) // deliberately no cf-ray header
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.Default()
	cfg.DownloadWindow = 500 * time.Millisecond
	cfg.DownloadURLs = []string{srv.URL}
	cfg.TCPPort = port

	ep := mustEndpoint(t, host+"/32")
	p := New(cfg, socketbind.Policy{}, nil)

	result := p.Measure(context.Background(), ep, "SJC")
	if result.Pop != "SJC" {
		t.Errorf("Pop = %q, want SJC (the Stage A-known tag)", result.Pop)
	}
}

func TestMeasureExtractsPopTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("cf-ray", "112233445566-ORD")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.Default()
	cfg.DownloadWindow = 500 * time.Millisecond
	cfg.DownloadURLs = []string{srv.URL}
	cfg.TCPPort = port

	ep := mustEndpoint(t, host+"/32")
	p := New(cfg, socketbind.Policy{}, nil)

	result := p.Measure(context.Background(), ep, "")
	if result.Pop != "ORD" {
		t.Errorf("Pop = %q, want ORD", result.Pop)
	}
}

func TestNextURLRoundRobins(t *testing.T) {
	cfg := config.Default()
	cfg.DownloadURLs = []string{"https://a.example/", "https://b.example/", "https://c.example/"}
	p := New(cfg, socketbind.Policy{}, nil)

	got := []string{p.nextURL(), p.nextURL(), p.nextURL(), p.nextURL()}
	want := []string{"https://a.example/", "https://b.example/", "https://c.example/", "https://a.example/"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("nextURL()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAcceptFiltersOnMinSpeedAndPop(t *testing.T) {
	cfg := config.Default()
	cfg.MinSpeedBytesPerSec = 1000
	cfg.PopFilter = config.NewPopFilter([]string{"ORD"})

	tests := []struct {
		name string
		r    Result
		want bool
	}{
		{"too slow", Result{BytesPerSec: 500}, false},
		{"wrong pop", Result{BytesPerSec: 2000, Pop: "LAX"}, false},
		{"accepted", Result{BytesPerSec: 2000, Pop: "ord"}, true},
		{"no pop observed rejected when filter set", Result{BytesPerSec: 2000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accept(cfg, tt.r); got != tt.want {
				t.Errorf("Accept() = %v, want %v", got, tt.want)
			}
		})
	}
}
