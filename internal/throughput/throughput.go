// Package throughput implements Stage B of the probe pipeline: measuring
// sustained download speed against a Stage-A-accepted endpoint by fetching
// a large object directly from its IP, discarding an initial warm-up
// window before computing the reported rate.
//
// Grounded on the teacher's internal/speedtest.Tester (testDownload,
// progressReader) and, for the warm-up-exclusion shape specifically, the
// CloudflareSpeedTest-alike MeasureThroughput in the example pack's
// ekobres-NetworkOptimizer cfspeedtest/throughput.go.
package throughput

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/klp2/cfprobe/internal/cidr"
	"github.com/klp2/cfprobe/internal/config"
	"github.com/klp2/cfprobe/internal/httpclient"
	"github.com/klp2/cfprobe/internal/socketbind"
)

const (
	// warmup is excluded from the final rate so TCP slow-start and TLS
	// handshake overhead don't bias the measured speed downward.
	warmup = 3 * time.Second
	// ewmaWindow is the live-display smoothing window; it never feeds the
	// final reported result, only a progress callback.
	ewmaWindow = 500 * time.Millisecond
)

// Result is one endpoint's Stage B outcome.
type Result struct {
	Endpoint       cidr.Endpoint
	BytesPerSec    float64
	Pop            string
	BytesRead      int64
	ElapsedAfterWU time.Duration
}

// Sample is a live progress observation, emitted at roughly ewmaWindow
// cadence while a download is in flight. It is for display only.
type Sample struct {
	Endpoint       cidr.Endpoint
	SmoothedBytesS float64
}

// Prober measures Stage B throughput, round-robining across the
// configured candidate URLs so repeated runs spread load across origins.
type Prober struct {
	cfg      config.RunConfig
	policy   socketbind.Policy
	urlIndex uint64
	onSample func(Sample)
}

// New builds a Prober. onSample may be nil.
func New(cfg config.RunConfig, policy socketbind.Policy, onSample func(Sample)) *Prober {
	return &Prober{cfg: cfg, policy: policy, onSample: onSample}
}

func (p *Prober) nextURL() string {
	urls := p.cfg.DownloadURLs
	if len(urls) == 0 {
		return p.cfg.ProbeURL
	}
	i := atomic.AddUint64(&p.urlIndex, 1) - 1
	return urls[int(i%uint64(len(urls)))]
}

// dialTimeout bounds only the connection attempt — the overall budget for
// the transfer itself is warmup+cfg.DownloadWindow, enforced via windowCtx
// below, not via http.Client.Timeout (which would cut the body stream off
// too early).
const dialTimeout = 5 * time.Second

// Measure downloads from one candidate URL against ep for up to
// warmup+cfg.DownloadWindow (spec.md §4.6 step 1), discarding the warmup
// window from the final rate. knownPop is the point-of-presence tag Stage A
// already observed for ep, if any; when set, it is trusted instead of
// re-extracting cf-ray from this response. If no PoP can be established
// either way, the endpoint is aborted with a null (zero) Result, per
// spec.md §4.6 step 3.
func (p *Prober) Measure(ctx context.Context, ep cidr.Endpoint, knownPop string) Result {
	result := Result{Endpoint: ep}

	target := p.nextURL()
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return Result{}
	}

	port := ep.Port(p.cfg.TCPPort)
	useTLS := u.Scheme == "https"

	client := httpclient.New(httpclient.Config{
		TargetIP:     net.ParseIP(ep.String()),
		Port:         port,
		TLS:          useTLS,
		SourcePolicy: p.policy,
		DialTimeout:  dialTimeout,
	})

	windowCtx, cancel := context.WithTimeout(ctx, warmup+p.cfg.DownloadWindow)
	defer cancel()

	req, err := http.NewRequestWithContext(windowCtx, http.MethodGet, target, nil)
	if err != nil {
		return Result{}
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return Result{}
	}
	defer resp.Body.Close()

	if knownPop != "" {
		result.Pop = knownPop
	} else if cfRay := resp.Header.Get("cf-ray"); cfRay != "" {
		result.Pop = httpclient.PopTag(cfRay)
	}
	if result.Pop == "" {
		return Result{}
	}

	bytesRead, postWarmupBytes, postWarmupElapsed := p.readWindow(windowCtx, ep, resp.Body)
	result.BytesRead = bytesRead
	result.ElapsedAfterWU = postWarmupElapsed

	if postWarmupElapsed > 0 {
		result.BytesPerSec = float64(postWarmupBytes) / postWarmupElapsed.Seconds()
	}
	return result
}

// readWindow reads from body until ctx is done or EOF, tracking total bytes
// read and the subset read after the warm-up window, and emits smoothed
// live samples via p.onSample at roughly ewmaWindow cadence.
func (p *Prober) readWindow(ctx context.Context, ep cidr.Endpoint, body io.Reader) (total, postWarmup int64, postWarmupElapsed time.Duration) {
	buf := make([]byte, 32*1024)
	start := time.Now()
	warmupEnd := start.Add(warmup)

	var postWarmupStart time.Time
	var warmedUp bool

	var ewma float64
	lastSample := start
	var sinceLastSample int64

	for {
		select {
		case <-ctx.Done():
			return total, postWarmup, postWarmupElapsedSoFar(warmedUp, postWarmupStart)
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			total += int64(n)
			sinceLastSample += int64(n)
			now := time.Now()

			if !warmedUp && now.After(warmupEnd) {
				warmedUp = true
				postWarmupStart = now
			}
			if warmedUp {
				postWarmup += int64(n)
			}

			if elapsed := now.Sub(lastSample); elapsed >= ewmaWindow {
				instant := float64(sinceLastSample) / elapsed.Seconds()
				if ewma == 0 {
					ewma = instant
				} else {
					// 500ms-window EWMA smoothing for the live progress
					// display only; the returned Result never uses this.
					const alpha = 0.3
					ewma = alpha*instant + (1-alpha)*ewma
				}
				if p.onSample != nil {
					p.onSample(Sample{Endpoint: ep, SmoothedBytesS: ewma})
				}
				lastSample = now
				sinceLastSample = 0
			}
		}
		if err != nil {
			break
		}
	}

	return total, postWarmup, postWarmupElapsedSoFar(warmedUp, postWarmupStart)
}

func postWarmupElapsedSoFar(warmedUp bool, postWarmupStart time.Time) time.Duration {
	if !warmedUp {
		return 0
	}
	return time.Since(postWarmupStart)
}

// Accept reports whether result clears the configured minimum speed and
// PoP filters, per spec.md §4.5.
func Accept(cfg config.RunConfig, r Result) bool {
	if r.BytesPerSec < cfg.MinSpeedBytesPerSec {
		return false
	}
	if !cfg.AcceptsPop(r.Pop) {
		return false
	}
	return true
}
