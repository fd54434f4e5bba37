// Package latency implements Stage A of the probe pipeline: measuring
// round-trip latency to a candidate endpoint, either by a bare TCP connect
// or an HTTP/HTTPS HEAD request, and extracting the responding
// point-of-presence from the cf-ray header in HTTP modes.
package latency

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/klp2/cfprobe/internal/cidr"
	"github.com/klp2/cfprobe/internal/config"
	"github.com/klp2/cfprobe/internal/httpclient"
	"github.com/klp2/cfprobe/internal/limiter"
	"github.com/klp2/cfprobe/internal/socketbind"
)

// Result is one endpoint's Stage A outcome.
type Result struct {
	Endpoint    cidr.Endpoint
	Sent        int
	Received    int
	LossRate    float64 // 0..1
	MeanDelayMS float64 // rounded to 2 decimals; 0 if Received == 0
	Pop         string  // empty in tcp mode; in http/https mode every received attempt carries one
}

// Prober measures Stage A latency for one endpoint at a time, using a
// shared Limiter to bound the number of endpoints in flight concurrently
// (grounded on internal/rtt.Comparer's sem-bounded measurement loop).
type Prober struct {
	cfg    config.RunConfig
	lim    *limiter.Limiter
	policy socketbind.Policy
}

// New builds a Prober. lim may be nil, in which case probes run
// unthrottled by this package (the caller is expected to gate dispatch
// itself in that case).
func New(cfg config.RunConfig, lim *limiter.Limiter, policy socketbind.Policy) *Prober {
	return &Prober{cfg: cfg, lim: lim, policy: policy}
}

// Probe runs cfg.PingTimes round trips against ep and summarizes them. In
// TCP mode the round trips run sequentially; in HTTP/HTTPS mode they fire
// concurrently, per spec.md §4.4's FuturesUnordered-style dispatch.
func (p *Prober) Probe(ctx context.Context, ep cidr.Endpoint) Result {
	result := Result{Endpoint: ep, Sent: p.cfg.PingTimes}

	var permit *limiter.Permit
	if p.lim != nil {
		var err error
		permit, err = p.lim.Acquire(ctx)
		if err != nil {
			return result
		}
		defer permit.End()
	}

	var delays []float64
	if p.cfg.Mode == config.ModeTCP {
		for i := 0; i < p.cfg.PingTimes; i++ {
			select {
			case <-ctx.Done():
				return finish(result, delays)
			default:
			}

			delay, pop, ok := p.roundTrip(ctx, ep, false)
			if permit != nil {
				permit.RecordProgress()
			}
			if ok {
				result.Received++
				delays = append(delays, delay)
				if pop != "" {
					result.Pop = pop
				}
			}
		}
		return finish(result, delays)
	}

	type outcome struct {
		delay float64
		pop   string
		ok    bool
	}
	outcomes := make(chan outcome, p.cfg.PingTimes)
	for i := 0; i < p.cfg.PingTimes; i++ {
		last := i == p.cfg.PingTimes-1
		go func() {
			delay, pop, ok := p.roundTrip(ctx, ep, last)
			outcomes <- outcome{delay, pop, ok}
		}()
	}
	for i := 0; i < p.cfg.PingTimes; i++ {
		o := <-outcomes
		if permit != nil {
			permit.RecordProgress()
		}
		if o.ok {
			result.Received++
			delays = append(delays, o.delay)
			if o.pop != "" {
				result.Pop = o.pop
			}
		}
	}

	return finish(result, delays)
}

func finish(result Result, delays []float64) Result {
	result.LossRate = lossRate(result.Sent, result.Received)
	result.MeanDelayMS = meanDelay(delays)
	return result
}

// tcpConnectTimeout is the fixed per-attempt connect timeout for TCP mode,
// per spec.md §4.4 — unlike HTTP/HTTPS mode it does not scale with
// MaxDelayMS.
const tcpConnectTimeout = 1 * time.Second

// roundTrip performs one TCP-connect or HTTP(S)-HEAD probe and returns its
// latency in milliseconds, the cf-ray PoP tag, and whether the probe
// succeeded. In HTTP/HTTPS mode, spec.md §9 requires a responding
// point-of-presence to count as a success — a request that completes but
// carries no extractable cf-ray tag is treated as a failed attempt. lastOfBatch
// marks the final concurrently-dispatched request in HTTP/HTTPS mode, which
// carries "Connection: close".
func (p *Prober) roundTrip(ctx context.Context, ep cidr.Endpoint, lastOfBatch bool) (delayMS float64, pop string, ok bool) {
	port := ep.Port(p.cfg.TCPPort)

	if p.cfg.Mode == config.ModeTCP {
		probeCtx, cancel := context.WithTimeout(ctx, tcpConnectTimeout)
		defer cancel()

		dialer := socketbind.New(p.policy, tcpConnectTimeout)
		start := time.Now()
		conn, err := dialer.DialContext(probeCtx, "tcp", ep.HostPort(p.cfg.TCPPort))
		elapsed := time.Since(start)
		if err != nil {
			return 0, "", false
		}
		conn.Close()
		return float64(elapsed.Microseconds()) / 1000.0, "", true
	}

	timeout := p.probeTimeout()
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	useTLS := p.cfg.Mode == config.ModeHTTPS
	client := httpclient.New(httpclient.Config{
		TargetIP:       net.ParseIP(ep.String()),
		Port:           port,
		TLS:            useTLS,
		SourcePolicy:   p.policy,
		DialTimeout:    timeout,
		RequestTimeout: timeout,
	})

	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	url := scheme + "://" + p.cfg.ProbeHost() + p.cfg.ProbePath()

	start := time.Now()
	resp, err := httpclient.Do(probeCtx, client, http.MethodHead, url, 0, lastOfBatch)
	elapsed := time.Since(start)
	if err != nil || resp.StatusCode >= 500 {
		return 0, "", false
	}

	cfRay := resp.Headers.Get("cf-ray")
	if cfRay == "" {
		return 0, "", false
	}
	pop = httpclient.PopTag(cfRay)
	if pop == "" {
		return 0, "", false
	}
	return float64(elapsed.Microseconds()) / 1000.0, pop, true
}

func (p *Prober) probeTimeout() time.Duration {
	if p.cfg.MaxDelayMS > 0 {
		return time.Duration(p.cfg.MaxDelayMS) * time.Millisecond
	}
	return 2 * time.Second
}

func lossRate(sent, received int) float64 {
	if sent == 0 {
		return 0
	}
	return float64(sent-received) / float64(sent)
}

func meanDelay(delays []float64) float64 {
	if len(delays) == 0 {
		return 0
	}
	var sum float64
	for _, d := range delays {
		sum += d
	}
	mean := sum / float64(len(delays))
	return roundTo2(mean)
}

func roundTo2(v float64) float64 {
	scaled := v*100 + 0.5
	return float64(int64(scaled)) / 100
}

// Accept reports whether result passes the configured delay, loss, and PoP
// filters, per spec.md §4.4.
func Accept(cfg config.RunConfig, r Result) bool {
	if r.Received == 0 {
		return false
	}
	if r.MeanDelayMS < float64(cfg.MinDelayMS) || r.MeanDelayMS > float64(cfg.MaxDelayMS) {
		return false
	}
	if r.LossRate > cfg.MaxLoss {
		return false
	}
	if !cfg.AcceptsPop(r.Pop) {
		return false
	}
	return true
}
