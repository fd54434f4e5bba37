// Package config defines the immutable run configuration threaded through
// every component of the probe pipeline.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Mode selects the Stage A latency probing protocol.
type Mode string

const (
	ModeTCP   Mode = "tcp"
	ModeHTTP  Mode = "http"
	ModeHTTPS Mode = "https"
)

// IPv6Mode names a preset selection cardinality for IPv6 CIDR expansion.
type IPv6Mode string

const (
	IPv6Mode256    IPv6Mode = "small"
	IPv6Mode4096   IPv6Mode = "medium"
	IPv6Mode65536  IPv6Mode = "large"
	IPv6Mode262144 IPv6Mode = "huge"
)

// ipv6ModeCardinality maps a named mode to its default selection count.
var ipv6ModeCardinality = map[IPv6Mode]int64{
	IPv6Mode256:    256,
	IPv6Mode4096:   4096,
	IPv6Mode65536:  65536,
	IPv6Mode262144: 262144,
}

// CardinalityFor returns the default host count for a named IPv6 mode, or
// the "medium" default if the mode is empty or unrecognized.
func (m IPv6Mode) CardinalityFor() int64 {
	if c, ok := ipv6ModeCardinality[m]; ok {
		return c
	}
	return ipv6ModeCardinality[IPv6Mode4096]
}

// RunConfig is the immutable configuration for one run of the pipeline.
// It is constructed once at the command boundary and never mutated after
// that — every component receives a copy or a pointer-to-const view.
type RunConfig struct {
	PingTimes     int           // Stage A attempts per endpoint (-t)
	TestCount     int           // target Stage B survivor count (-dn)
	DownloadWindow time.Duration // per-endpoint Stage B window (-dt)
	TCPPort       int           // default port (-tp)
	Mode          Mode          // tcp | http | https

	MaxDelayMS float64 // Stage A upper delay bound (-tl)
	MinDelayMS float64 // Stage A lower delay bound (-tll)
	MaxLoss    float64 // Stage A max loss rate, 0..1 (-tlr)

	MinSpeedBytesPerSec float64 // Stage B lower bound, bytes/sec (-sl, given in MB/s)

	PopFilter map[string]struct{} // case-insensitive accepted POP tags (-colo)

	MaxThreads int // concurrency ceiling (-n)

	GlobalTimeout time.Duration // wall clock cutoff (-timeout), 0 = none

	TestAll    bool   // enumerate every v4 host (-all4)
	IPv4Amount int64  // explicit v4 selection count, 0 = use heuristic
	IPv6Amount int64  // explicit v6 selection count, 0 = use mode default
	IPv6Mode   IPv6Mode

	MaxIPCount int64 // global expansion cap, default 500_000

	StageACutoff int // stop Stage A after this many successes, 0 = unbounded (-tn)

	SkipThroughput bool // -dd

	DownloadURLs []string // Stage B candidate URLs, round-robin
	ProbeURL     string    // Stage A HTTP(S) diagnostic endpoint

	IncludePortInOutput bool // -sp

	SourceIP   string // optional source address bind
	SourcePort int    // optional source port bind (with SourceIP)
	Interface  string // optional named source interface bind
}

// Default returns a RunConfig populated with spec.md §3's stated defaults.
func Default() RunConfig {
	return RunConfig{
		PingTimes:      4,
		TestCount:      10,
		DownloadWindow: 10 * time.Second,
		TCPPort:        443,
		Mode:           ModeTCP,
		MaxDelayMS:     2000,
		MinDelayMS:     0,
		MaxLoss:        1.0,
		MaxThreads:     256,
		MaxIPCount:     500_000,
		IPv6Mode:       IPv6Mode4096,
	}
}

// Validate checks the boundary constraints spec.md §7 requires to fail fast,
// mirroring original_source/src/args.rs's parse-time validation.
func (c RunConfig) Validate() error {
	if c.PingTimes <= 0 {
		return fmt.Errorf("ping_times must be positive, got %d", c.PingTimes)
	}
	if c.DownloadWindow < 0 {
		return fmt.Errorf("timeout_per_download must be non-negative")
	}
	if c.TCPPort <= 0 || c.TCPPort > 65535 {
		return fmt.Errorf("tcp_port out of range: %d", c.TCPPort)
	}
	switch c.Mode {
	case ModeTCP, ModeHTTP, ModeHTTPS:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.MinDelayMS < 0 || c.MaxDelayMS < c.MinDelayMS {
		return fmt.Errorf("invalid delay bounds: min=%v max=%v", c.MinDelayMS, c.MaxDelayMS)
	}
	if c.MaxLoss < 0 || c.MaxLoss > 1 {
		return fmt.Errorf("max_loss_rate must be within [0,1], got %v", c.MaxLoss)
	}
	if c.MinSpeedBytesPerSec < 0 {
		return fmt.Errorf("min_speed must be non-negative")
	}
	if c.MaxThreads < 32 {
		return fmt.Errorf("max_threads must be >= 32, got %d", c.MaxThreads)
	}
	if !c.SkipThroughput && c.ProbeURL == "" && len(c.DownloadURLs) == 0 {
		return fmt.Errorf("a download URL is required unless -dd is set")
	}
	if c.MaxIPCount <= 0 {
		return fmt.Errorf("max_ip_count must be positive")
	}
	return nil
}

// AcceptsPop reports whether tag passes the configured POP filter.
// An empty filter accepts every tag.
func (c RunConfig) AcceptsPop(tag string) bool {
	if len(c.PopFilter) == 0 {
		return true
	}
	if tag == "" {
		return false
	}
	_, ok := c.PopFilter[normalizePop(tag)]
	return ok
}

func normalizePop(tag string) string {
	out := make([]byte, len(tag))
	for i := 0; i < len(tag); i++ {
		b := tag[i]
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	return string(out)
}

// ProbeHost returns the Host component of ProbeURL, for building a
// direct-IP request that still presents the right Host header and SNI.
func (c RunConfig) ProbeHost() string {
	u, err := url.Parse(c.ProbeURL)
	if err != nil || u.Host == "" {
		return c.ProbeURL
	}
	return u.Host
}

// ProbePath returns the path (plus query, if any) of ProbeURL, defaulting
// to "/" when ProbeURL has none.
func (c RunConfig) ProbePath() string {
	u, err := url.Parse(c.ProbeURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}

// NewPopFilter builds a case-insensitive POP filter set from the tags of the
// -colo flag, already split on commas by the caller.
func NewPopFilter(tags []string) map[string]struct{} {
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		set[normalizePop(t)] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
