// Package httpclient builds per-probe HTTP clients that dial a specific
// measured IP directly while preserving the probe URL's Host header and TLS
// SNI, with detailed httptrace timing for latency and PoP extraction.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"time"

	"github.com/klp2/cfprobe/internal/socketbind"
)

// UserAgent matches spec.md §6's wire protocol requirement — some CDN
// edges vary behavior (or refuse the request) for unrecognized UAs.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Timing holds the httptrace-derived breakdown of one request.
type Timing struct {
	ConnectStart time.Time `json:"-"`
	ConnectDone  time.Time `json:"-"`
	TLSStart     time.Time `json:"-"`
	TLSDone      time.Time `json:"-"`
	FirstByte    time.Time `json:"-"`
	Start        time.Time `json:"-"`
	Done         time.Time `json:"-"`

	TCPConnect   time.Duration `json:"tcp_connect"`
	TLSHandshake time.Duration `json:"tls_handshake"`
	TTFB         time.Duration `json:"ttfb"`
	Total        time.Duration `json:"total"`
}

// Config describes one direct-IP HTTP client: dial cfg.TargetIP:cfg.Port
// instead of resolving the request URL's host, but keep that host as the
// Host header and, for TLS, the SNI — the resolve-override pattern this
// package exists for.
type Config struct {
	TargetIP     net.IP
	Port         int
	TLS          bool
	SourcePolicy socketbind.Policy
	DialTimeout  time.Duration

	// RequestTimeout, if set, bounds the whole request (dial + TLS + body)
	// via http.Client.Timeout. Leave it zero for long-running transfers
	// (throughput probes) whose duration is governed by the caller's
	// context instead — DialTimeout only bounds the connection attempt.
	RequestTimeout time.Duration
}

// New builds an *http.Client with no connection reuse (one socket per
// probe, per spec.md §5) and a DialContext that always connects to
// cfg.TargetIP regardless of what host the request names.
func New(cfg Config) *http.Client {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialer := socketbind.New(cfg.SourcePolicy, dialTimeout)

	transport := &http.Transport{
		DisableKeepAlives: true,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			port := cfg.Port
			if port <= 0 {
				if _, p, err := net.SplitHostPort(addr); err == nil {
					if n, err := strconv.Atoi(p); err == nil {
						port = n
					}
				}
			}
			target := net.JoinHostPort(cfg.TargetIP.String(), strconv.Itoa(port))
			return dialer.DialContext(ctx, network, target)
		},
	}
	if cfg.TLS {
		transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Response is the result of one traced request.
type Response struct {
	StatusCode int
	Headers    http.Header
	Timing     Timing
}

// Do issues method against targetURL through client, tracing connect/TLS/
// TTFB timings. The response body is drained up to maxBody bytes and
// discarded — callers that need the body (throughput) read the connection
// directly instead of using this helper. When connClose is true the
// request carries "Connection: close", telling the server to tear the
// socket down rather than keep it idle-open.
func Do(ctx context.Context, client *http.Client, method, targetURL string, maxBody int64, connClose bool) (*Response, error) {
	timing := &Timing{Start: time.Now()}
	trace := &httptrace.ClientTrace{
		ConnectStart: func(network, addr string) { timing.ConnectStart = time.Now() },
		ConnectDone: func(network, addr string, err error) {
			timing.ConnectDone = time.Now()
		},
		TLSHandshakeStart: func() { timing.TLSStart = time.Now() },
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			timing.TLSDone = time.Now()
		},
		GotFirstResponseByte: func() { timing.FirstByte = time.Now() },
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: invalid request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if connClose {
		req.Close = true
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if method != http.MethodHead && maxBody > 0 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	}
	timing.Done = time.Now()

	if !timing.ConnectStart.IsZero() && !timing.ConnectDone.IsZero() {
		timing.TCPConnect = timing.ConnectDone.Sub(timing.ConnectStart)
	}
	if !timing.TLSStart.IsZero() && !timing.TLSDone.IsZero() {
		timing.TLSHandshake = timing.TLSDone.Sub(timing.TLSStart)
	}
	if !timing.FirstByte.IsZero() {
		timing.TTFB = timing.FirstByte.Sub(timing.Start)
	}
	timing.Total = timing.Done.Sub(timing.Start)

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Timing: *timing}, nil
}

// PopTag extracts the point-of-presence code from a cf-ray header value,
// the substring after its final "-" (e.g. "7d1f...-SJC" -> "SJC").
func PopTag(cfRay string) string {
	idx := strings.LastIndex(cfRay, "-")
	if idx < 0 || idx == len(cfRay)-1 {
		return ""
	}
	return cfRay[idx+1:]
}

// ParseURL prefixes a bare host with "https://" if it has no scheme.
func ParseURL(input string) string {
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return "https://" + input
	}
	return input
}

// FormatSize formats a byte count in human-readable units.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
