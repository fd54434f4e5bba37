package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/klp2/cfprobe/internal/cidr"
	"github.com/klp2/cfprobe/internal/config"
	"github.com/klp2/cfprobe/internal/driver"
	"github.com/klp2/cfprobe/internal/latency"
	"github.com/klp2/cfprobe/internal/limiter"
	"github.com/klp2/cfprobe/internal/progress"
	"github.com/klp2/cfprobe/internal/resultsink"
	"github.com/klp2/cfprobe/internal/socketbind"
	"github.com/klp2/cfprobe/internal/throughput"
	"github.com/klp2/cfprobe/internal/urlsource"
)

type flags struct {
	file           string
	ip             string
	ipURL          string
	pingTimes      int
	testCount      int
	downloadWindow int
	tcpPort        int
	mode           string
	maxDelayMS     int
	minDelayMS     int
	maxLossPercent float64
	minSpeedMBs    float64
	colo           string
	maxThreads     int
	timeoutSec     int
	testAll        bool
	ipv4Amount     int64
	ipv6Amount     int64
	ipv6Mode       string
	maxIPCount     int64
	stageACutoff   int
	skipThroughput bool
	downloadURL    string
	downloadURLs   string
	includePort    bool
	output         string
	sourceIP       string
	sourcePort     int
	iface          string
	debug          bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "cfprobe",
		Short: "Measure latency and throughput to CDN anycast endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, &f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "file of CIDR/IP specs to test")
	fl.StringVar(&f.ip, "ip", "", "single CIDR/IP spec to test")
	fl.StringVar(&f.ipURL, "ipurl", "", "URL to fetch a CIDR/IP list from")
	fl.IntVarP(&f.pingTimes, "ping-times", "t", 4, "latency probes per endpoint")
	fl.IntVar(&f.testCount, "dn", 10, "stop the throughput stage after this many accepted endpoints")
	fl.IntVar(&f.downloadWindow, "dt", 10, "throughput test window, seconds")
	fl.IntVar(&f.tcpPort, "tp", 443, "default TCP port")
	fl.StringVar(&f.mode, "mode", "tcp", "latency probe mode: tcp|http|https")
	fl.IntVar(&f.maxDelayMS, "tl", 2000, "max acceptable latency, ms")
	fl.IntVar(&f.minDelayMS, "tll", 0, "min acceptable latency, ms")
	fl.Float64Var(&f.maxLossPercent, "tlr", 100, "max acceptable loss rate, percent")
	fl.Float64Var(&f.minSpeedMBs, "sl", 0, "min acceptable download speed, MB/s")
	fl.StringVar(&f.colo, "colo", "", "comma separated accepted PoP tags")
	fl.IntVarP(&f.maxThreads, "max-threads", "n", 256, "concurrency ceiling")
	fl.IntVar(&f.timeoutSec, "timeout", 0, "global wall clock cutoff, seconds (0 = none)")
	fl.BoolVar(&f.testAll, "all4", false, "enumerate every IPv4 host instead of sampling")
	fl.Int64Var(&f.ipv4Amount, "n4", 0, "explicit IPv4 selection count (0 = heuristic)")
	fl.Int64Var(&f.ipv6Amount, "n6", 0, "explicit IPv6 selection count (0 = mode default)")
	fl.StringVar(&f.ipv6Mode, "ipv6num", "medium", "IPv6 selection preset: small|medium|large|huge")
	fl.Int64Var(&f.maxIPCount, "max-ips", 500_000, "global endpoint cap")
	fl.IntVar(&f.stageACutoff, "tn", 0, "stop latency testing after this many accepted (0 = unbounded)")
	fl.BoolVar(&f.skipThroughput, "dd", false, "skip the throughput stage")
	fl.StringVar(&f.downloadURL, "url", "", "throughput/diagnostic URL")
	fl.StringVar(&f.downloadURLs, "urls", "", "comma separated throughput URLs, round-robin")
	fl.BoolVar(&f.includePort, "sp", false, "include the port in output IPs")
	fl.StringVarP(&f.output, "output", "o", "result.csv", "CSV output path (- for stdout)")
	fl.StringVar(&f.sourceIP, "source-ip", "", "bind outgoing connections to this source IP")
	fl.IntVar(&f.sourcePort, "source-port", 0, "bind outgoing connections to this source port")
	fl.StringVar(&f.iface, "interface", "", "bind outgoing connections to this interface")
	fl.BoolVar(&f.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newDescribeCmd())
	return cmd
}

func buildConfig(f *flags) (config.RunConfig, error) {
	cfg := config.Default()
	cfg.PingTimes = f.pingTimes
	cfg.TestCount = f.testCount
	cfg.DownloadWindow = time.Duration(f.downloadWindow) * time.Second
	cfg.TCPPort = f.tcpPort
	cfg.Mode = config.Mode(strings.ToLower(f.mode))
	cfg.MaxDelayMS = float64(f.maxDelayMS)
	cfg.MinDelayMS = float64(f.minDelayMS)
	cfg.MaxLoss = f.maxLossPercent / 100
	cfg.MinSpeedBytesPerSec = f.minSpeedMBs * 1024 * 1024
	cfg.MaxThreads = f.maxThreads
	cfg.GlobalTimeout = time.Duration(f.timeoutSec) * time.Second
	cfg.TestAll = f.testAll
	cfg.IPv4Amount = f.ipv4Amount
	cfg.IPv6Amount = f.ipv6Amount
	cfg.IPv6Mode = config.IPv6Mode(strings.ToLower(f.ipv6Mode))
	cfg.MaxIPCount = f.maxIPCount
	cfg.StageACutoff = f.stageACutoff
	cfg.SkipThroughput = f.skipThroughput
	cfg.ProbeURL = f.downloadURL
	cfg.IncludePortInOutput = f.includePort
	cfg.SourceIP = f.sourceIP
	cfg.SourcePort = f.sourcePort
	cfg.Interface = f.iface

	if f.downloadURLs != "" {
		for _, u := range strings.Split(f.downloadURLs, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				cfg.DownloadURLs = append(cfg.DownloadURLs, u)
			}
		}
	} else if f.downloadURL != "" {
		cfg.DownloadURLs = []string{f.downloadURL}
	}

	if f.colo != "" {
		cfg.PopFilter = config.NewPopFilter(strings.Split(f.colo, ","))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func sourcePolicy(f *flags) socketbind.Policy {
	var p socketbind.Policy
	if f.sourceIP != "" {
		p.SourceIP = net.ParseIP(f.sourceIP)
		p.SourcePort = f.sourcePort
	} else if f.iface != "" {
		p.Interface = f.iface
	}
	return p
}

func runRoot(cmd *cobra.Command, f *flags) error {
	if f.debug {
		log.SetLevel(logrusDebugLevel())
	}

	cfg, err := buildConfig(f)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := context.Background()
	if cfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.GlobalTimeout)
		defer cancel()
	}

	source, err := loadSource(ctx, f)
	if err != nil {
		return err
	}

	policy := sourcePolicy(f)

	lim := limiter.New(32, int64(cfg.MaxThreads))
	defer lim.Stop()

	var sink progress.Sink = progress.Noop{}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		sink = progress.NewBar(os.Stderr)
	}

	prober := latency.New(cfg, lim, policy)
	d := driver.New(cfg, prober, sink)

	endpoints := cidr.Expand(ctx, source, cfg)
	stageA := d.RunStageA(ctx, endpoints)
	log.Infof("stage A: %d endpoints accepted", len(stageA))

	rows := runStageB(ctx, cfg, policy, stageA)

	return writeResults(f.output, rows)
}

func loadSource(ctx context.Context, f *flags) (string, error) {
	var parts []string
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return "", fmt.Errorf("reading -f file: %w", err)
		}
		parts = append(parts, string(data))
	}
	if f.ip != "" {
		parts = append(parts, f.ip)
	}
	if f.ipURL != "" {
		body, err := urlsource.Fetch(ctx, f.ipURL)
		if err != nil {
			if len(parts) == 0 {
				return "", fmt.Errorf("fetching -ipurl and no fallback source given: %w", err)
			}
			log.Warnf("ipurl fetch failed, falling back to other sources: %v", err)
		} else {
			parts = append(parts, body)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no input source given: use -f, -ip, or -ipurl")
	}
	return strings.Join(parts, "\n"), nil
}

func runStageB(ctx context.Context, cfg config.RunConfig, policy socketbind.Policy, stageA []latency.Result) []resultsink.Row {
	rows := make([]resultsink.Row, 0, len(stageA))

	if cfg.SkipThroughput {
		for _, r := range stageA {
			rows = append(rows, toRow(cfg, r, throughput.Result{}))
		}
		return rows
	}

	tp := throughput.New(cfg, policy, nil)
	accepted := 0
	for _, r := range stageA {
		if cfg.TestCount > 0 && accepted >= cfg.TestCount {
			break
		}
		select {
		case <-ctx.Done():
			return rows
		default:
		}

		tr := tp.Measure(ctx, r.Endpoint, r.Pop)
		if !throughput.Accept(cfg, tr) {
			continue
		}
		rows = append(rows, toRow(cfg, r, tr))
		accepted++
	}
	return rows
}

func toRow(cfg config.RunConfig, r latency.Result, tr throughput.Result) resultsink.Row {
	ip := r.Endpoint.String()
	if cfg.IncludePortInOutput {
		ip = r.Endpoint.HostPort(cfg.TCPPort)
	}
	pop := r.Pop
	if pop == "" {
		pop = tr.Pop
	}
	return resultsink.Row{
		IP:          ip,
		Sent:        r.Sent,
		Received:    r.Received,
		LossRate:    r.LossRate,
		MeanDelayMS: r.MeanDelayMS,
		SpeedMBs:    tr.BytesPerSec / (1024 * 1024),
		Pop:         pop,
	}
}

func writeResults(output string, rows []resultsink.Row) error {
	if output == "-" {
		return resultsink.WriteCSV(os.Stdout, rows)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()
	if err := resultsink.WriteCSV(f, rows); err != nil {
		return err
	}
	return resultsink.WriteConsoleTable(rows)
}
