package main

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestBuildConfigAppliesFlags(t *testing.T) {
	f := &flags{
		pingTimes:      3,
		testCount:      5,
		downloadWindow: 2,
		tcpPort:        443,
		mode:           "tcp",
		maxDelayMS:     1000,
		maxLossPercent: 50,
		minSpeedMBs:    1,
		maxThreads:     64,
		maxIPCount:     1000,
		downloadURL:    "https://example.com/file",
	}
	cfg, err := buildConfig(f)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if cfg.PingTimes != 3 {
		t.Errorf("PingTimes = %d, want 3", cfg.PingTimes)
	}
	if cfg.MaxLoss != 0.5 {
		t.Errorf("MaxLoss = %v, want 0.5", cfg.MaxLoss)
	}
	if len(cfg.DownloadURLs) != 1 || cfg.DownloadURLs[0] != f.downloadURL {
		t.Errorf("DownloadURLs = %v", cfg.DownloadURLs)
	}
}

func TestBuildConfigRejectsInvalid(t *testing.T) {
	f := &flags{
		pingTimes:      0, // invalid
		tcpPort:        443,
		mode:           "tcp",
		maxThreads:     64,
		maxIPCount:     1000,
		skipThroughput: true,
	}
	if _, err := buildConfig(f); err == nil {
		t.Fatal("expected an error for pingTimes = 0")
	}
}

func TestSourcePolicyFromFlags(t *testing.T) {
	f := &flags{sourceIP: "10.0.0.5", sourcePort: 4000}
	p := sourcePolicy(f)
	if p.SourceIP == nil || !p.SourceIP.Equal(net.ParseIP("10.0.0.5")) {
		t.Errorf("SourceIP = %v", p.SourceIP)
	}
	if p.SourcePort != 4000 {
		t.Errorf("SourcePort = %d, want 4000", p.SourcePort)
	}

	f2 := &flags{iface: "lo0"}
	p2 := sourcePolicy(f2)
	if p2.Interface != "lo0" {
		t.Errorf("Interface = %q, want lo0", p2.Interface)
	}
}

// TestRunEndToEndTCPMode drives the whole pipeline against a local TCP
// listener, with the throughput stage skipped via -dd, writing CSV to a
// temp file — exercising flag parsing, CIDR expansion, Stage A dispatch,
// and CSV emission without any real network access.
func TestRunEndToEndTCPMode(t *testing.T) {
	latencyLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer latencyLn.Close()
	go func() {
		for {
			c, err := latencyLn.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	_, portStr, _ := net.SplitHostPort(latencyLn.Addr().String())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "out.csv")

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--ip", "127.0.0.1/32",
		"--mode", "tcp",
		"--tp", strconv.Itoa(port),
		"--ping-times", "2",
		"--tl", "5000",
		"--dd", // skip real throughput; download server isn't on the probed port
		"-o", outPath,
	})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty CSV output")
	}
}
