// Package driver runs the Stage A dispatch loop: it pulls candidate
// endpoints from the CIDR expander's channel, fans them out across a
// bounded worker pool, applies the latency prober to each, and collects
// the accepted survivors in Stage A's sort order (ascending mean delay,
// ties broken by ascending loss rate).
//
// Grounded on the teacher's internal/sweep.Sweeper.Sweep worker-pool shape
// (hostsChan/resultsChan plus a bounded goroutine count), generalized so
// the job source is the lazy cidr.Expand stream instead of a materialized
// host list.
package driver

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/klp2/cfprobe/internal/cidr"
	"github.com/klp2/cfprobe/internal/config"
	"github.com/klp2/cfprobe/internal/latency"
	"github.com/klp2/cfprobe/internal/progress"
)

// Driver coordinates Stage A dispatch for one run.
type Driver struct {
	cfg    config.RunConfig
	prober *latency.Prober
	sink   progress.Sink
}

// New builds a Driver. sink may be nil, in which case progress.Noop is
// used.
func New(cfg config.RunConfig, prober *latency.Prober, sink progress.Sink) *Driver {
	if sink == nil {
		sink = progress.Noop{}
	}
	return &Driver{cfg: cfg, prober: prober, sink: sink}
}

// RunStageA dispatches every endpoint from endpoints across cfg.MaxThreads
// workers, accumulates Stage-A-accepted results, and returns them sorted.
// It honors ctx cancellation by halting dispatch and returning whatever
// was collected so far rather than blocking for stragglers indefinitely.
func (d *Driver) RunStageA(ctx context.Context, endpoints <-chan cidr.Endpoint) []latency.Result {
	workers := d.cfg.MaxThreads
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var accepted []latency.Result
	var accepted32 int32 // atomic mirror of len(accepted) read-only for the cutoff check
	var dispatched int32

	cutoff := int32(d.cfg.StageACutoff)

	// The endpoint stream is lazy, so the total is not known up front.
	d.sink.New(-1)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ep := range endpoints {
				if cutoff > 0 && atomic.LoadInt32(&accepted32) >= cutoff {
					continue
				}
				select {
				case <-ctx.Done():
					continue
				default:
				}

				result := d.prober.Probe(ctx, ep)
				atomic.AddInt32(&dispatched, 1)
				d.sink.Grow(1)

				if latency.Accept(d.cfg, result) {
					mu.Lock()
					accepted = append(accepted, result)
					n := int32(len(accepted))
					mu.Unlock()
					atomic.StoreInt32(&accepted32, n)
					d.sink.SetSuffix(suffixFor(n, cutoff))
				}
			}
		}()
	}
	wg.Wait()
	d.sink.Done()

	mu.Lock()
	defer mu.Unlock()
	sortResults(accepted)
	return accepted
}

func sortResults(results []latency.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].MeanDelayMS != results[j].MeanDelayMS {
			return results[i].MeanDelayMS < results[j].MeanDelayMS
		}
		return results[i].LossRate < results[j].LossRate
	})
}

func suffixFor(accepted, cutoff int32) string {
	if cutoff <= 0 {
		return ""
	}
	return "accepted " + strconv.Itoa(int(accepted)) + "/" + strconv.Itoa(int(cutoff))
}
