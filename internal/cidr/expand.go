package cidr

import (
	"context"
	"crypto/rand"
	"math/big"
	"runtime"
	"sync"

	"github.com/klp2/cfprobe/internal/config"
)

// Expand parses text (comma/newline separated CIDR specs, "#"/"//" comments
// stripped) and returns a lazily-produced, pull-based stream of Endpoints.
// Each CIDR is expanded independently; up to runtime.NumCPU() CIDRs are
// expanded concurrently (the same bounded-worker-pool shape as the
// teacher's sweep.Sweep), and their outputs are fanned into one channel.
// The returned channel is closed when every CIDR is exhausted or ctx is
// cancelled. Expand never materializes the full endpoint set for large
// inputs: each CIDR's stratified sample is drawn lazily, one layer at a
// time, as the consumer reads from the channel.
func Expand(ctx context.Context, text string, cfg config.RunConfig) <-chan Endpoint {
	out := make(chan Endpoint)
	plans := buildPlans(text, cfg)

	if len(plans) == 0 {
		close(out)
		return out
	}

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(plans) {
		workers = len(plans)
	}

	jobs := make(chan plan)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				emitPlan(ctx, p, out)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range plans {
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// emitPlan sends every endpoint selected for one CIDR onto out, honoring
// cancellation between addresses (chunks are short, so cancellation is
// checked at each emission boundary rather than mid-address).
func emitPlan(ctx context.Context, p plan, out chan<- Endpoint) {
	base, hostBits := networkBase(p.prefix)
	total := new(big.Int).Lsh(big.NewInt(1), uint(hostBits))

	send := func(offset *big.Int) bool {
		ep := Endpoint{addr: base.add(offset), port: p.port}
		select {
		case out <- ep:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if hostBits == 0 || p.cardinality.Cmp(total) >= 0 {
		// test_all (or an exact single-host /32 /128): every host ascending.
		for i := new(big.Int); i.Cmp(total) < 0; i.Add(i, big.NewInt(1)) {
			if !send(new(big.Int).Set(i)) {
				return
			}
		}
		return
	}

	stratifiedSample(ctx, total, p.cardinality, send)
}

// stratifiedSample partitions [0, total) into exactly target layers, layer i
// spanning [i*total/target, (i+1)*total/target) so sizes differ by at most
// one and none is empty (target < total), draws one uniformly random offset
// per layer,
// deduplicates against a running set (redrawing within the same layer on
// collision), and calls send for each selected offset in ascending layer
// order.
func stratifiedSample(ctx context.Context, total, target *big.Int, send func(*big.Int) bool) {
	seen := make(map[string]struct{}, target.Int64())
	layerStart := new(big.Int)
	t := new(big.Int).Set(target)

	for i := new(big.Int); i.Cmp(t) < 0; i.Add(i, big.NewInt(1)) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		layerEnd := new(big.Int).Add(i, big.NewInt(1))
		layerEnd.Mul(layerEnd, total).Div(layerEnd, t)
		width := new(big.Int).Sub(layerEnd, layerStart)
		if width.Sign() < 1 {
			layerStart = layerEnd
			continue
		}

		offset := drawUnique(layerStart, width, seen)
		if !send(offset) {
			return
		}

		layerStart = layerEnd
	}
}

// drawUnique uniformly draws an offset in [start, start+width), redrawing
// within the same layer if the offset has already been emitted elsewhere.
func drawUnique(start, width *big.Int, seen map[string]struct{}) *big.Int {
	for attempt := 0; attempt < 64; attempt++ {
		r, err := rand.Int(rand.Reader, width)
		if err != nil {
			r = big.NewInt(0)
		}
		candidate := new(big.Int).Add(start, r)
		key := candidate.String()
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			return candidate
		}
	}
	// Layer is fully exhausted (width <= already-seen count); fall back to
	// the first unseen offset in the layer.
	cursor := new(big.Int).Set(start)
	end := new(big.Int).Add(start, width)
	for cursor.Cmp(end) < 0 {
		key := cursor.String()
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			return new(big.Int).Set(cursor)
		}
		cursor.Add(cursor, big.NewInt(1))
	}
	return new(big.Int).Set(start)
}
