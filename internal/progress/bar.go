package progress

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Bar adapts schollz/progressbar to the Sink interface, rendering a live
// terminal bar to w (normally os.Stderr so stdout stays free for -o -).
type Bar struct {
	mu     sync.Mutex
	out    io.Writer
	bar    *progressbar.ProgressBar
	suffix string
}

// NewBar builds a Bar writing to w.
func NewBar(w io.Writer) *Bar {
	return &Bar{out: w}
}

func (b *Bar) New(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (b *Bar) Grow(delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		return
	}
	_ = b.bar.Add(delta)
}

func (b *Bar) SetSuffix(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suffix = text
	if b.bar != nil {
		b.bar.Describe(text)
	}
}

func (b *Bar) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Finish()
	}
}
