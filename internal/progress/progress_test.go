package progress

import (
	"bytes"
	"testing"
)

func TestNoopSatisfiesSink(t *testing.T) {
	var s Sink = Noop{}
	s.New(10)
	s.Grow(3)
	s.SetSuffix("x")
	s.Done()
}

func TestBarSatisfiesSinkAndRenders(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf)
	var s Sink = b

	s.New(5)
	s.Grow(2)
	s.SetSuffix("2/5 accepted")
	s.Grow(3)
	s.Done()

	if buf.Len() == 0 {
		t.Error("expected the progress bar to have written something")
	}
}
