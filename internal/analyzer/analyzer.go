// Package analyzer keeps a fixed-size rolling window of recent routing
// outcomes and reports the share of errors in it.
package analyzer

const DefaultWindowSize = 200

// Analyzer is a ring buffer of error flags. It is not safe for concurrent
// use; the watcher pipeline owns it.
type Analyzer struct {
	window     []bool
	next       int
	length     int
	errors     int
	total      int64
	minSamples int
}

// New returns an analyzer holding at most size outcomes. The ratio reads as
// zero until minSamples outcomes are held; minSamples <= 0 or above size
// means the window must be full.
func New(size, minSamples int) *Analyzer {
	if size < 1 {
		size = DefaultWindowSize
	}
	if minSamples <= 0 || minSamples > size {
		minSamples = size
	}

	return &Analyzer{
		window:     make([]bool, size),
		minSamples: minSamples,
	}
}

// Ingest pushes one outcome, evicting the oldest once the window is full.
func (a *Analyzer) Ingest(errored bool) {
	if a.length == len(a.window) {
		if a.window[a.next] {
			a.errors--
		}
	} else {
		a.length++
	}

	a.window[a.next] = errored
	if errored {
		a.errors++
	}

	a.next = (a.next + 1) % len(a.window)
	a.total++
}

// CurrentRatio returns errors/len over the window, or 0 before Ready.
func (a *Analyzer) CurrentRatio() float64 {
	if !a.Ready() {
		return 0
	}
	return float64(a.errors) / float64(a.length)
}

func (a *Analyzer) Ready() bool {
	return a.length >= a.minSamples
}

// Len returns the number of outcomes currently held.
func (a *Analyzer) Len() int {
	return a.length
}

func (a *Analyzer) Errors() int {
	return a.errors
}

func (a *Analyzer) Capacity() int {
	return len(a.window)
}

func (a *Analyzer) MinSamples() int {
	return a.minSamples
}

// Total counts every outcome ever ingested.
func (a *Analyzer) Total() int64 {
	return a.total
}
