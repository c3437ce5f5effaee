package breaker

import "time"

// Counts are the rolling-window counters of one breaker.
type Counts struct {
	Requests   int64 `json:"requests"`
	Successes  int64 `json:"successes"`
	Failures   int64 `json:"failures"`
	Timeouts   int64 `json:"timeouts"`
	Rejections int64 `json:"rejections"`
}

// ErrorPercentage is the share of admitted calls that failed or timed out.
func (c Counts) ErrorPercentage() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Failures+c.Timeouts) * 100 / float64(c.Requests)
}

func (c *Counts) add(o Counts) {
	c.Requests += o.Requests
	c.Successes += o.Successes
	c.Failures += o.Failures
	c.Timeouts += o.Timeouts
	c.Rejections += o.Rejections
}

type bucket struct {
	epoch int64
	used  bool
	Counts
}

// window is a ring of fixed-width time buckets. A bucket is recycled when
// the clock reaches an epoch that maps onto its slot again.
type window struct {
	width   time.Duration
	buckets []bucket
}

func newWindow(span time.Duration, n int) *window {
	width := span / time.Duration(n)
	if width <= 0 {
		width = time.Millisecond
	}
	return &window{width: width, buckets: make([]bucket, n)}
}

func (w *window) epoch(now time.Time) int64 {
	return now.UnixNano() / int64(w.width)
}

func (w *window) current(now time.Time) *bucket {
	e := w.epoch(now)
	b := &w.buckets[int(e%int64(len(w.buckets)))]
	if !b.used || b.epoch != e {
		*b = bucket{epoch: e, used: true}
	}
	return b
}

func (w *window) totals(now time.Time) Counts {
	e := w.epoch(now)
	oldest := e - int64(len(w.buckets)) + 1
	var c Counts
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.used && b.epoch >= oldest && b.epoch <= e {
			c.add(b.Counts)
		}
	}
	return c
}

func (w *window) reset() {
	for i := range w.buckets {
		w.buckets[i] = bucket{}
	}
}
