package indicator

// window is a fixed-size ring buffer of the most recent values.
type window struct {
	buf  []float64
	head int
	n    int
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{buf: make([]float64, size)}
}

// push appends v. When the window was already full it returns the evicted
// value and true.
func (w *window) push(v float64) (float64, bool) {
	if w.n < len(w.buf) {
		w.buf[(w.head+w.n)%len(w.buf)] = v
		w.n++
		return 0, false
	}
	old := w.buf[w.head]
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	return old, true
}

func (w *window) full() bool { return w.n == len(w.buf) }

func (w *window) len() int { return w.n }

// sum recomputes the total from scratch.
func (w *window) sum() float64 {
	total := 0.0
	for i := 0; i < w.n; i++ {
		total += w.buf[(w.head+i)%len(w.buf)]
	}
	return total
}

func (w *window) each(fn func(v float64)) {
	for i := 0; i < w.n; i++ {
		fn(w.buf[(w.head+i)%len(w.buf)])
	}
}
