package mac

// SampleRing is a fixed-capacity ring of recent samples. The link feeds
// every incoming batch into it so the sensor can always inspect the latest
// energy window without the decoder keeping extra history. Newest data
// overwrites oldest; there is no blocking and no allocation after creation.
type SampleRing struct {
	buf  []float32
	head int
	size int
}

// NewSampleRing creates a ring holding up to capacity samples.
func NewSampleRing(capacity int) *SampleRing {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleRing{buf: make([]float32, capacity)}
}

// Write appends samples, overwriting the oldest on overflow.
func (r *SampleRing) Write(samples []float32) {
	for _, s := range samples {
		r.buf[r.head] = s
		r.head++
		if r.head == len(r.buf) {
			r.head = 0
		}
		if r.size < len(r.buf) {
			r.size++
		}
	}
}

// Len returns the number of samples currently held.
func (r *SampleRing) Len() int {
	return r.size
}

// Latest copies the most recent len(out) samples into out in arrival order
// and returns how many were copied.
func (r *SampleRing) Latest(out []float32) int {
	n := len(out)
	if n > r.size {
		n = r.size
	}

	start := r.head - n
	if start < 0 {
		start += len(r.buf)
	}

	for i := 0; i < n; i++ {
		idx := start + i
		if idx >= len(r.buf) {
			idx -= len(r.buf)
		}
		out[i] = r.buf[idx]
	}

	return n
}

// Clear empties the ring.
func (r *SampleRing) Clear() {
	r.head = 0
	r.size = 0
}
