package airlink

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// inboundDepth bounds how many undelivered batches an endpoint may hold
// before the bus starts dropping, mimicking a sound card overrun.
const inboundDepth = 64

// Bus is a simulated shared acoustic channel for in-process tests and
// demos. All queued transmissions are mixed sample-wise, scaled and
// noised, then broadcast to every endpoint. The transmitter hears its
// own waveform, just as a microphone next to a speaker would.
//
// The bus only produces samples when stepped: Step emits one batch,
// Run steps continuously on a wall-clock interval.
type Bus struct {
	mu          sync.Mutex
	endpoints   []*Endpoint
	attenuation float32
	noiseStddev float32
	rng         *rand.Rand
}

// NewBus creates an ideal channel: unit gain, no noise.
func NewBus() *Bus {
	return &Bus{attenuation: 1.0, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// SetAttenuation scales every mixed batch by factor.
func (b *Bus) SetAttenuation(factor float32) {
	b.mu.Lock()
	b.attenuation = factor
	b.mu.Unlock()
}

// SetNoise adds zero-mean Gaussian noise with the given standard
// deviation to every sample. A fixed seed keeps runs reproducible.
func (b *Bus) SetNoise(stddev float32, seed int64) {
	b.mu.Lock()
	b.noiseStddev = stddev
	b.rng = rand.New(rand.NewSource(seed))
	b.mu.Unlock()
}

// Endpoint attaches a new node to the channel.
func (b *Bus) Endpoint() *Endpoint {
	e := &Endpoint{bus: b, inbound: make(chan []float32, inboundDepth)}
	b.mu.Lock()
	b.endpoints = append(b.endpoints, e)
	b.mu.Unlock()
	return e
}

// Step mixes one batch of n samples from all pending transmissions and
// delivers it to every endpoint. With nothing queued the batch is
// silence (plus configured noise), which keeps carrier sensing fed.
func (b *Bus) Step(n int) {
	b.mu.Lock()
	batch := make([]float32, n)
	for _, e := range b.endpoints {
		take := len(e.outbound)
		if take > n {
			take = n
		}
		for i := 0; i < take; i++ {
			batch[i] += e.outbound[i]
		}
		e.outbound = e.outbound[take:]
	}
	for i := range batch {
		batch[i] *= b.attenuation
		if b.noiseStddev > 0 {
			batch[i] += float32(b.rng.NormFloat64()) * b.noiseStddev
		}
	}

	endpoints := b.endpoints
	b.mu.Unlock()

	for _, e := range endpoints {
		e.deliver(batch)
	}
}

// Run steps the bus until ctx is done, emitting batchSize samples every
// interval. batchSize/interval together set the simulated sample rate.
func (b *Bus) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Step(batchSize)
		}
	}
}

// Endpoint is one node's attachment to a Bus. It implements Transport.
type Endpoint struct {
	bus     *Bus
	inbound chan []float32

	// outbound is guarded by bus.mu so Step sees a consistent queue.
	outbound []float32

	mu       sync.Mutex
	leftover []float32
	closed   bool
	overruns uint64
}

// WriteSamples queues a waveform for mixing into subsequent bus steps.
func (e *Endpoint) WriteSamples(samples []float32) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	e.bus.mu.Lock()
	e.outbound = append(e.outbound, samples...)
	e.bus.mu.Unlock()
	return nil
}

// ReadSamples blocks for the next mixed batch and copies up to len(out)
// samples into out. Surplus samples are retained for the next call.
func (e *Endpoint) ReadSamples(out []float32) (int, error) {
	e.mu.Lock()
	if len(e.leftover) > 0 {
		n := copy(out, e.leftover)
		e.leftover = e.leftover[n:]
		e.mu.Unlock()
		return n, nil
	}
	e.mu.Unlock()

	batch, ok := <-e.inbound
	if !ok {
		return 0, ErrClosed
	}
	n := copy(out, batch)
	if n < len(batch) {
		e.mu.Lock()
		e.leftover = append(e.leftover, batch[n:]...)
		e.mu.Unlock()
	}
	return n, nil
}

// Overruns reports how many batches were dropped because the reader fell
// behind.
func (e *Endpoint) Overruns() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overruns
}

// Close detaches the endpoint. Blocked readers return ErrClosed.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	close(e.inbound)
	return nil
}

func (e *Endpoint) deliver(batch []float32) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	cp := make([]float32, len(batch))
	copy(cp, batch)
	select {
	case e.inbound <- cp:
	default:
		e.overruns++
	}
	e.mu.Unlock()
}
