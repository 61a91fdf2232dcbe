package airlink

import "errors"

// ErrClosed is returned for operations on a closed transport.
var ErrClosed = errors.New("airlink: transport closed")

// Transport carries raw float32 sample batches between modem endpoints.
// It is the boundary where the modem would normally meet a sound card:
// WriteSamples plays a waveform into the channel, ReadSamples captures
// whatever the channel carries.
type Transport interface {
	// WriteSamples sends a batch of samples into the channel.
	WriteSamples(samples []float32) error

	// ReadSamples blocks until samples are available and copies up to
	// len(out) of them into out, returning the number copied. Surplus
	// samples from the channel are retained for the next call.
	ReadSamples(out []float32) (int, error)

	// Close releases the transport. Blocked readers return ErrClosed.
	Close() error
}
