package phy

import (
	"errors"
)

// Decoder is a two-state machine recovering frames from a continuous sample
// stream. In Searching it feeds samples to the preamble synchronizer; in
// Decoding it accumulates exactly the samples implied by the frame header
// and hands them to the frame codec. Every error path resets to Searching;
// nothing propagates upward except completed frames.

type decoderState uint8

const (
	stateSearching decoderState = iota
	stateDecoding
)

// DecoderStats counts decoder events. All PHY errors are absorbed locally;
// the counters are the only trace they leave.
type DecoderStats struct {
	SyncLocks        uint64
	FramesDecoded    uint64
	CRCErrors        uint64
	HeaderErrors     uint64
	LineDecodeErrors uint64
	NotForUs         uint64
}

// DecoderConfig fixes the decoding parameters at link-open time.
type DecoderConfig struct {
	LineCoding      LineCodingKind
	SamplesPerLevel int
	PatternBytes    int
	LocalAddr       uint8

	// PowerAlpha is the smoothing factor of the channel power estimate.
	// Zero selects the default of 1/64.
	PowerAlpha float32
}

// Decoder consumes sample batches incrementally and yields completed frames.
// All buffers are pre-sized; Process performs no allocation. A Decoder is
// owned by one link direction and is not safe for concurrent use.
type Decoder struct {
	code      LineCode
	sync      *Synchronizer
	localAddr uint8

	state decoderState

	frameBuf        []float32
	frameLen        int
	headerSamples   int
	expectedSamples int

	power      float32
	powerAlpha float32

	stats DecoderStats
	out   []Frame
}

// NewDecoder creates a decoder for one link direction.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	code, err := cfg.LineCoding.New(cfg.SamplesPerLevel)
	if err != nil {
		return nil, err
	}

	alpha := cfg.PowerAlpha
	if alpha == 0 {
		alpha = 1.0 / 64.0
	}

	maxFrameSamples := code.SamplesForBits((HeaderBytes + MaxPayloadBytes) * 8)

	return &Decoder{
		code:          code,
		sync:          NewSynchronizer(code, cfg.PatternBytes),
		localAddr:     cfg.LocalAddr,
		frameBuf:      make([]float32, maxFrameSamples),
		headerSamples: code.SamplesForBits(HeaderBytes * 8),
		powerAlpha:    alpha,
		out:           make([]Frame, 0, 4),
	}, nil
}

// Process consumes one batch of samples and returns the frames completed
// within it, usually zero or one. Any batch size is accepted, including 1.
// The returned slice is reused by the next call.
func (d *Decoder) Process(samples []float32) []Frame {
	d.out = d.out[:0]

	for _, sample := range samples {
		d.power = d.power*(1-d.powerAlpha) + sample*sample*d.powerAlpha

		switch d.state {
		case stateSearching:
			d.processSearching(sample)
		case stateDecoding:
			d.processDecoding(sample)
		}
	}

	return d.out
}

// ChannelPower returns the exponential moving average of sample power,
// usable for carrier sensing without a second sample path.
func (d *Decoder) ChannelPower() float32 {
	return d.power
}

// Stats returns a snapshot of the decoder event counters.
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// NoCarrierCount returns how many bounded preamble searches gave up.
func (d *Decoder) NoCarrierCount() uint64 {
	return d.sync.NoCarrierCount()
}

// Reset returns the decoder to Searching and clears all acquisition state.
func (d *Decoder) Reset() {
	d.state = stateSearching
	d.frameLen = 0
	d.expectedSamples = 0
	d.sync.Reset()
	d.code.Reset()
}

func (d *Decoder) processSearching(sample float32) {
	if !d.sync.Push(sample) {
		return
	}

	// Lock confirmed. Samples received while confirming the peak belong to
	// the frame body.
	d.stats.SyncLocks++
	d.state = stateDecoding
	d.frameLen = 0
	d.expectedSamples = 0
	for _, s := range d.sync.Tail() {
		if d.frameLen < len(d.frameBuf) {
			d.frameBuf[d.frameLen] = s
			d.frameLen++
		}
	}
	d.sync.Reset()
}

func (d *Decoder) processDecoding(sample float32) {
	if d.frameLen < len(d.frameBuf) {
		d.frameBuf[d.frameLen] = sample
		d.frameLen++
	}

	if d.expectedSamples == 0 {
		if d.frameLen < d.headerSamples {
			return
		}
		if !d.decodeHeader() {
			return
		}
	}

	// The header bounds expectedSamples by the buffer size, so a frame
	// always completes here; truncated transmissions surface as CRC or
	// line-decode errors once silence fills the remainder.
	if d.frameLen >= d.expectedSamples {
		d.finishFrame()
	}
}

// decodeHeader parses the fixed header once enough samples have arrived and
// derives the total expected sample count. Returns false if the frame was
// abandoned.
func (d *Decoder) decodeHeader() bool {
	d.code.Reset()
	bits, err := d.code.Decode(d.frameBuf[:d.headerSamples])
	if err != nil {
		d.stats.LineDecodeErrors++
		d.abandon()
		return false
	}

	header, err := ParseHeaderBits(bits)
	if err != nil {
		d.stats.HeaderErrors++
		d.abandon()
		return false
	}

	d.expectedSamples = d.code.SamplesForBits(header.TotalBits())
	return true
}

// finishFrame decodes the accumulated samples into a frame and returns to
// Searching whatever the outcome.
func (d *Decoder) finishFrame() {
	d.code.Reset()
	bits, err := d.code.Decode(d.frameBuf[:d.expectedSamples])
	if err != nil {
		d.stats.LineDecodeErrors++
		d.abandon()
		return
	}

	frame, err := FromBits(bits)
	switch {
	case errors.Is(err, ErrCRCMismatch):
		d.stats.CRCErrors++
	case err != nil:
		d.stats.HeaderErrors++
	case frame.CheckDestination(d.localAddr) != nil:
		d.stats.NotForUs++
	default:
		d.stats.FramesDecoded++
		d.out = append(d.out, frame)
	}

	d.abandon()
}

// abandon discards partial state and resumes searching.
func (d *Decoder) abandon() {
	d.state = stateSearching
	d.frameLen = 0
	d.expectedSamples = 0
	d.sync.Reset()
}
