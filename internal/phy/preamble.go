package phy

import (
	"math"
)

// Preamble pattern: 0x33 repeated patternBytes-1 times followed by a
// terminator byte that breaks the repetition, so the correlation peak is
// unambiguous at the pattern boundary.

const (
	// PreamblePatternByte repeats through the body of the preamble.
	PreamblePatternByte = 0x33

	// PreambleTerminatorByte closes the preamble.
	PreambleTerminatorByte = 0xCC
)

// PreamblePattern returns the preamble byte pattern for the given length.
func PreamblePattern(patternBytes int) []uint8 {
	if patternBytes < 2 {
		patternBytes = 2
	}
	pattern := make([]uint8, patternBytes)
	for i := 0; i < patternBytes-1; i++ {
		pattern[i] = PreamblePatternByte
	}
	pattern[patternBytes-1] = PreambleTerminatorByte
	return pattern
}

// GeneratePreamble line-codes the preamble pattern into the expected
// waveform. The codec is reset first so the waveform is deterministic.
func GeneratePreamble(code LineCode, patternBytes int) []float32 {
	code.Reset()
	return code.Encode(BytesToBits(PreamblePattern(patternBytes)))
}

// Synchronizer default tuning.
const (
	defaultSyncThreshold = 0.9
	relaxedSyncThreshold = 0.75

	// searchWindowFactor bounds how long a threshold level is tried before
	// relaxing (or restoring), in multiples of the preamble length.
	searchWindowFactor = 10
)

// Synchronizer locates the preamble waveform inside a continuous sample
// stream by normalized correlation against the expected waveform. It keeps a
// rolling window of the most recent preamble-length samples and tracks the
// running correlation maximum so it locks on the true peak rather than the
// first threshold crossing.
//
// If no candidate confirms within a bounded search window the threshold is
// relaxed once to recover weak signals; if the relaxed search also times out
// the strict threshold is restored and a no-carrier event is counted. The
// synchronizer never escalates beyond that cycle, which keeps the Searching
// state live indefinitely without unbounded work.
//
// A Synchronizer is owned by exactly one decoder instance and is not safe
// for concurrent use.
type Synchronizer struct {
	reference []float32
	refNorm   float32

	window       []float32
	head         int
	filled       int
	windowEnergy float32

	threshold float32
	relaxed   bool
	searched  int

	candidate bool
	peak      float32
	peakAge   int

	confirmSpan int
	tail        []float32

	noCarrier uint64
}

// NewSynchronizer builds a synchronizer for the preamble produced by code
// with the given pattern length.
func NewSynchronizer(code LineCode, patternBytes int) *Synchronizer {
	reference := GeneratePreamble(code, patternBytes)

	var refEnergy float32
	for _, v := range reference {
		refEnergy += v * v
	}

	confirmSpan := len(reference) / 8
	if confirmSpan < 8 {
		confirmSpan = 8
	}

	return &Synchronizer{
		reference:   reference,
		refNorm:     float32(math.Sqrt(float64(refEnergy))),
		window:      make([]float32, len(reference)),
		threshold:   defaultSyncThreshold,
		confirmSpan: confirmSpan,
		tail:        make([]float32, 0, confirmSpan),
	}
}

// PreambleLength returns the preamble waveform length in samples.
func (s *Synchronizer) PreambleLength() int {
	return len(s.reference)
}

// Push feeds one sample and returns true when a preamble peak is confirmed.
// After a confirmed lock the caller must consume Tail and Reset the
// synchronizer before reuse.
func (s *Synchronizer) Push(sample float32) bool {
	evicted := s.window[s.head]
	s.window[s.head] = sample
	s.head++
	if s.head == len(s.window) {
		s.head = 0
	}

	s.windowEnergy += sample*sample - evicted*evicted
	if s.windowEnergy < 0 {
		s.windowEnergy = 0
	}

	if s.filled < len(s.window) {
		s.filled++
		if s.filled < len(s.window) {
			return false
		}
	}

	corr := s.correlate()

	if s.candidate {
		if corr > s.peak {
			s.peak = corr
			s.peakAge = 0
			s.tail = s.tail[:0]
			return false
		}

		s.tail = append(s.tail, sample)
		s.peakAge++
		return s.peakAge >= s.confirmSpan
	}

	if corr >= s.threshold {
		s.candidate = true
		s.peak = corr
		s.peakAge = 0
		s.tail = s.tail[:0]
		return false
	}

	s.searched++
	if s.searched >= searchWindowFactor*len(s.reference) {
		s.searched = 0
		if s.relaxed {
			s.relaxed = false
			s.threshold = defaultSyncThreshold
			s.noCarrier++
		} else {
			s.relaxed = true
			s.threshold = relaxedSyncThreshold
		}
	}

	return false
}

// Tail returns the samples received after the confirmed peak. They belong to
// the frame body and must be replayed into the frame decoder.
func (s *Synchronizer) Tail() []float32 {
	return s.tail
}

// PeakCorrelation returns the best correlation of the current candidate.
func (s *Synchronizer) PeakCorrelation() float32 {
	return s.peak
}

// NoCarrierCount returns how many bounded searches completed without a lock.
func (s *Synchronizer) NoCarrierCount() uint64 {
	return s.noCarrier
}

// Reset clears the rolling window and all acquisition state.
func (s *Synchronizer) Reset() {
	for i := range s.window {
		s.window[i] = 0
	}
	s.head = 0
	s.filled = 0
	s.windowEnergy = 0
	s.threshold = defaultSyncThreshold
	s.relaxed = false
	s.searched = 0
	s.candidate = false
	s.peak = 0
	s.peakAge = 0
	s.tail = s.tail[:0]
}

// correlate computes the normalized dot product between the rolling window
// (in arrival order) and the reference waveform.
func (s *Synchronizer) correlate() float32 {
	if s.windowEnergy == 0 || s.refNorm == 0 {
		return 0
	}

	// The window is a ring: the oldest sample sits at head. Split the dot
	// product over the two contiguous segments.
	n1 := len(s.window) - s.head
	num := dot4(s.window[s.head:], s.reference[:n1]) +
		dot4(s.window[:s.head], s.reference[n1:])

	return num / (float32(math.Sqrt(float64(s.windowEnergy))) * s.refNorm)
}

// dot4 is the correlation hot loop: a 4-way widened dot product. len(b)
// must be >= len(a).
func dot4(a, b []float32) float32 {
	var s0, s1, s2, s3 float32

	i := 0
	for ; i+4 <= len(a); i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i] * b[i]
	}

	return s0 + s1 + s2 + s3
}
