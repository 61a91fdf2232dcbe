package phy

// Encoder composes a frame into an outgoing waveform:
// [preamble] [line-coded frame bits] [inter-frame gap silence].

// Encoder turns frames into sample sequences. EncodeFrame builds a fresh
// line codec per call, so independent frames may be encoded concurrently.
type Encoder struct {
	kind            LineCodingKind
	samplesPerLevel int
	preamble        []float32
	interFrameGap   int
}

// NewEncoder creates an encoder. interFrameGap is the silence appended after
// each frame, in samples.
func NewEncoder(kind LineCodingKind, samplesPerLevel, patternBytes, interFrameGap int) (*Encoder, error) {
	code, err := kind.New(samplesPerLevel)
	if err != nil {
		return nil, err
	}

	return &Encoder{
		kind:            kind,
		samplesPerLevel: samplesPerLevel,
		preamble:        GeneratePreamble(code, patternBytes),
		interFrameGap:   interFrameGap,
	}, nil
}

// EncodeFrame encodes a single frame into audio samples.
func (e *Encoder) EncodeFrame(f Frame) ([]float32, error) {
	code, err := e.kind.New(e.samplesPerLevel)
	if err != nil {
		return nil, err
	}

	bits, err := f.ToBits()
	if err != nil {
		return nil, err
	}

	code.Reset()
	body := code.Encode(bits)

	out := make([]float32, 0, len(e.preamble)+len(body)+e.interFrameGap)
	out = append(out, e.preamble...)
	out = append(out, body...)
	out = append(out, make([]float32, e.interFrameGap)...)
	return out, nil
}

// EncodeFrames encodes a burst of frames separated by inter-frame gaps.
func (e *Encoder) EncodeFrames(frames []Frame) ([]float32, error) {
	var out []float32
	for _, f := range frames {
		samples, err := e.EncodeFrame(f)
		if err != nil {
			return nil, err
		}
		out = append(out, samples...)
	}
	return out, nil
}

// PreambleLength returns the preamble waveform length in samples.
func (e *Encoder) PreambleLength() int {
	return len(e.preamble)
}

// FrameSamples returns the waveform length for a frame with the given
// payload size, preamble and gap included.
func (e *Encoder) FrameSamples(payloadBytes int) int {
	code, _ := e.kind.New(e.samplesPerLevel)
	return len(e.preamble) + code.SamplesForBits((HeaderBytes+payloadBytes)*8) + e.interFrameGap
}
