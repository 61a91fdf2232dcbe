package phy

import (
	"errors"
	"fmt"
)

// Line coding turns frame bits into audio levels. Two schemes are supported:
// Manchester (self-clocking, two levels per bit) and 4B5B with NRZI
// (transition coded, higher density). The scheme is fixed per link.

// ErrLineDecode reports an unrecognized coded symbol. The decoder treats it
// as a frame abandon, equivalent to a CRC failure.
var ErrLineDecode = errors.New("phy: unrecognized line code symbol")

// LineCodingKind selects a line coding scheme at link-open time.
type LineCodingKind string

const (
	LineCodingManchester LineCodingKind = "manchester"
	LineCoding4B5B       LineCodingKind = "4b5b"
)

// New creates a codec instance for the kind. samplesPerLevel is the number
// of consecutive samples holding each output level.
func (k LineCodingKind) New(samplesPerLevel int) (LineCode, error) {
	if samplesPerLevel < 1 {
		return nil, fmt.Errorf("phy: samples per level must be >= 1, got %d", samplesPerLevel)
	}
	switch k {
	case LineCodingManchester:
		return &ManchesterCode{samplesPerLevel: samplesPerLevel}, nil
	case LineCoding4B5B:
		c := &FourBFiveBCode{samplesPerLevel: samplesPerLevel}
		c.Reset()
		return c, nil
	default:
		return nil, fmt.Errorf("phy: unknown line coding %q", string(k))
	}
}

// LineCode maps bit sequences to sample sequences and back. Decode expects
// the sample group produced by Encode for the same bit count. Reset clears
// any polarity memory and must be called at the start of each frame.
type LineCode interface {
	Encode(bits []uint8) []float32
	Decode(samples []float32) ([]uint8, error)
	SamplesForBits(numBits int) int
	Reset()
	Kind() LineCodingKind
}

// ManchesterCode encodes bit 0 as [+1,-1] and bit 1 as [-1,+1], each level
// held for samplesPerLevel samples. Decoding compares half-window averages,
// so only the sign of the mid-bit transition matters, not the amplitude.
type ManchesterCode struct {
	samplesPerLevel int
}

// Encode expands bits into Manchester levels.
func (c *ManchesterCode) Encode(bits []uint8) []float32 {
	samples := make([]float32, 0, c.SamplesForBits(len(bits)))
	for _, bit := range bits {
		first, second := float32(1.0), float32(-1.0)
		if bit != 0 {
			first, second = -1.0, 1.0
		}
		for i := 0; i < c.samplesPerLevel; i++ {
			samples = append(samples, first)
		}
		for i := 0; i < c.samplesPerLevel; i++ {
			samples = append(samples, second)
		}
	}
	return samples
}

// Decode recovers bits from whole-bit sample windows.
func (c *ManchesterCode) Decode(samples []float32) ([]uint8, error) {
	samplesPerBit := 2 * c.samplesPerLevel
	numBits := len(samples) / samplesPerBit
	bits := make([]uint8, 0, numBits)

	for i := 0; i < numBits; i++ {
		start := i * samplesPerBit
		mid := start + c.samplesPerLevel

		var firstHalf, secondHalf float32
		for j := start; j < mid; j++ {
			firstHalf += samples[j]
		}
		for j := mid; j < start+samplesPerBit; j++ {
			secondHalf += samples[j]
		}

		if secondHalf > firstHalf {
			bits = append(bits, 1)
		} else {
			bits = append(bits, 0)
		}
	}

	return bits, nil
}

// SamplesForBits returns the sample count produced for numBits input bits.
func (c *ManchesterCode) SamplesForBits(numBits int) int {
	return numBits * 2 * c.samplesPerLevel
}

// Reset is a no-op; Manchester coding is stateless.
func (c *ManchesterCode) Reset() {}

func (c *ManchesterCode) Kind() LineCodingKind { return LineCodingManchester }

// encode4B5B maps each data nibble to a 5-bit group chosen to bound runs of
// identical coded bits, preserving transition density for clock recovery.
var encode4B5B = [16]uint8{
	0b11110, 0b01001, 0b10100, 0b10101,
	0b01010, 0b01011, 0b01110, 0b01111,
	0b10010, 0b10011, 0b10110, 0b10111,
	0b11010, 0b11011, 0b11100, 0b11101,
}

// decode4B5B is the inverse table; -1 marks invalid 5-bit groups.
var decode4B5B = buildDecode4B5B()

func buildDecode4B5B() [32]int8 {
	var table [32]int8
	for i := range table {
		table[i] = -1
	}
	for nibble, coded := range encode4B5B {
		table[coded] = int8(nibble)
	}
	return table
}

// FourBFiveBCode maps every 4 data bits through the 4B5B table and
// NRZI-modulates the coded bits: a coded 1 flips polarity, a coded 0 holds
// it. The polarity memory is the only state and is reset per frame.
type FourBFiveBCode struct {
	samplesPerLevel int
	level           float32
}

// Encode expands data bits (a multiple of 4) into NRZI levels.
func (c *FourBFiveBCode) Encode(bits []uint8) []float32 {
	samples := make([]float32, 0, c.SamplesForBits(len(bits)))

	for i := 0; i+4 <= len(bits); i += 4 {
		nibble := bits[i]<<3 | bits[i+1]<<2 | bits[i+2]<<1 | bits[i+3]
		coded := encode4B5B[nibble&0x0F]

		for j := 4; j >= 0; j-- {
			if (coded>>j)&1 != 0 {
				c.level = -c.level
			}
			for k := 0; k < c.samplesPerLevel; k++ {
				samples = append(samples, c.level)
			}
		}
	}

	return samples
}

// Decode inverts NRZI by detecting level transitions, then reverse-maps each
// 5-bit group to a data nibble. An unknown group yields ErrLineDecode.
func (c *FourBFiveBCode) Decode(samples []float32) ([]uint8, error) {
	numLevels := len(samples) / c.samplesPerLevel
	numGroups := numLevels / 5
	bits := make([]uint8, 0, numGroups*4)

	prev := c.level
	var coded uint8
	codedCount := 0

	for i := 0; i < numGroups*5; i++ {
		start := i * c.samplesPerLevel
		var sum float32
		for j := start; j < start+c.samplesPerLevel; j++ {
			sum += samples[j]
		}

		level := float32(1.0)
		if sum < 0 {
			level = -1.0
		}

		coded <<= 1
		if level != prev {
			coded |= 1
		}
		prev = level
		codedCount++

		if codedCount == 5 {
			nibble := decode4B5B[coded&0x1F]
			if nibble < 0 {
				return nil, fmt.Errorf("%w: 0b%05b", ErrLineDecode, coded&0x1F)
			}
			bits = append(bits,
				uint8(nibble)>>3&1, uint8(nibble)>>2&1, uint8(nibble)>>1&1, uint8(nibble)&1)
			coded = 0
			codedCount = 0
		}
	}

	c.level = prev
	return bits, nil
}

// SamplesForBits returns the sample count produced for numBits input bits.
// numBits must be a multiple of 4 (frames are whole bytes).
func (c *FourBFiveBCode) SamplesForBits(numBits int) int {
	return numBits / 4 * 5 * c.samplesPerLevel
}

// Reset restores the initial polarity. Encoder and decoder must both reset
// at each frame boundary so transition detection stays aligned.
func (c *FourBFiveBCode) Reset() {
	c.level = -1.0
}

func (c *FourBFiveBCode) Kind() LineCodingKind { return LineCoding4B5B }
