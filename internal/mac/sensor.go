package mac

import (
	"math"
)

// Channel sensing defaults. The window corresponds to ~0.4 ms at 48 kHz.
const (
	DefaultEnergyDetectionSamples = 20
	DefaultCarrierSenseThreshold  = 0.05
)

// Sensor classifies the channel Idle or Busy from short-window RMS energy.
// It is stateless per call and has no notion of frames.
type Sensor struct {
	window    int
	threshold float32
}

// NewSensor creates a sensor. Zero values select the defaults.
func NewSensor(windowSamples int, threshold float32) *Sensor {
	if windowSamples <= 0 {
		windowSamples = DefaultEnergyDetectionSamples
	}
	if threshold <= 0 {
		threshold = DefaultCarrierSenseThreshold
	}
	return &Sensor{window: windowSamples, threshold: threshold}
}

// WindowSamples returns the number of trailing samples the sensor inspects.
func (s *Sensor) WindowSamples() int {
	return s.window
}

// Busy reports whether the RMS energy of the most recent window exceeds the
// threshold. With fewer samples than one window the channel is assumed idle.
func (s *Sensor) Busy(samples []float32) bool {
	if len(samples) < s.window {
		return false
	}

	recent := samples[len(samples)-s.window:]
	var sum float32
	for _, v := range recent {
		sum += v * v
	}

	rms := float32(math.Sqrt(float64(sum / float32(s.window))))
	return rms > s.threshold
}
