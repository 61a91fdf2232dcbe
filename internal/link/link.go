package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/acoustlink/acoustlink/internal/airlink"
	"github.com/acoustlink/acoustlink/internal/mac"
	"github.com/acoustlink/acoustlink/internal/metrics"
	"github.com/acoustlink/acoustlink/internal/phy"
)

// Config holds the per-node modem parameters. The zero value of every
// field except LocalAddr selects a sensible default.
type Config struct {
	LocalAddr uint8

	LineCoding           phy.LineCodingKind
	SamplesPerLevel      int
	PreamblePatternBytes int
	InterFrameGapSamples int

	SenseWindowSamples int
	SenseThreshold     float32

	// ReadBatchSamples sizes the capture buffer handed to the decoder.
	ReadBatchSamples int

	MAC mac.Config
}

func (c *Config) applyDefaults() {
	if c.LineCoding == "" {
		c.LineCoding = phy.LineCodingManchester
	}
	if c.SamplesPerLevel <= 0 {
		c.SamplesPerLevel = 4
	}
	if c.PreamblePatternBytes <= 0 {
		c.PreamblePatternBytes = 8
	}
	if c.InterFrameGapSamples <= 0 {
		c.InterFrameGapSamples = 48
	}
	if c.ReadBatchSamples <= 0 {
		c.ReadBatchSamples = 256
	}
}

// Link binds the full modem stack to a sample transport: captured samples
// feed the decoder and the carrier-sense ring, decoded frames feed the
// MAC controller, and MAC transmissions play back into the transport.
type Link struct {
	cfg       Config
	transport airlink.Transport
	ctrl      *mac.Controller
	sensor    *mac.Sensor

	decMu sync.Mutex
	dec   *phy.Decoder

	ringMu   sync.Mutex
	ring     *mac.SampleRing
	senseBuf []float32

	m            *metrics.Metrics
	lastDecStats phy.DecoderStats
	lastMACStats mac.Stats
}

// Open wires a modem onto transport. m may be nil to disable metrics.
func Open(cfg Config, transport airlink.Transport, m *metrics.Metrics) (*Link, error) {
	if transport == nil {
		return nil, errors.New("link: transport is required")
	}
	cfg.applyDefaults()

	enc, err := phy.NewEncoder(cfg.LineCoding, cfg.SamplesPerLevel,
		cfg.PreamblePatternBytes, cfg.InterFrameGapSamples)
	if err != nil {
		return nil, err
	}
	dec, err := phy.NewDecoder(phy.DecoderConfig{
		LineCoding:      cfg.LineCoding,
		SamplesPerLevel: cfg.SamplesPerLevel,
		PatternBytes:    cfg.PreamblePatternBytes,
		LocalAddr:       cfg.LocalAddr,
	})
	if err != nil {
		return nil, err
	}

	sensor := mac.NewSensor(cfg.SenseWindowSamples, cfg.SenseThreshold)

	l := &Link{
		cfg:       cfg,
		transport: transport,
		sensor:    sensor,
		dec:       dec,
		ring:      mac.NewSampleRing(4 * cfg.ReadBatchSamples),
		senseBuf:  make([]float32, sensor.WindowSamples()),
		m:         m,
	}

	macCfg := cfg.MAC
	macCfg.LocalAddr = cfg.LocalAddr
	ctrl, err := mac.NewController(macCfg, enc, l.playback, l.channelBusy)
	if err != nil {
		return nil, err
	}
	if m != nil {
		ctrl.SetStatsHook(l.exportMACStats)
	}
	l.ctrl = ctrl

	return l, nil
}

// Run drives the link until ctx is cancelled: the MAC controller on its
// own goroutine, the capture loop on this one.
func (l *Link) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.transport.Close()
	}()
	go l.ctrl.Run(ctx)

	log.Printf("link[%d]: up (%s coding, %d samples/level)",
		l.cfg.LocalAddr, l.cfg.LineCoding, l.cfg.SamplesPerLevel)

	buf := make([]float32, l.cfg.ReadBatchSamples)
	for {
		n, err := l.transport.ReadSamples(buf)
		if err != nil {
			if errors.Is(err, airlink.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("link: sample capture: %w", err)
		}
		l.ingest(buf[:n])
	}
}

// Send transmits payload to dst and blocks until it is acknowledged or
// abandoned.
func (l *Link) Send(ctx context.Context, dst uint8, payload []uint8) error {
	return l.ctrl.Send(ctx, dst, payload)
}

// SendTracked is Send with the retransmission count of the exchange.
func (l *Link) SendTracked(ctx context.Context, dst uint8, payload []uint8) (int, error) {
	return l.ctrl.SendTracked(ctx, dst, payload)
}

// TryRecv polls for a delivered payload without blocking.
func (l *Link) TryRecv() (src uint8, payload []uint8, ok bool) {
	return l.ctrl.TryRecv()
}

// SetReceiveCallback installs a push delivery callback. Must be called
// before Run.
func (l *Link) SetReceiveCallback(fn func(mac.Packet)) {
	l.ctrl.SetReceiveCallback(fn)
}

// ChannelPower reports the decoder's smoothed channel power estimate.
func (l *Link) ChannelPower() float32 {
	l.decMu.Lock()
	defer l.decMu.Unlock()
	return l.dec.ChannelPower()
}

// DecoderStats snapshots the PHY receive counters.
func (l *Link) DecoderStats() phy.DecoderStats {
	l.decMu.Lock()
	defer l.decMu.Unlock()
	return l.dec.Stats()
}

// ingest feeds one captured batch through the sense ring and the decoder.
func (l *Link) ingest(samples []float32) {
	l.ringMu.Lock()
	l.ring.Write(samples)
	l.ringMu.Unlock()

	l.decMu.Lock()
	frames := l.dec.Process(samples)
	power := l.dec.ChannelPower()
	stats := l.dec.Stats()
	l.decMu.Unlock()

	for _, f := range frames {
		l.ctrl.HandleFrame(f)
	}

	if l.m != nil {
		l.m.SamplesIn.Add(float64(len(samples)))
		l.m.ChannelPower.Set(float64(power))
		l.exportDecoderStats(stats)
	}
}

// channelBusy is polled by the MAC controller on its own goroutine.
func (l *Link) channelBusy() bool {
	l.ringMu.Lock()
	n := l.ring.Latest(l.senseBuf)
	l.ringMu.Unlock()
	return l.sensor.Busy(l.senseBuf[:n])
}

// playback pushes an encoded waveform into the transport.
func (l *Link) playback(samples []float32) {
	if err := l.transport.WriteSamples(samples); err != nil {
		log.Printf("link[%d]: playback failed: %v", l.cfg.LocalAddr, err)
		return
	}
	if l.m != nil {
		l.m.SamplesOut.Add(float64(len(samples)))
	}
}

// exportDecoderStats adds the delta since the previous snapshot to the
// Prometheus counters. Runs on the capture goroutine only.
func (l *Link) exportDecoderStats(s phy.DecoderStats) {
	d := l.lastDecStats
	l.m.FramesDecoded.Add(float64(s.FramesDecoded - d.FramesDecoded))
	l.m.SyncLocks.Add(float64(s.SyncLocks - d.SyncLocks))
	l.m.CRCErrors.Add(float64(s.CRCErrors - d.CRCErrors))
	l.m.HeaderErrors.Add(float64(s.HeaderErrors - d.HeaderErrors))
	l.m.LineCodeErrors.Add(float64(s.LineDecodeErrors - d.LineDecodeErrors))
	l.m.FramesNotForUs.Add(float64(s.NotForUs - d.NotForUs))
	l.lastDecStats = s
}

// exportMACStats runs on the MAC controller goroutine roughly once per
// second.
func (l *Link) exportMACStats(s mac.Stats) {
	d := l.lastMACStats
	l.m.FramesSent.Add(float64(s.FramesSent - d.FramesSent))
	l.m.Retransmissions.Add(float64(s.Retransmissions - d.Retransmissions))
	l.m.AcksSent.Add(float64(s.AcksSent - d.AcksSent))
	l.m.AcksReceived.Add(float64(s.AcksReceived - d.AcksReceived))
	l.m.DuplicateFrames.Add(float64(s.Duplicates - d.Duplicates))
	l.m.DroppedFrames.Add(float64(s.DroppedInbound - d.DroppedInbound))
	l.m.LinkFailures.Add(float64(s.LinkFailures - d.LinkFailures))
	l.m.PacketsDelivered.Add(float64(s.Delivered - d.Delivered))
	l.lastMACStats = s
}
