package mac

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/acoustlink/acoustlink/internal/phy"
)

// The MAC/ARQ controller arbitrates channel access with CSMA and guarantees
// single-frame delivery with Stop-and-Wait. Exactly one data frame is in
// flight per link; the alternating sequence bit detects duplicates on the
// receive side.

// ErrLinkFailure is returned by Send once the retry budget is exhausted.
var ErrLinkFailure = errors.New("mac: link failure, retry budget exhausted")

// ErrBusy is returned by Send while another transmission is outstanding.
var ErrBusy = errors.New("mac: transmission already in flight")

// State identifies the controller's position in the CSMA/ARQ cycle.
type State uint8

const (
	StateIdle State = iota
	StateSensing
	StateWaitingForDIFS
	StateBackoff
	StateBackoffPaused
	StateTransmitting
	StateWaitingForAck
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSensing:
		return "sensing"
	case StateWaitingForDIFS:
		return "difs"
	case StateBackoff:
		return "backoff"
	case StateBackoffPaused:
		return "backoff-paused"
	case StateTransmitting:
		return "transmitting"
	case StateWaitingForAck:
		return "ack-wait"
	default:
		return "unknown"
	}
}

// Config fixes the MAC parameters at link-open time.
type Config struct {
	LocalAddr uint8

	DIFSMS       int // idle wait before contention, default 20
	SlotTimeMS   int // backoff slot duration, default 5
	AckTimeoutMS int // wait for an Ack, default 200
	CWMin        int // initial contention window, default 8
	CWMax        int // contention window cap, default 256
	MaxRetries   int // retransmissions before LinkFailure, default 5

	// Seed fixes the backoff RNG for reproducible tests. Zero selects a
	// time-based seed.
	Seed int64
}

func (c *Config) applyDefaults() {
	if c.DIFSMS <= 0 {
		c.DIFSMS = 20
	}
	if c.SlotTimeMS <= 0 {
		c.SlotTimeMS = 5
	}
	if c.AckTimeoutMS <= 0 {
		c.AckTimeoutMS = 200
	}
	if c.CWMin <= 0 {
		c.CWMin = 8
	}
	if c.CWMax <= 0 {
		c.CWMax = 256
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
}

// Packet is a delivered payload with its source address.
type Packet struct {
	Src     uint8
	Payload []uint8
}

// Stats counts MAC events.
type Stats struct {
	FramesSent      uint64
	Retransmissions uint64
	AcksSent        uint64
	AcksReceived    uint64
	Duplicates      uint64
	Delivered       uint64
	LinkFailures    uint64
	DroppedInbound  uint64
}

// sendResult carries the outcome of one Send back to the caller, including
// how many retransmissions the exchange cost.
type sendResult struct {
	retries int
	err     error
}

type sendRequest struct {
	dst     uint8
	payload []uint8
	done    chan sendResult
}

// Controller owns the per-link MAC session state. All mutation happens on
// the Run goroutine; Send, HandleFrame and TryRecv communicate with it
// through one-way handoffs only.
type Controller struct {
	cfg      Config
	enc      *phy.Encoder
	transmit func([]float32)
	busy     func() bool
	rng      *rand.Rand

	sendCh    chan *sendRequest
	frameCh   chan phy.Frame
	deliverCh chan Packet
	onReceive func(Packet)

	state        State
	difs         *Timer
	slot         *Timer
	ackWait      *Timer
	cw           int
	backoffSlots int
	retries      int
	seqTx        uint8
	pending      *sendRequest

	lastSeq  map[uint8]uint8
	seenFrom map[uint8]bool

	// stats is owned by the Run goroutine. dropped is the one counter
	// written from other goroutines (HandleFrame) and is therefore atomic.
	stats        Stats
	dropped      atomic.Uint64
	onStats      func(Stats)
	msSinceStats int
}

// NewController creates a MAC controller. transmit pushes an encoded
// waveform to the output path and must not block for long; busy polls the
// channel sensor.
func NewController(cfg Config, enc *phy.Encoder, transmit func([]float32), busy func() bool) (*Controller, error) {
	if enc == nil || transmit == nil || busy == nil {
		return nil, errors.New("mac: encoder, transmit and busy are required")
	}
	cfg.applyDefaults()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Controller{
		cfg:       cfg,
		enc:       enc,
		transmit:  transmit,
		busy:      busy,
		rng:       rand.New(rand.NewSource(seed)),
		sendCh:    make(chan *sendRequest),
		frameCh:   make(chan phy.Frame, 16),
		deliverCh: make(chan Packet, 16),
		state:     StateIdle,
		difs:      NewTimer(),
		slot:      NewTimer(),
		ackWait:   NewTimer(),
		cw:        cfg.CWMin,
		lastSeq:   make(map[uint8]uint8),
		seenFrom:  make(map[uint8]bool),
	}, nil
}

// Send transmits payload to dst and blocks the calling task until the frame
// is acknowledged or abandoned. The real-time sample path is never blocked.
func (c *Controller) Send(ctx context.Context, dst uint8, payload []uint8) error {
	_, err := c.SendTracked(ctx, dst, payload)
	return err
}

// SendTracked is Send with the retransmission count of the exchange, for
// callers that log per-send outcomes.
func (c *Controller) SendTracked(ctx context.Context, dst uint8, payload []uint8) (int, error) {
	if len(payload) > phy.MaxPayloadBytes {
		return 0, phy.ErrPayloadTooLarge
	}

	req := &sendRequest{dst: dst, payload: payload, done: make(chan sendResult, 1)}
	select {
	case c.sendCh <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.retries, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// HandleFrame hands a decoded frame to the controller. It never blocks; if
// the inbound queue is full the frame is dropped and counted, which the ARQ
// retry path recovers from.
func (c *Controller) HandleFrame(f phy.Frame) {
	select {
	case c.frameCh <- f:
	default:
		c.dropped.Add(1)
	}
}

// TryRecv polls for a delivered packet without blocking.
func (c *Controller) TryRecv() (src uint8, payload []uint8, ok bool) {
	select {
	case p := <-c.deliverCh:
		return p.Src, p.Payload, true
	default:
		return 0, nil, false
	}
}

// SetReceiveCallback installs a push callback invoked on the controller
// goroutine for every delivered packet, replacing the TryRecv queue. Must
// be called before Run.
func (c *Controller) SetReceiveCallback(fn func(Packet)) {
	c.onReceive = fn
}

// SetStatsHook installs a callback invoked on the controller goroutine
// roughly once per second with a counters snapshot. Must be called before
// Run.
func (c *Controller) SetStatsHook(fn func(Stats)) {
	c.onStats = fn
}

// State returns the controller state. Only meaningful from the Run
// goroutine or in single-threaded tests.
func (c *Controller) State() State {
	return c.state
}

// Stats returns a snapshot of the MAC counters. DroppedInbound is always
// current; the remaining counters are only meaningful from the Run
// goroutine or in single-threaded tests.
func (c *Controller) Stats() Stats {
	s := c.stats
	s.DroppedInbound = c.dropped.Load()
	return s
}

// Run drives the controller until ctx is cancelled. Timers advance on a
// wall-clock millisecond tick; frame arrivals and send requests are folded
// into the same loop so the session state has a single owner.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if c.pending == nil {
			select {
			case <-ctx.Done():
				c.shutdown(ctx.Err())
				return
			case f := <-c.frameCh:
				c.handleFrame(f)
			case req := <-c.sendCh:
				c.beginSend(req)
			case <-ticker.C:
				c.tick(1)
			}
		} else {
			select {
			case <-ctx.Done():
				c.shutdown(ctx.Err())
				return
			case f := <-c.frameCh:
				c.handleFrame(f)
			case <-ticker.C:
				c.tick(1)
			}
		}
	}
}

// shutdown clears the session back to idle. Waveforms already handed to the
// output path are not recalled.
func (c *Controller) shutdown(err error) {
	if c.pending != nil {
		c.pending.done <- sendResult{retries: c.retries, err: fmt.Errorf("mac: link closed: %w", err)}
		c.pending = nil
	}
	c.state = StateIdle
	c.difs.Stop()
	c.slot.Stop()
	c.ackWait.Stop()
}

// beginSend starts the CSMA cycle for a new outstanding frame.
func (c *Controller) beginSend(req *sendRequest) {
	if c.pending != nil {
		req.done <- sendResult{err: ErrBusy}
		return
	}
	c.pending = req
	c.retries = 0
	c.cw = c.cfg.CWMin
	c.state = StateSensing
}

// tick advances all timers by ms and steps the state machine.
func (c *Controller) tick(ms int) {
	c.difs.Clock(ms)
	c.slot.Clock(ms)
	c.ackWait.Clock(ms)

	if c.onStats != nil {
		c.msSinceStats += ms
		if c.msSinceStats >= 1000 {
			c.msSinceStats = 0
			c.onStats(c.Stats())
		}
	}

	switch c.state {
	case StateIdle:
		// Nothing outstanding.

	case StateSensing:
		if !c.busy() {
			c.state = StateWaitingForDIFS
			c.difs.Start(c.cfg.DIFSMS)
		}

	case StateWaitingForDIFS:
		if c.busy() {
			c.difs.Stop()
			c.state = StateSensing
			return
		}
		if c.difs.Expired() {
			c.backoffSlots = c.drawBackoff()
			if c.backoffSlots == 0 {
				c.transmitPending()
				return
			}
			c.state = StateBackoff
			c.slot.Start(c.cfg.SlotTimeMS)
		}

	case StateBackoff:
		if c.busy() {
			// Pause the countdown; remaining slots are kept.
			c.slot.Stop()
			c.state = StateBackoffPaused
			return
		}
		if c.slot.Expired() {
			c.backoffSlots--
			if c.backoffSlots <= 0 {
				c.transmitPending()
			} else {
				c.slot.Start(c.cfg.SlotTimeMS)
			}
		}

	case StateBackoffPaused:
		if !c.busy() {
			c.state = StateBackoff
			c.slot.Start(c.cfg.SlotTimeMS)
		}

	case StateWaitingForAck:
		if c.ackWait.Expired() {
			c.onAckTimeout()
		}
	}
}

// drawBackoff samples a uniform slot count in [0, CW).
func (c *Controller) drawBackoff() int {
	return c.rng.Intn(c.cw)
}

// transmitPending encodes the outstanding frame and pushes it to the output
// path, then waits for the matching Ack.
func (c *Controller) transmitPending() {
	frame := phy.NewDataFrame(c.seqTx, c.cfg.LocalAddr, c.pending.dst, c.pending.payload)
	samples, err := c.enc.EncodeFrame(frame)
	if err != nil {
		c.pending.done <- sendResult{retries: c.retries, err: err}
		c.pending = nil
		c.state = StateIdle
		return
	}

	c.transmit(samples)
	c.stats.FramesSent++
	if c.retries > 0 {
		c.stats.Retransmissions++
	}

	c.state = StateWaitingForAck
	c.ackWait.Start(c.cfg.AckTimeoutMS)
}

// onAckTimeout grows the contention window and retries, or abandons the
// transmission once the retry budget is spent.
func (c *Controller) onAckTimeout() {
	c.retries++
	if c.retries > c.cfg.MaxRetries {
		log.Printf("MAC[%d]: link failure to %d after %d retries",
			c.cfg.LocalAddr, c.pending.dst, c.cfg.MaxRetries)
		c.stats.LinkFailures++
		c.pending.done <- sendResult{retries: c.cfg.MaxRetries, err: ErrLinkFailure}
		c.pending = nil
		c.state = StateIdle
		return
	}

	// Binary exponential backoff: CW = min(CWMin * 2^retries, CWMax).
	c.cw = c.cfg.CWMin << c.retries
	if c.cw > c.cfg.CWMax {
		c.cw = c.cfg.CWMax
	}
	c.state = StateSensing
}

// handleFrame processes a decoded frame from the PHY layer. CRC and
// destination filtering already happened in the decoder.
func (c *Controller) handleFrame(f phy.Frame) {
	switch f.Type {
	case phy.FrameAck:
		c.handleAck(f)
	case phy.FrameData:
		c.handleData(f)
	}
}

func (c *Controller) handleAck(f phy.Frame) {
	if c.state != StateWaitingForAck || c.pending == nil {
		return
	}
	if f.Sequence != c.seqTx || f.Src != c.pending.dst {
		return
	}

	c.stats.AcksReceived++
	c.ackWait.Stop()
	c.seqTx ^= 1
	c.pending.done <- sendResult{retries: c.retries}
	c.pending = nil
	c.state = StateIdle
}

func (c *Controller) handleData(f phy.Frame) {
	// Duplicate: the sender missed our Ack. Re-acknowledge but do not
	// deliver the payload again.
	if c.seenFrom[f.Src] && c.lastSeq[f.Src] == f.Sequence {
		c.stats.Duplicates++
		c.sendAck(f)
		return
	}

	pkt := Packet{Src: f.Src, Payload: f.Payload}
	if c.onReceive != nil {
		c.onReceive(pkt)
		c.stats.Delivered++
	} else {
		select {
		case c.deliverCh <- pkt:
			c.stats.Delivered++
		default:
			// Upward queue full: drop without recording the sequence so a
			// retransmission gets another chance to be delivered.
			c.dropped.Add(1)
			return
		}
	}

	c.seenFrom[f.Src] = true
	c.lastSeq[f.Src] = f.Sequence
	c.sendAck(f)
}

// sendAck transmits an acknowledgement immediately. Acks skip contention:
// they are short, and the sender's ACK timeout bounds the collision cost.
func (c *Controller) sendAck(f phy.Frame) {
	ack := phy.NewAckFrame(f.Sequence, c.cfg.LocalAddr, f.Src)
	samples, err := c.enc.EncodeFrame(ack)
	if err != nil {
		log.Printf("MAC[%d]: ack encode failed: %v", c.cfg.LocalAddr, err)
		return
	}
	c.transmit(samples)
	c.stats.AcksSent++
}
