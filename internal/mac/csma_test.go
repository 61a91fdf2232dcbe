package mac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/acoustlink/acoustlink/internal/phy"
)

const (
	testLocalAddr = 1
	testPeerAddr  = 2
)

type harness struct {
	c           *Controller
	transmitted [][]float32
	busyFlag    bool
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	enc, err := phy.NewEncoder(phy.LineCodingManchester, 2, 3, 10)
	require.NoError(t, err)

	h := &harness{}
	cfg.LocalAddr = testLocalAddr
	c, err := NewController(cfg,
		enc,
		func(samples []float32) { h.transmitted = append(h.transmitted, samples) },
		func() bool { return h.busyFlag },
	)
	require.NoError(t, err)
	h.c = c
	return h
}

// decodeTransmitted decodes a captured waveform from the peer's viewpoint.
func decodeTransmitted(t *testing.T, samples []float32, localAddr uint8) phy.Frame {
	t.Helper()

	dec, err := phy.NewDecoder(phy.DecoderConfig{
		LineCoding:      phy.LineCodingManchester,
		SamplesPerLevel: 2,
		PatternBytes:    3,
		LocalAddr:       localAddr,
	})
	require.NoError(t, err)

	frames := dec.Process(samples)
	require.Len(t, frames, 1)
	return frames[0]
}

func (h *harness) send(payload []uint8) *sendRequest {
	req := &sendRequest{dst: testPeerAddr, payload: payload, done: make(chan sendResult, 1)}
	h.c.beginSend(req)
	return req
}

// TestARQTermination verifies Send fails after exactly the configured retry
// budget and that the contention window doubles per timeout up to CWMax.
func TestARQTermination(t *testing.T) {
	h := newHarness(t, Config{
		DIFSMS: 2, SlotTimeMS: 1, AckTimeoutMS: 10,
		CWMin: 4, CWMax: 16, MaxRetries: 3, Seed: 1,
	})

	req := h.send([]uint8{0xAA})

	var cwPerAttempt []int
	seen := 0
	for i := 0; i < 5000 && h.c.pending != nil; i++ {
		h.c.tick(1)
		if len(h.transmitted) > seen {
			seen = len(h.transmitted)
			cwPerAttempt = append(cwPerAttempt, h.c.cw)
		}
	}

	res := <-req.done
	require.ErrorIs(t, res.err, ErrLinkFailure)
	require.Equal(t, 3, res.retries)

	// Initial attempt plus MaxRetries retransmissions.
	require.Len(t, h.transmitted, 4)
	require.Equal(t, []int{4, 8, 16, 16}, cwPerAttempt)
	require.Equal(t, uint64(3), h.c.Stats().Retransmissions)
	require.Equal(t, uint64(1), h.c.Stats().LinkFailures)
	require.Equal(t, StateIdle, h.c.State())
}

// TestAckCompletesSend verifies a matching Ack finishes the exchange and
// alternates the sequence number.
func TestAckCompletesSend(t *testing.T) {
	h := newHarness(t, Config{DIFSMS: 2, SlotTimeMS: 1, AckTimeoutMS: 50, Seed: 1})

	req := h.send([]uint8{0x01, 0x02})
	for i := 0; i < 200 && h.c.State() != StateWaitingForAck; i++ {
		h.c.tick(1)
	}
	require.Equal(t, StateWaitingForAck, h.c.State())

	frame := decodeTransmitted(t, h.transmitted[0], testPeerAddr)
	require.Equal(t, phy.FrameData, frame.Type)
	require.Equal(t, uint8(0), frame.Sequence)

	h.c.handleFrame(phy.NewAckFrame(0, testPeerAddr, testLocalAddr))
	require.NoError(t, (<-req.done).err)
	require.Equal(t, StateIdle, h.c.State())
	require.Equal(t, uint8(1), h.c.seqTx)

	// The next frame carries the alternated sequence.
	h.send([]uint8{0x03})
	for i := 0; i < 200 && h.c.State() != StateWaitingForAck; i++ {
		h.c.tick(1)
	}
	frame = decodeTransmitted(t, h.transmitted[1], testPeerAddr)
	require.Equal(t, uint8(1), frame.Sequence)
}

// TestAckMismatchIgnored verifies acks with a wrong sequence or source do
// not complete the exchange.
func TestAckMismatchIgnored(t *testing.T) {
	h := newHarness(t, Config{DIFSMS: 2, SlotTimeMS: 1, AckTimeoutMS: 500, Seed: 1})

	h.send([]uint8{0x01})
	for i := 0; i < 200 && h.c.State() != StateWaitingForAck; i++ {
		h.c.tick(1)
	}

	h.c.handleFrame(phy.NewAckFrame(1, testPeerAddr, testLocalAddr))
	require.Equal(t, StateWaitingForAck, h.c.State())

	h.c.handleFrame(phy.NewAckFrame(0, 9, testLocalAddr))
	require.Equal(t, StateWaitingForAck, h.c.State())
}

// TestDuplicateSuppression verifies a resent sequence is delivered once but
// re-acknowledged every time.
func TestDuplicateSuppression(t *testing.T) {
	h := newHarness(t, Config{Seed: 1})

	data := phy.NewDataFrame(0, testPeerAddr, testLocalAddr, []uint8{0x10, 0x20})
	h.c.handleFrame(data)

	src, payload, ok := h.c.TryRecv()
	require.True(t, ok)
	require.Equal(t, uint8(testPeerAddr), src)
	require.Equal(t, []uint8{0x10, 0x20}, payload)

	h.c.handleFrame(data)
	_, _, ok = h.c.TryRecv()
	require.False(t, ok, "duplicate must not be delivered")

	require.Equal(t, uint64(1), h.c.Stats().Duplicates)
	require.Equal(t, uint64(2), h.c.Stats().AcksSent)
	require.Len(t, h.transmitted, 2)

	ack := decodeTransmitted(t, h.transmitted[1], testPeerAddr)
	require.Equal(t, phy.FrameAck, ack.Type)
	require.Equal(t, uint8(0), ack.Sequence)
}

// TestAlternatingDelivery verifies consecutive sequences both deliver.
func TestAlternatingDelivery(t *testing.T) {
	h := newHarness(t, Config{Seed: 1})

	h.c.handleFrame(phy.NewDataFrame(0, testPeerAddr, testLocalAddr, []uint8{0x01}))
	h.c.handleFrame(phy.NewDataFrame(1, testPeerAddr, testLocalAddr, []uint8{0x02}))

	_, first, ok := h.c.TryRecv()
	require.True(t, ok)
	require.Equal(t, []uint8{0x01}, first)

	_, second, ok := h.c.TryRecv()
	require.True(t, ok)
	require.Equal(t, []uint8{0x02}, second)
}

// TestBackoffPauseKeepsSlots verifies a busy channel pauses the countdown
// without resetting the remaining slots.
func TestBackoffPauseKeepsSlots(t *testing.T) {
	h := newHarness(t, Config{DIFSMS: 2, SlotTimeMS: 5, Seed: 1})
	h.send([]uint8{0x01})

	h.c.state = StateBackoff
	h.c.backoffSlots = 3
	h.c.slot.Start(5)

	h.busyFlag = true
	h.c.tick(1)
	require.Equal(t, StateBackoffPaused, h.c.State())
	require.Equal(t, 3, h.c.backoffSlots)

	h.c.tick(1)
	require.Equal(t, StateBackoffPaused, h.c.State())

	h.busyFlag = false
	h.c.tick(1)
	require.Equal(t, StateBackoff, h.c.State())
	require.Equal(t, 3, h.c.backoffSlots)
}

// TestDIFSInterrupted verifies a busy channel during DIFS returns to
// Sensing.
func TestDIFSInterrupted(t *testing.T) {
	h := newHarness(t, Config{DIFSMS: 20, SlotTimeMS: 5, Seed: 1})
	h.send([]uint8{0x01})

	h.c.tick(1)
	require.Equal(t, StateWaitingForDIFS, h.c.State())

	h.busyFlag = true
	h.c.tick(1)
	require.Equal(t, StateSensing, h.c.State())
}

// TestBackoffUniform verifies backoff slot counts are uniform in [0, CW).
func TestBackoffUniform(t *testing.T) {
	h := newHarness(t, Config{Seed: 42})
	h.c.cw = 8

	const n = 16000
	counts := make([]int, 8)
	draws := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		d := h.c.drawBackoff()
		require.GreaterOrEqual(t, d, 0)
		require.Less(t, d, 8)
		counts[d]++
		draws = append(draws, float64(d))
	}

	for slot, count := range counts {
		require.InDelta(t, n/8, count, 300, "slot %d drawn %d times", slot, count)
	}

	mean := stat.Mean(draws, nil)
	variance := stat.Variance(draws, nil)
	require.InDelta(t, 3.5, mean, 0.1)
	require.InDelta(t, (64.0-1.0)/12.0, variance, 0.3)
}

// TestSendPayloadTooLarge verifies the MTU check.
func TestSendPayloadTooLarge(t *testing.T) {
	h := newHarness(t, Config{Seed: 1})
	err := h.c.Send(context.Background(), testPeerAddr, make([]uint8, phy.MaxPayloadBytes+1))
	require.ErrorIs(t, err, phy.ErrPayloadTooLarge)
}

// TestRunAckFlow exercises the Run goroutine end to end: a Send request is
// transmitted, acknowledged and completed.
func TestRunAckFlow(t *testing.T) {
	enc, err := phy.NewEncoder(phy.LineCodingManchester, 2, 3, 10)
	require.NoError(t, err)

	transmitCh := make(chan []float32, 8)
	c, err := NewController(
		Config{LocalAddr: testLocalAddr, DIFSMS: 2, SlotTimeMS: 1, AckTimeoutMS: 500, Seed: 1},
		enc,
		func(samples []float32) { transmitCh <- samples },
		func() bool { return false },
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Send(ctx, testPeerAddr, []uint8{0x55})
	}()

	select {
	case samples := <-transmitCh:
		frame := decodeTransmitted(t, samples, testPeerAddr)
		require.Equal(t, phy.FrameData, frame.Type)
		c.HandleFrame(phy.NewAckFrame(frame.Sequence, testPeerAddr, testLocalAddr))
	case <-time.After(5 * time.Second):
		t.Fatal("no transmission observed")
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not complete")
	}
}

// TestShutdownFailsPending verifies cancellation clears the session.
func TestShutdownFailsPending(t *testing.T) {
	h := newHarness(t, Config{Seed: 1})
	req := h.send([]uint8{0x01})

	h.c.shutdown(context.Canceled)
	res := <-req.done
	require.Error(t, res.err)
	require.True(t, errors.Is(res.err, context.Canceled))
	require.Equal(t, StateIdle, h.c.State())
}

// TestHandleFrameOverflowCounts floods the inbound queue from another
// goroutine while the stats hook fires, verifying overflow drops are
// counted without racing the controller's own counters.
func TestHandleFrameOverflowCounts(t *testing.T) {
	h := newHarness(t, Config{Seed: 1})
	h.c.SetStatsHook(func(Stats) {})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f := phy.NewAckFrame(0, testPeerAddr, testLocalAddr)
		for i := 0; i < 1000; i++ {
			h.c.HandleFrame(f)
		}
	}()
	for i := 0; i < 50; i++ {
		h.c.tick(1000)
	}
	wg.Wait()

	require.Greater(t, h.c.Stats().DroppedInbound, uint64(0))
}
