package airlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func udpPair(t *testing.T) (*UDPTransport, *UDPTransport) {
	t.Helper()

	a, err := NewUDPTransport("127.0.0.1:0", "")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	b, err := NewUDPTransport("127.0.0.1:0", a.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return a, b
}

// TestUDPRoundTrip verifies samples survive the wire both ways, with the
// listener learning its peer from the first datagram.
func TestUDPRoundTrip(t *testing.T) {
	a, b := udpPair(t)

	sent := []float32{0.5, -1.0, 0.25, 0}
	require.NoError(t, b.WriteSamples(sent))

	out := make([]float32, 8)
	n, err := a.ReadSamples(out)
	require.NoError(t, err)
	require.Equal(t, sent, out[:n])

	// a learned b's address from the datagram and can answer.
	reply := []float32{1, -1}
	require.NoError(t, a.WriteSamples(reply))
	n, err = b.ReadSamples(out)
	require.NoError(t, err)
	require.Equal(t, reply, out[:n])
}

// TestUDPChunking verifies batches larger than one datagram arrive whole.
func TestUDPChunking(t *testing.T) {
	a, b := udpPair(t)

	sent := make([]float32, maxSamplesPerDatagram*2+100)
	for i := range sent {
		sent[i] = float32(i%251) / 251
	}
	require.NoError(t, b.WriteSamples(sent))

	got := make([]float32, 0, len(sent))
	buf := make([]float32, maxSamplesPerDatagram)
	for len(got) < len(sent) {
		n, err := a.ReadSamples(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, sent, got)
}

// TestUDPLeftover verifies surplus datagram samples carry over to the
// next read.
func TestUDPLeftover(t *testing.T) {
	a, b := udpPair(t)

	require.NoError(t, b.WriteSamples([]float32{1, 2, 3, 4, 5}))

	out := make([]float32, 2)
	var got []float32
	for len(got) < 5 {
		n, err := a.ReadSamples(out)
		require.NoError(t, err)
		got = append(got, out[:n]...)
	}
	require.Equal(t, []float32{1, 2, 3, 4, 5}, got)
}

// TestUDPWriteWithoutRemote verifies transmitting before a peer is known
// fails instead of blackholing samples.
func TestUDPWriteWithoutRemote(t *testing.T) {
	a, err := NewUDPTransport("127.0.0.1:0", "")
	require.NoError(t, err)
	defer a.Close()

	require.Error(t, a.WriteSamples([]float32{1}))
}

// TestUDPClose verifies Close releases a blocked reader.
func TestUDPClose(t *testing.T) {
	a, _ := udpPair(t)

	done := make(chan error, 1)
	go func() {
		_, err := a.ReadSamples(make([]float32, 16))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not unblock on close")
	}
	require.ErrorIs(t, a.WriteSamples([]float32{1}), ErrClosed)
}
