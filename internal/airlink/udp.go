package airlink

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"net"
	"sync"
)

const (
	// bytesPerSample is the wire size of one little-endian float32 sample.
	bytesPerSample = 4

	// maxSamplesPerDatagram keeps each datagram comfortably inside a
	// typical UDP MTU budget (2048 samples = 8 KiB payload).
	maxSamplesPerDatagram = 2048
)

// UDPTransport streams sample batches over UDP as little-endian float32
// datagrams. When no remote address is configured it learns one from the
// first datagram received, so a listener can answer whoever calls in.
type UDPTransport struct {
	conn *net.UDPConn

	mu       sync.Mutex
	remote   *net.UDPAddr
	closed   bool
	leftover []float32

	writeBuf []byte
	readBuf  []byte
}

// NewUDPTransport binds a UDP socket on localAddr. remoteAddr names the
// peer to transmit to; pass "" to defer it until the first datagram
// arrives.
func NewUDPTransport(localAddr, remoteAddr string) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return nil, fmt.Errorf("airlink: resolve local %q: %w", localAddr, err)
	}

	var raddr *net.UDPAddr
	if remoteAddr != "" {
		raddr, err = net.ResolveUDPAddr("udp4", remoteAddr)
		if err != nil {
			return nil, fmt.Errorf("airlink: resolve remote %q: %w", remoteAddr, err)
		}
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("airlink: bind %q: %w", localAddr, err)
	}
	log.Printf("airlink: UDP sample transport bound to %s", conn.LocalAddr())

	return &UDPTransport{
		conn:     conn,
		remote:   raddr,
		writeBuf: make([]byte, maxSamplesPerDatagram*bytesPerSample),
		readBuf:  make([]byte, maxSamplesPerDatagram*bytesPerSample),
	}, nil
}

// LocalAddr reports the bound socket address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// WriteSamples encodes samples as little-endian float32 and sends them,
// split across datagrams when the batch exceeds the per-datagram limit.
func (t *UDPTransport) WriteSamples(samples []float32) error {
	t.mu.Lock()
	remote := t.remote
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if remote == nil {
		return fmt.Errorf("airlink: no remote address yet")
	}

	for len(samples) > 0 {
		n := len(samples)
		if n > maxSamplesPerDatagram {
			n = maxSamplesPerDatagram
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(t.writeBuf[i*bytesPerSample:], math.Float32bits(samples[i]))
		}
		if _, err := t.conn.WriteToUDP(t.writeBuf[:n*bytesPerSample], remote); err != nil {
			return fmt.Errorf("airlink: UDP write: %w", err)
		}
		samples = samples[n:]
	}
	return nil
}

// ReadSamples blocks for the next datagram and copies its samples into
// out. Samples beyond len(out) are kept for the following call.
func (t *UDPTransport) ReadSamples(out []float32) (int, error) {
	t.mu.Lock()
	if len(t.leftover) > 0 {
		n := copy(out, t.leftover)
		t.leftover = t.leftover[n:]
		t.mu.Unlock()
		return n, nil
	}
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	size, sender, err := t.conn.ReadFromUDP(t.readBuf)
	if err != nil {
		t.mu.Lock()
		closed = t.closed
		t.mu.Unlock()
		if closed {
			return 0, ErrClosed
		}
		return 0, fmt.Errorf("airlink: UDP read: %w", err)
	}

	t.mu.Lock()
	if t.remote == nil {
		t.remote = sender
		log.Printf("airlink: learned remote endpoint %s", sender)
	}
	t.mu.Unlock()

	count := size / bytesPerSample
	n := 0
	for ; n < count && n < len(out); n++ {
		out[n] = math.Float32frombits(binary.LittleEndian.Uint32(t.readBuf[n*bytesPerSample:]))
	}
	if n < count {
		t.mu.Lock()
		for i := n; i < count; i++ {
			t.leftover = append(t.leftover,
				math.Float32frombits(binary.LittleEndian.Uint32(t.readBuf[i*bytesPerSample:])))
		}
		t.mu.Unlock()
	}
	return n, nil
}

// Close shuts the socket down and releases blocked readers.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}
