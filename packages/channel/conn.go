package channel

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/abdul-hamid-achik/vptest/packages/protocol"
)

const (
	// MaxFrameSize bounds a single frame body.
	MaxFrameSize = 16 << 20

	headerSize = 4
)

// ErrClosed is returned by Receive once the peer has closed its end, and by
// Send once either end is closed.
var ErrClosed = errors.New("channel: closed")

// Conn is one end of an event channel. Send may be called from several
// goroutines; Receive must only be called from one.
type Conn struct {
	r       *bufio.Reader
	w       io.Writer
	closers []io.Closer

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// New builds a Conn reading frames from r and writing frames to w. The
// closers are closed, in order, by Close.
func New(r io.Reader, w io.Writer, closers ...io.Closer) *Conn {
	return &Conn{
		r:       bufio.NewReader(r),
		w:       w,
		closers: closers,
	}
}

// NewConn builds a Conn over a single full-duplex stream.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return New(rwc, rwc, rwc)
}

// Pipe returns two connected in-memory ends.
func Pipe() (*Conn, *Conn) {
	a, b := net.Pipe()
	return NewConn(a), NewConn(b)
}

// Send writes ev as a single frame.
func (c *Conn) Send(ev protocol.Event) error {
	body, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return &protocol.ProtocolError{
			Kind:   ev.Kind(),
			Reason: fmt.Sprintf("frame of %d bytes exceeds limit of %d", len(body), MaxFrameSize),
		}
	}

	frame := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[headerSize:], body)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(frame); err != nil {
		if isClosedErr(err) {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return fmt.Errorf("channel: write frame: %w", err)
	}
	return nil
}

// Receive blocks until a whole frame arrives or the peer closes. A frame
// that cannot be decoded yields a *protocol.ProtocolError; the stream stays
// usable and the next call returns the following frame.
func (c *Conn) Receive() (protocol.Event, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, closedOr(err, "read frame header")
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		if _, err := io.CopyN(io.Discard, c.r, int64(size)); err != nil {
			return nil, closedOr(err, "skip oversized frame")
		}
		return nil, &protocol.ProtocolError{
			Reason: fmt.Sprintf("frame of %d bytes exceeds limit of %d", size, MaxFrameSize),
		}
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, closedOr(err, "read frame body")
	}
	return protocol.Decode(body)
}

// Close closes the underlying streams. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, closer := range c.closers {
			if err := closer.Close(); err != nil && !isClosedErr(err) {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func closedOr(err error, op string) error {
	switch {
	case errors.Is(err, io.EOF):
		return ErrClosed
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: truncated frame", ErrClosed)
	case isClosedErr(err):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return fmt.Errorf("channel: %s: %w", op, err)
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE)
}
