// Package wire frames commands for transmission over a byte stream.
//
// A frame is a fixed 10-byte ASCII header followed by the raw payload:
//
//	<9 decimal digits, zero padded><space><payload bytes>
//
// The payload is binary safe. Its length must be representable in nine
// digits, so the largest frame carries MaxPayload bytes.
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/mattjoyce/ipcmux/internal/fault"
)

const (
	// HeaderSize is the length of the frame header including the delimiter.
	HeaderSize = 10
	// MaxPayload is the largest payload a header can describe.
	MaxPayload = 999_999_999

	lengthDigits = HeaderSize - 1
	delimiter    = ' '
)

// EncodeHeader renders the header for a payload of n bytes.
func EncodeHeader(n int) ([HeaderSize]byte, error) {
	var h [HeaderSize]byte
	if n < 0 || n > MaxPayload {
		return h, fault.New(fault.KindFraming, "wire.EncodeHeader",
			"payload length %d outside [0, %d]", n, MaxPayload)
	}
	for i := lengthDigits - 1; i >= 0; i-- {
		h[i] = byte('0' + n%10)
		n /= 10
	}
	h[lengthDigits] = delimiter
	return h, nil
}

// ParseHeader validates a header and returns the payload length it announces.
func ParseHeader(h []byte) (int, error) {
	const op = "wire.ParseHeader"
	if len(h) != HeaderSize {
		return 0, fault.New(fault.KindFraming, op, "header is %d bytes, want %d", len(h), HeaderSize)
	}
	if h[lengthDigits] != delimiter {
		return 0, fault.New(fault.KindFraming, op, "byte %d is %q, want space", lengthDigits, h[lengthDigits])
	}
	n := 0
	for i, c := range h[:lengthDigits] {
		if c < '0' || c > '9' {
			return 0, fault.New(fault.KindFraming, op, "byte %d is %q, want decimal digit", i, c)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// WriteFrame writes the header and the payload as two separate writes.
//
// Each write must transfer its whole buffer. A short or failed write leaves
// the stream unusable: the writer is closed if it implements io.Closer and
// a fault.KindChannel error is returned. Short writes are never retried.
func WriteFrame(w io.Writer, payload []byte) error {
	h, err := EncodeHeader(len(payload))
	if err != nil {
		return err
	}
	if err := writeAll(w, h[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return writeAll(w, payload)
}

func writeAll(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err == nil && n == len(b) {
		return nil
	}
	if c, ok := w.(io.Closer); ok {
		_ = c.Close()
	}
	if err == nil {
		err = io.ErrShortWrite
	}
	return fault.Wrap(fault.KindChannel, "wire.WriteFrame",
		fmt.Errorf("wrote %d of %d bytes: %w", n, len(b), err))
}

// ReadFrame reads one complete frame and returns its payload.
//
// Short reads are expected and looped over. A read that returns neither
// data nor an error is a stalled stream (fault.KindStall); running out of
// stream mid-frame is fault.KindChannel; a malformed header is
// fault.KindFraming.
//
// The returned slice has capacity len+1 and is followed by a NUL byte, so
// text consumers can treat it as a terminated string.
func ReadFrame(r io.Reader) ([]byte, error) {
	var h [HeaderSize]byte
	if err := readFull(r, h[:], "header"); err != nil {
		return nil, err
	}
	n, err := ParseHeader(h[:])
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n+1)
	if err := readFull(r, buf[:n], "payload"); err != nil {
		return nil, err
	}
	buf[n] = 0
	return buf[:n], nil
}

func readFull(r io.Reader, buf []byte, part string) error {
	const op = "wire.ReadFrame"
	for got := 0; got < len(buf); {
		n, err := r.Read(buf[got:])
		got += n
		if got == len(buf) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fault.New(fault.KindChannel, op, "%s: stream closed after %d of %d bytes", part, got, len(buf))
			}
			return fault.Wrap(fault.KindChannel, op, fmt.Errorf("%s: %w", part, err))
		}
		if n == 0 {
			return fault.New(fault.KindStall, op, "%s: no progress after %d of %d bytes", part, got, len(buf))
		}
	}
	return nil
}
