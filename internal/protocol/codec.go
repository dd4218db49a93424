// Package protocol encodes command results for the reply direction of a channel.
//
// A result is written as a 13-byte header, the body and a newline:
//
//	"%-3d %-8d\n" status, body length
//
// This is the Varnish CLI result framing. Commands travel the other way in
// package wire frames; results never do.
package protocol

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/ipcmux/internal/fault"
)

const (
	// HeaderSize is the length of a result header.
	HeaderSize = 13
	// MaxBody is the largest body the 8-digit length field can carry.
	MaxBody = 99_999_999
)

// ErrTimeout is returned by ReadResult when no reply arrived in time.
var ErrTimeout = errors.New("result read timed out")

// DeadlineReader is a reader with read deadlines, typically a net.Conn.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// EncodeResult writes r to w. Bodies longer than MaxBody are cut and
// reported with StatusTruncated.
func EncodeResult(w io.Writer, r Result) error {
	if r.Status < 0 || r.Status > 999 {
		return fmt.Errorf("invalid status %d (must fit three digits)", r.Status)
	}
	text := r.Text
	if len(text) > MaxBody {
		text = text[:MaxBody]
		r.Status = StatusTruncated
	}

	var b strings.Builder
	b.Grow(HeaderSize + len(text) + 1)
	fmt.Fprintf(&b, "%-3d %-8d\n", int(r.Status), len(text))
	b.WriteString(text)
	b.WriteByte('\n')

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fault.Wrap(fault.KindChannel, "protocol.EncodeResult", err)
	}
	return nil
}

// DecodeResult reads one result from r.
// On failure the returned Result carries StatusComms so callers always have
// something to report.
func DecodeResult(r io.Reader) (Result, error) {
	const op = "protocol.DecodeResult"

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return commsError("hdr"), readError(op, "header", err)
	}
	if hdr[3] != ' ' || hdr[HeaderSize-1] != '\n' {
		return commsError("hdr"), fault.New(fault.KindFraming, op, "malformed header %q", hdr[:])
	}
	status, err := strconv.Atoi(strings.TrimSpace(string(hdr[:3])))
	if err != nil || status < 0 {
		return commsError("hdr"), fault.New(fault.KindFraming, op, "bad status %q", hdr[:3])
	}
	length, err := strconv.Atoi(strings.TrimSpace(string(hdr[4 : HeaderSize-1])))
	if err != nil || length < 0 {
		return commsError("hdr"), fault.New(fault.KindFraming, op, "bad length %q", hdr[4:HeaderSize-1])
	}

	body := make([]byte, length+1)
	if _, err := io.ReadFull(r, body); err != nil {
		return commsError("body"), readError(op, "body", err)
	}
	if body[length] != '\n' {
		return commsError("body"), fault.New(fault.KindFraming, op, "body not newline terminated")
	}
	return Result{Status: Status(status), Text: string(body[:length])}, nil
}

// ReadResult decodes one result from conn, waiting at most timeout.
func ReadResult(conn DeadlineReader, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return commsError("hdr"), fmt.Errorf("set read deadline: %w", err)
		}
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}
	res, err := DecodeResult(conn)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return res, ErrTimeout
	}
	return res, err
}

func commsError(part string) Result {
	return Result{Status: StatusComms, Text: fmt.Sprintf("CLI communication error (%s)", part)}
}

func readError(op, part string, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %s: %w", op, part, err)
	}
	return fault.Wrap(fault.KindChannel, op, fmt.Errorf("%s: %w", part, err))
}
