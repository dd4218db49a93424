package wire

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ipcmux/internal/fault"
)

// chunkReader returns its data in the given chunk sizes, one per Read call.
type chunkReader struct {
	data   []byte
	chunks []int
	calls  int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := len(c.data)
	if c.calls < len(c.chunks) {
		n = min(n, c.chunks[c.calls])
	}
	n = min(n, len(p))
	c.calls++
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

// stallReader returns data once, then zero bytes with no error forever.
type stallReader struct {
	data []byte
}

func (s *stallReader) Read(p []byte) (int, error) {
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: []byte{}},
		{name: "ascii", payload: []byte("param.show -l")},
		{name: "embedded nul", payload: []byte("a\x00b\x00")},
		{name: "non ascii", payload: []byte("h\xc3\xa9llo \xff\xfe")},
		{name: "header lookalike", payload: []byte("000000003 abc")},
		{name: "large", payload: bytes.Repeat([]byte{0xAB}, 1<<20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, tt.payload))
			assert.Equal(t, HeaderSize+len(tt.payload), buf.Len())

			got, err := ReadFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
			assert.Equal(t, byte(0), got[:len(got)+1][len(got)], "payload must be NUL terminated")
			assert.Zero(t, buf.Len(), "frame must be consumed exactly")
		})
	}
}

func TestWriteFrameHeaderFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("PING")))
	assert.Equal(t, "000000004 PING", buf.String())
}

func TestEncodeHeaderBounds(t *testing.T) {
	h, err := EncodeHeader(MaxPayload)
	require.NoError(t, err)
	assert.Equal(t, "999999999 ", string(h[:]))

	n, err := ParseHeader(h[:])
	require.NoError(t, err)
	assert.Equal(t, MaxPayload, n)

	h, err = EncodeHeader(0)
	require.NoError(t, err)
	assert.Equal(t, "000000000 ", string(h[:]))

	_, err = EncodeHeader(MaxPayload + 1)
	assert.True(t, fault.Is(err, fault.KindFraming))
	_, err = EncodeHeader(-1)
	assert.True(t, fault.Is(err, fault.KindFraming))
}

func TestParseHeaderRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "missing delimiter", header: "0000000040"},
		{name: "tab delimiter", header: "000000004\t"},
		{name: "letter in length", header: "00000a004 "},
		{name: "sign", header: "-00000004 "},
		{name: "leading space", header: " 00000004 "},
		{name: "too short", header: "0004 "},
		{name: "too long", header: "0000000004 "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHeader([]byte(tt.header))
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.KindFraming), "got %v", err)
		})
	}
}

func TestReadFrameRejectsBadHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewBufferString("000000004XPING"))
	assert.True(t, fault.Is(err, fault.KindFraming))
	assert.True(t, fault.IsIntegrity(err))
}

func TestReadFramePartialReads(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 10)
	var framed bytes.Buffer
	require.NoError(t, WriteFrame(&framed, payload))

	r := &chunkReader{data: framed.Bytes(), chunks: []int{HeaderSize, 30, 50, 20}}
	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, 4, r.calls)
}

func TestReadFrameSplitHeader(t *testing.T) {
	r := &chunkReader{data: []byte("000000004 PING"), chunks: []int{3, 3, 4, 1, 3}}
	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "PING", string(got))
}

func TestReadFrameStall(t *testing.T) {
	_, err := ReadFrame(&stallReader{data: []byte("000000010 abc")})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindStall), "got %v", err)
}

func TestReadFrameTruncated(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty stream", data: ""},
		{name: "short header", data: "00000"},
		{name: "short payload", data: "000000010 abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewBufferString(tt.data))
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.KindChannel), "got %v", err)
		})
	}
}

func TestReadFrameSequential(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("A")))
	require.NoError(t, WriteFrame(&buf, []byte("BB")))

	a, err := ReadFrame(&buf)
	require.NoError(t, err)
	b, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "A", string(a))
	assert.Equal(t, "BB", string(b))
}

type shortWriter struct {
	writes int
	closed bool
}

func (s *shortWriter) Write(p []byte) (int, error) {
	s.writes++
	if s.writes == 2 {
		return len(p) / 2, nil
	}
	return len(p), nil
}

func (s *shortWriter) Close() error {
	s.closed = true
	return nil
}

func TestWriteFrameShortWriteClosesChannel(t *testing.T) {
	w := &shortWriter{}
	err := WriteFrame(w, []byte("abcdef"))
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindChannel))
	assert.True(t, errors.Is(err, io.ErrShortWrite))
	assert.True(t, w.closed)
	assert.Equal(t, 2, w.writes, "header and payload are written separately, without retry")
}

func TestWriteFrameSeparateWrites(t *testing.T) {
	var sizes []int
	w := writerFunc(func(p []byte) (int, error) {
		sizes = append(sizes, len(p))
		return len(p), nil
	})
	require.NoError(t, WriteFrame(w, []byte("hello")))
	assert.Equal(t, []int{HeaderSize, 5}, sizes)
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// patternReader yields n bytes of a repeating pattern without materializing them.
type patternReader struct {
	remaining int
}

func (p *patternReader) Read(b []byte) (int, error) {
	if p.remaining == 0 {
		return 0, io.EOF
	}
	n := min(len(b), p.remaining)
	for i := range b[:n] {
		b[i] = byte(i % 251)
	}
	p.remaining -= n
	return n, nil
}

func TestReadFrameMaxPayload(t *testing.T) {
	if testing.Short() || os.Getenv("IPCMUX_LARGE_TESTS") == "" {
		t.Skip("set IPCMUX_LARGE_TESTS=1 to decode a 999999999-byte frame")
	}
	h, err := EncodeHeader(MaxPayload)
	require.NoError(t, err)

	r := io.MultiReader(bytes.NewReader(h[:]), &patternReader{remaining: MaxPayload})
	got, err := ReadFrame(r)
	require.NoError(t, err)
	require.Len(t, got, MaxPayload)
	assert.Equal(t, byte(0), got[0])
	assert.Equal(t, byte(1), got[1])
}
