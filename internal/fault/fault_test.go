package fault

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(KindFraming, "wire.ParseHeader", "bad delimiter %q", 'x')
	wrapped := fmt.Errorf("read command: %w", base)

	assert.Equal(t, KindFraming, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindFraming))
	assert.False(t, Is(wrapped, KindStall))
	assert.True(t, IsIntegrity(wrapped))
	assert.Contains(t, wrapped.Error(), "framing violation")
}

func TestPlainErrorsAreNotIntegrity(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.False(t, IsIntegrity(errors.New("boom")))
	assert.False(t, IsIntegrity(nil))
	assert.False(t, IsIntegrity(New(KindConfig, "config.Load", "missing")))
	assert.Nil(t, Wrap(KindChannel, "op", nil))
}

func TestPolicyAbortsOnceOnIntegrity(t *testing.T) {
	var buf bytes.Buffer
	var aborted []error
	p := &Policy{
		Logger: slog.New(slog.NewJSONHandler(&buf, nil)),
		Abort:  func(err error) { aborted = append(aborted, err) },
	}

	first := New(KindOwnership, "ownership.Validate", "channel 3")
	assert.Equal(t, first, p.Handle(first))
	p.Handle(New(KindStall, "wire.ReadFrame", "no progress"))

	assert.Len(t, aborted, 1)
	assert.Same(t, first, aborted[0])
	assert.Contains(t, buf.String(), `"kind":"ownership"`)
}

func TestPolicyPassesThroughRecoverable(t *testing.T) {
	called := false
	p := &Policy{Logger: slog.Default(), Abort: func(error) { called = true }}

	err := errors.New("transient")
	assert.Equal(t, err, p.Handle(err))
	assert.Nil(t, p.Handle(nil))
	assert.False(t, called)
}
