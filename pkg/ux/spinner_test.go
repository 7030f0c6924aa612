package ux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinner_StartStopIsIdempotent(t *testing.T) {
	SetPlain(true)
	t.Cleanup(func() { SetPlain(true) })

	s := NewSpinner("working")
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestSpinner_UpdateMessage(t *testing.T) {
	SetPlain(true)

	s := NewSpinner("first")
	s.Start()
	s.UpdateMessage("second")
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "second", s.message)
}

func TestWithSpinner_PropagatesError(t *testing.T) {
	SetPlain(true)

	wantErr := errors.New("boom")
	err := WithSpinner("doing work", func() error { return wantErr })
	require.ErrorIs(t, err, wantErr)

	err = WithSpinner("doing work", func() error { return nil })
	assert.NoError(t, err)
}
