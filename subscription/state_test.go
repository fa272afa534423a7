package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/shinkai-node/errs"
)

func TestLifecycleHappyPath(t *testing.T) {
	s := StateNone
	var err error

	s, err = Next(s, EventRequest)
	require.NoError(t, err)
	assert.Equal(t, StateRequested, s)

	s, err = Next(s, EventConfirm)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, s)

	s, err = Next(s, EventUnsubRequest)
	require.NoError(t, err)
	assert.Equal(t, StateUnsubRequested, s)

	s, err = Next(s, EventAck)
	require.NoError(t, err)
	assert.Equal(t, StateUnsubConfirmed, s)
}

func TestIdempotentSelfTransitions(t *testing.T) {
	s, err := Next(StateConfirmed, EventConfirm)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, s)

	s, err = Next(StateRequested, EventRequest)
	require.NoError(t, err)
	assert.Equal(t, StateRequested, s)
}

// TestRegressionRejected verifies an invalid
// transition: Confirmed -> Requested must fail with InvalidState.
func TestRegressionRejected(t *testing.T) {
	_, err := Next(StateConfirmed, EventRequest)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidState))
}

func TestUnknownStateRejected(t *testing.T) {
	_, err := Next(State(99), EventRequest)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidState))
}
