package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequired(t *testing.T) {
	assert.NoError(t, Required("patient_id", "p1", "reason", "ICU bed"))

	err := Required("patient_id", "p1", "reason", "", "room_id", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "reason is required")
}

func TestStoreWrapsBothErrors(t *testing.T) {
	cause := errors.New("connection refused")
	err := Store("read comodos/r1", cause)

	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Store("noop", nil))
}

func TestConstructorsKeepKind(t *testing.T) {
	assert.ErrorIs(t, NotFound("room %s", "r1"), ErrNotFound)
	assert.ErrorIs(t, Conflict("already resolved"), ErrConflict)
	assert.False(t, errors.Is(Conflict("x"), ErrNotFound))
}
