package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeErr_UnwrapsToUnderlyingError(t *testing.T) {
	cause := errors.New("bad flag")
	err := usageError(cause)

	var ec *exitCodeErr
	ok := errors.As(err, &ec)
	assert.True(t, ok)
	assert.Equal(t, 1, ec.code)
	assert.ErrorIs(t, err, cause)
}

func TestRuntimeError_ReportsCodeTwo(t *testing.T) {
	err := runtimeError(errors.New("boom"))

	var ec *exitCodeErr
	errors.As(err, &ec)
	assert.Equal(t, 2, ec.code)
}

func TestUsageError_NilInputReturnsNil(t *testing.T) {
	assert.NoError(t, usageError(nil))
}
