package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001",
		NormalizeAddress("0xABCDEF0000000000000000000000000000000001"))
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001",
		NormalizeAddress(" ABCDEF0000000000000000000000000000000001 "))
	assert.True(t, IsValidAddress("0xabcdef0000000000000000000000000000000001"))
	assert.False(t, IsValidAddress("0x1234"))
}

func TestAppErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("list accounts: %w", WrapAppError(ErrCodeDatabase, "Failed to query accounts", cause))

	require.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeDatabase, ErrorCode(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "", ErrorCode(cause))
}

func TestNewAppErrorFormatting(t *testing.T) {
	err := NewAppError(ErrCodeValidation, "Invalid address")
	assert.Equal(t, "VALIDATION_ERROR: Invalid address", err.Error())

	err = NewAppError(ErrCodeValidation, "Invalid address", "0x12")
	assert.Equal(t, "VALIDATION_ERROR: Invalid address (0x12)", err.Error())
	assert.NotZero(t, err.Line)
}
