package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var testT *testing.T

// SetT sets the test context used by NoErr and Err.
func SetT(t *testing.T) {
	testT = t
}

// NoErr asserts err is nil and returns v.
func NoErr[T any](v T, err error) T {
	require.NoError(testT, err)
	return v
}

// Err asserts err is not nil and returns it.
func Err[T any](_ T, err error) error {
	require.Error(testT, err)
	return err
}
