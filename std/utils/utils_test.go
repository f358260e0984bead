package utils_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/swarmd/swarmd/std/utils"
	tu "github.com/swarmd/swarmd/std/utils/testutils"
)

func TestMakeTimestamp(t *testing.T) {
	tu.SetT(t)

	date := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, uint64(1609459200000), utils.MakeTimestamp(date))
	require.True(t, date.Equal(utils.FromTimestamp(1609459200000)))
}

func TestIf(t *testing.T) {
	tu.SetT(t)

	require.Equal(t, "a", utils.If(true, "a", "b"))
	require.Equal(t, "b", utils.If(false, "a", "b"))
}
