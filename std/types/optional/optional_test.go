package optional_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/swarmd/swarmd/std/types/optional"
)

func TestOptional(t *testing.T) {
	option := optional.Some(42)
	require.True(t, option.IsSet())
	require.Equal(t, 42, option.Unwrap())
	require.Equal(t, 42, option.GetOr(5))

	option = optional.None[int]()
	require.False(t, option.IsSet())
	val, ok := option.Get()
	require.Equal(t, 0, val)
	require.False(t, ok)
	require.Panics(t, func() { option.Unwrap() })
	require.Equal(t, 5, option.GetOr(5))

	option.Set(45)
	require.Equal(t, 45, option.Unwrap())
	option.Unset()
	require.False(t, option.IsSet())
}

func TestOptionalJson(t *testing.T) {
	var entry struct {
		Hash       optional.Optional[string] `json:"hash"`
		Difficulty optional.Optional[int]    `json:"difficulty"`
		Expiration optional.Optional[int64]  `json:"expiration"`
	}
	err := json.Unmarshal([]byte(`{"hash":"abc","difficulty":null}`), &entry)
	require.NoError(t, err)
	require.Equal(t, "abc", entry.Hash.Unwrap())
	require.False(t, entry.Difficulty.IsSet())
	require.False(t, entry.Expiration.IsSet())

	err = json.Unmarshal([]byte(`{"difficulty":"high"}`), &entry)
	require.Error(t, err)

	out, err := json.Marshal(entry)
	require.NoError(t, err)
	require.JSONEq(t, `{"hash":"abc","difficulty":null,"expiration":null}`, string(out))
}

func TestCastInt(t *testing.T) {
	out := optional.CastInt[int, uint64](optional.Some(7))
	require.Equal(t, uint64(7), out.Unwrap())
	require.False(t, optional.CastInt[int, uint64](optional.None[int]()).IsSet())
}
