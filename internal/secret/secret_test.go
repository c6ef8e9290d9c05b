package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rotd/internal/fault"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestFromEnv(t *testing.T) {
	t.Setenv("ROTD_TEST_KEY", testKey)

	k, err := FromEnv("ROTD_TEST_KEY")
	require.NoError(t, err)

	var seen string
	require.NoError(t, k.Use(func(b []byte) error {
		seen = string(b)
		return nil
	}))
	assert.Equal(t, testKey, seen)
}

func TestFromEnvMissing(t *testing.T) {
	_, err := FromEnv("ROTD_TEST_KEY_UNSET")
	require.Error(t, err)
	assert.True(t, fault.IsFatal(err))
}

func TestFromEnvTooShort(t *testing.T) {
	t.Setenv("ROTD_TEST_KEY", "short")

	_, err := FromEnv("ROTD_TEST_KEY")
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.Config)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestNewWipesInput(t *testing.T) {
	b := []byte(testKey)
	_, err := New(b)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(b)), b)
}

func TestUseNilKey(t *testing.T) {
	var k *Key
	err := k.Use(func([]byte) error { return nil })
	assert.True(t, fault.IsFatal(err))
}
