package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("POOL_TEST_INT64", "0")
	t.Setenv("POOL_TEST_BOOL", "true")
	t.Setenv("POOL_TEST_LIST", "http://a, http://b ,,http://a")
	t.Setenv("POOL_TEST_PAIRS", "alice=100, bob = 20,broken")

	assert.Equal(t, int64(0), EnvInt64("POOL_TEST_INT64", 7))
	assert.Equal(t, int64(7), EnvInt64("POOL_TEST_MISSING", 7))
	assert.True(t, EnvBool("POOL_TEST_BOOL", false))
	assert.Equal(t, []string{"http://a", "http://b"}, EnvList("POOL_TEST_LIST"))
	assert.Equal(t, map[string]string{"alice": "100", "bob": "20"}, EnvPairs("POOL_TEST_PAIRS"))
	assert.Equal(t, "fallback", Env("POOL_TEST_MISSING", "fallback"))
}

func TestHashOrRead(t *testing.T) {
	hash, err := HashOrRead("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))

	same, err := HashOrRead(string(hash))
	require.NoError(t, err)
	assert.Equal(t, hash, same, "an existing hash is kept")
}

func TestNormalizeURLs(t *testing.T) {
	in := []string{" http://a/ ", "http://a", "", "http://b//"}
	assert.Equal(t, []string{"http://a", "http://b"}, NormalizeURLs(in))
	assert.Equal(t, []int{3, 1, 2}, Dedup([]int{3, 1, 3, 2, 1}))
	assert.Equal(t, uint8(1), BoolToUInt8(true))
}
