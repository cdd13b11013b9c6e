package utils

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerateRandomToken 编码后长度和熵字节数要对得上
func TestGenerateRandomToken(t *testing.T) {
	for _, n := range []int{16, 32, 64} {
		t.Run(fmt.Sprintf("%d bytes", n), func(t *testing.T) {
			token, err := GenerateRandomToken(n)
			require.NoError(t, err)

			assert.Equal(t, base64.URLEncoding.EncodedLen(n), len(token))

			raw, err := base64.URLEncoding.DecodeString(token)
			require.NoError(t, err)
			assert.Len(t, raw, n)
		})
	}
}

// TestGenerateRandomToken_InvalidLength 非正长度直接拒绝
func TestGenerateRandomToken_InvalidLength(t *testing.T) {
	for _, n := range []int{0, -1} {
		token, err := GenerateRandomToken(n)
		assert.Error(t, err, "length %d", n)
		assert.Empty(t, token)
	}
}

// TestGenerateRandomToken_Uniqueness 令牌不能重复
func TestGenerateRandomToken_Uniqueness(t *testing.T) {
	const count = 200
	seen := make(map[string]bool, count)

	for i := 0; i < count; i++ {
		token, err := GenerateRandomToken(32)
		require.NoError(t, err)
		assert.False(t, seen[token], "duplicate token: %s", token)
		seen[token] = true
	}
}

// TestGenerateRandomToken_URLSafe 令牌可以原样放进 URL 和 Cookie
func TestGenerateRandomToken_URLSafe(t *testing.T) {
	token, err := GenerateRandomToken(64)
	require.NoError(t, err)
	assert.Regexp(t, "^[A-Za-z0-9_=-]+$", token)
}
