package codes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/pkg/domain"
)

func TestGenerate_CEOShape(t *testing.T) {
	const alphabet = "0123456789!@#$%^&*"
	for range 50 {
		code, err := Generate(domain.RoleCEO)
		require.NoError(t, err)
		assert.Len(t, code, 6)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(alphabet, c), "unexpected char %q", c)
		}
	}
}

func TestGenerate_DefaultShape(t *testing.T) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
	for _, role := range []domain.Role{domain.RoleBuyer, domain.RoleVendor} {
		for range 50 {
			code, err := Generate(role)
			require.NoError(t, err)
			assert.Len(t, code, 8)
			for _, c := range code {
				assert.True(t, strings.ContainsRune(alphabet, c), "unexpected char %q", c)
			}
		}
	}
}

func TestHasher_DeterministicAndKeyed(t *testing.T) {
	h1 := NewHasher("pepper-a")
	h2 := NewHasher("pepper-b")

	sum := h1.Sum("123456")
	assert.Equal(t, sum, h1.Sum("123456"), "same pepper and code must produce the same digest")
	assert.NotEqual(t, sum, h1.Sum("123457"))
	assert.NotEqual(t, sum, h2.Sum("123456"), "different pepper must change the digest")
	assert.NotContains(t, sum, "123456", "digest must not contain the plaintext")
}

func TestEqual(t *testing.T) {
	h := NewHasher("pepper")
	a := h.Sum("code-a")
	assert.True(t, Equal(a, h.Sum("code-a")))
	assert.False(t, Equal(a, h.Sum("code-b")))
	assert.False(t, Equal(a, ""))
}
