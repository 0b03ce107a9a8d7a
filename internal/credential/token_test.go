// ABOUTME: Tests for JWT issuing, verification and the structural shape check.

package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)

	token, refresh, expiresAt, err := issuer.Issue("u1")
	require.NoError(t, err)
	assert.NotEqual(t, token, refresh)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	sub, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)

	sub, err = issuer.Verify(refresh)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)
}

func TestTokenIssuer_ConsecutivePairsDiffer(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)

	t1, _, _, err := issuer.Issue("u1")
	require.NoError(t, err)
	t2, _, _, err := issuer.Issue("u1")
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), -time.Minute)

	token, _, _, err := issuer.Issue("u1")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenIssuer_WrongSecret(t *testing.T) {
	token, _, _, err := NewTokenIssuer([]byte("one"), time.Hour).Issue("u1")
	require.NoError(t, err)

	_, err = NewTokenIssuer([]byte("two"), time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestHasTokenShape(t *testing.T) {
	cases := []struct {
		token string
		want  bool
	}{
		{"aaa.bbb.ccc", true},
		{"", false},
		{"aaa.bbb", false},
		{"aaa.bbb.ccc.ddd", false},
		{"..", false},
		{"aaa..ccc", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HasTokenShape(tc.token), "token %q", tc.token)
	}
}
