package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoneModeAllowsEverything(t *testing.T) {
	v, err := NewVerifier("", "", "")
	require.NoError(t, err)
	p, err := v.Authenticate("")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())

	var nilVerifier *Verifier
	_, err = nilVerifier.Authenticate("")
	assert.NoError(t, err)
}

func TestTokenMode(t *testing.T) {
	v, err := NewVerifier("token", "", "abc=ops:admin, xyz=acme")
	require.NoError(t, err)

	p, err := v.Authenticate("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, Principal{Subject: "ops", Role: "admin"}, p)

	p, err = v.Authenticate("bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "client", p.Role)
	assert.False(t, p.IsAdmin())

	_, err = v.Authenticate("Bearer nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = v.Authenticate("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = NewVerifier("token", "", "")
	assert.Error(t, err)
	_, err = NewVerifier("token", "", "broken")
	assert.Error(t, err)
}

func TestHMACMode(t *testing.T) {
	secret := []byte("s3cret")
	v, err := NewVerifier("hmac", string(secret), "")
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return now }

	tok := SignHS256(secret, "planner", "Admin", now.Add(time.Hour))
	p, err := v.Authenticate("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{Subject: "planner", Role: "admin"}, p)

	expired := SignHS256(secret, "planner", "admin", now.Add(-time.Minute))
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	forged := SignHS256([]byte("other"), "planner", "admin", time.Time{})
	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewVerifier("hmac", "", "")
	assert.Error(t, err)
	_, err = NewVerifier("jwks", "", "")
	assert.Error(t, err)
}
