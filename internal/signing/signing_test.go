package signing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"event":"claim.confirmed","version":"1.0"}`)
	now := time.Unix(1700000000, 0)
	ts := now.Unix()

	sig := Sign(secret, body, ts)
	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.True(t, Verify(secret, body, ts, sig, now))
}

func TestVerify_TamperedBody(t *testing.T) {
	secret := []byte("whsec_test")
	now := time.Unix(1700000000, 0)
	ts := now.Unix()

	sig := Sign(secret, []byte(`{"a":1}`), ts)
	assert.False(t, Verify(secret, []byte(`{"a":2}`), ts, sig, now))
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ts := now.Unix()

	sig := Sign([]byte("secret-a"), []byte("body"), ts)
	assert.False(t, Verify([]byte("secret-b"), []byte("body"), ts, sig, now))
}

func TestVerify_ReplayWindow(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte("body")
	now := time.Unix(1700000000, 0)

	// exactly at the edge is still acceptable
	ts := now.Add(-ReplayWindow).Unix()
	assert.True(t, Verify(secret, body, ts, Sign(secret, body, ts), now))

	// 400s stale is rejected even though the MAC itself is valid
	ts = now.Add(-400 * time.Second).Unix()
	assert.False(t, Verify(secret, body, ts, Sign(secret, body, ts), now))

	// timestamps from the future are bounded the same way
	ts = now.Add(400 * time.Second).Unix()
	assert.False(t, Verify(secret, body, ts, Sign(secret, body, ts), now))
}

func TestVerify_MalformedHeader(t *testing.T) {
	secret := []byte("whsec_test")
	now := time.Unix(1700000000, 0)
	assert.False(t, Verify(secret, []byte("body"), now.Unix(), "md5=abcdef", now))
	assert.False(t, Verify(secret, []byte("body"), now.Unix(), "", now))
}
