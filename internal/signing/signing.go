// Package signing implements the webhook delivery signature: HMAC-SHA256
// over "<timestamp>.<body>", hex-encoded, carried as
// "X-Signature: sha256=<hex>". Receivers accept a signature only when the
// timestamp is within the replay window.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const prefix = "sha256="

// ReplayWindow bounds |now - timestamp| for an acceptable signature.
const ReplayWindow = 300 * time.Second

// Sign computes the signature header value for body at timestamp ts.
func Sign(secret, body []byte, ts int64) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body, secret, and timestamp, enforcing
// the replay window relative to now. Comparison is timing-safe.
func Verify(secret, body []byte, ts int64, signature string, now time.Time) bool {
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	delta := now.Unix() - ts
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(ReplayWindow/time.Second) {
		return false
	}
	want := Sign(secret, body, ts)
	return hmac.Equal([]byte(signature), []byte(want))
}
