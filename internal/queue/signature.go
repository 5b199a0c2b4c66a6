// Package queue implements the bulk-email job queue core: fan-out of a
// recipient list into broker batch messages (dispatcher), verification and
// execution of inbound batch deliveries (processor), and the signature
// scheme that authenticates the broker's webhook calls.
package queue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"mailfan/internal/types"
)

// SignatureHeader is the HTTP header carrying the broker's HMAC signature
// over the raw request body.
//
// Header format: t=<unix>,v1=<hex>
const SignatureHeader = "X-Relay-Signature"

// SignatureVerifier checks inbound batch-delivery signatures with
// dual-validity support for zero-downtime key rotation. The broker signs
// with its current key; during rotation this service accepts signatures
// under either the current or the next key.
//
// The signed content is "{unix_timestamp}.{payload}" using HMAC-SHA256,
// computed over the body bytes exactly as received. Callers must verify
// BEFORE parsing the body to rule out signature bypass via reserialization.
type SignatureVerifier struct {
	current types.SecretString
	next    types.SecretString
}

// NewSignatureVerifier creates a verifier for the given signing keys.
// The next key may be empty when no rotation is in progress.
func NewSignatureVerifier(current, next types.SecretString) *SignatureVerifier {
	return &SignatureVerifier{current: current, next: next}
}

// Verify checks the signature header against the raw payload. It fails
// closed: a missing header, an unparseable header, or a signature that
// matches neither key yields an auth error and the message must not be
// processed.
func (v *SignatureVerifier) Verify(payload []byte, header string) error {
	if header == "" {
		return types.NewAppError(
			types.ErrCodeAuthSignatureMissing,
			"missing "+SignatureHeader+" header",
			nil,
		)
	}

	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || parts.v1 == "" {
		return types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"malformed signature header",
			nil,
		)
	}

	signedContent := fmt.Sprintf("%s.%s", parts.timestamp, string(payload))

	if v.current != "" {
		expected := computeHMAC(signedContent, v.current.Unmask())
		if hmac.Equal([]byte(parts.v1), []byte(expected)) {
			return nil
		}
	}

	// Rotation support: a signature under the next key is equally valid.
	if v.next != "" {
		expected := computeHMAC(signedContent, v.next.Unmask())
		if hmac.Equal([]byte(parts.v1), []byte(expected)) {
			return nil
		}
	}

	return types.NewAppError(
		types.ErrCodeAuthSignatureInvalid,
		"signature does not match any configured signing key",
		nil,
	)
}

// Sign produces a signature header value for the payload under the given
// key. Used by tests and local tooling that emulate the broker.
func Sign(payload []byte, key types.SecretString, now time.Time) string {
	timestamp := now.Unix()
	signedContent := fmt.Sprintf("%d.%s", timestamp, string(payload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, computeHMAC(signedContent, key.Unmask()))
}

// signatureParts holds the parsed components of a signature header.
type signatureParts struct {
	timestamp string
	v1        string
}

// parseSignatureHeader breaks a signature header into its component parts.
// Expected format: "t=<unix>,v1=<hex>"
func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		kv := strings.SplitN(segment, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		switch key {
		case "t":
			parts.timestamp = value
		case "v1":
			parts.v1 = value
		}
	}
	return parts
}

// computeHMAC computes the HMAC-SHA256 of content using the given key
// and returns it as a lowercase hex string.
func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}
