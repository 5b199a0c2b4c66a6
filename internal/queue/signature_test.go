package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfan/internal/types"
)

const (
	testCurrentKey = types.SecretString("sig_current_key")
	testNextKey    = types.SecretString("sig_next_key")
)

func TestSignatureVerifier_ValidCurrentKey(t *testing.T) {
	v := NewSignatureVerifier(testCurrentKey, testNextKey)
	payload := []byte(`{"job_id":"job_1","batch_index":0}`)
	header := Sign(payload, testCurrentKey, time.Now())

	assert.NoError(t, v.Verify(payload, header))
}

func TestSignatureVerifier_ValidNextKey(t *testing.T) {
	// Key-rotation support: a signature under the next key must be accepted
	// even though it does not match the current key.
	v := NewSignatureVerifier(testCurrentKey, testNextKey)
	payload := []byte(`{"job_id":"job_1","batch_index":0}`)
	header := Sign(payload, testNextKey, time.Now())

	assert.NoError(t, v.Verify(payload, header))
}

func TestSignatureVerifier_MissingHeader(t *testing.T) {
	v := NewSignatureVerifier(testCurrentKey, "")

	err := v.Verify([]byte("{}"), "")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthSignatureMissing, appErr.Code)
}

func TestSignatureVerifier_TamperedBody(t *testing.T) {
	v := NewSignatureVerifier(testCurrentKey, testNextKey)
	payload := []byte(`{"job_id":"job_1","batch_index":0}`)
	header := Sign(payload, testCurrentKey, time.Now())

	// The signature string is unchanged, but the body differs.
	tampered := []byte(`{"job_id":"job_1","batch_index":9}`)
	err := v.Verify(tampered, header)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthSignatureInvalid, appErr.Code)
}

func TestSignatureVerifier_UnknownKey(t *testing.T) {
	v := NewSignatureVerifier(testCurrentKey, testNextKey)
	payload := []byte(`{"job_id":"job_1"}`)
	header := Sign(payload, types.SecretString("some_other_key"), time.Now())

	err := v.Verify(payload, header)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthSignatureInvalid, appErr.Code)
}

func TestSignatureVerifier_MalformedHeader(t *testing.T) {
	v := NewSignatureVerifier(testCurrentKey, "")
	payload := []byte(`{"job_id":"job_1"}`)

	tests := []struct {
		name   string
		header string
	}{
		{"garbage", "not-a-signature"},
		{"missing v1", "t=1700000000"},
		{"missing timestamp", "v1=deadbeef"},
		{"empty segments", ",,,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(payload, tt.header)
			require.Error(t, err)

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, types.ErrCodeAuthSignatureInvalid, appErr.Code)
		})
	}
}

func TestSignatureVerifier_TimestampBoundToSignature(t *testing.T) {
	// Moving a valid signature onto a different timestamp must fail, since
	// the timestamp is part of the signed content.
	v := NewSignatureVerifier(testCurrentKey, "")
	payload := []byte(`{"job_id":"job_1"}`)
	header := Sign(payload, testCurrentKey, time.Unix(1700000000, 0))

	parts := parseSignatureHeader(header)
	forged := "t=1800000000,v1=" + parts.v1

	assert.Error(t, v.Verify(payload, forged))
}
