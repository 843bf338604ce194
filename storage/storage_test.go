package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "raw/abc123", ObjectKey("abc123"))
}

func TestEnableEncryptionValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"empty key", "", true},
		{"not hex", "zzzz", true},
		{"too short", "deadbeef", true},
		{"valid 32-byte key", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &S3Storage{}
			err := s.EnableEncryption(tc.key)
			if tc.wantErr {
				assert.Error(t, err)
				assert.False(t, s.Encrypt)
			} else {
				require.NoError(t, err)
				assert.True(t, s.Encrypt)
				assert.Len(t, s.EncryptionKey, 32)
			}
		})
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key, err := hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	s := &S3Storage{Encrypt: true, EncryptionKey: key}

	plaintext := []byte("From: a@example.com\r\nSubject: hi\r\n\r\nbody")
	ciphertext, err := s.encryptData(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := s.decryptData(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	key, err := hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	s := &S3Storage{Encrypt: true, EncryptionKey: key}

	plaintext := []byte("same input")
	c1, err := s.encryptData(plaintext)
	require.NoError(t, err)
	c2, err := s.encryptData(plaintext)
	require.NoError(t, err)

	// Random nonces mean identical plaintexts never share ciphertext
	assert.NotEqual(t, c1, c2)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	key, err := hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	s := &S3Storage{Encrypt: true, EncryptionKey: key}

	_, err = s.decryptData([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key, err := hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	s := &S3Storage{Encrypt: true, EncryptionKey: key}

	ciphertext, err := s.encryptData([]byte("authentic message"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xff

	_, err = s.decryptData(ciphertext)
	assert.Error(t, err)
}

func TestClassifyS3Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"access denied", errors.New("AccessDenied: request rejected"), "access_denied"},
		{"missing key", errors.New("NoSuchKey: object missing"), "not_found"},
		{"throttled", errors.New("SlowDown: too many requests"), "throttled"},
		{"network", errors.New("dial tcp: connection refused"), "network_error"},
		{"unclassified", errors.New("something else"), "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyS3Error(tc.err))
		})
	}
}
