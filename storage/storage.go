// Package storage provides S3-compatible object storage for raw message
// archives.
//
// Raw messages are stored content-addressed: the object key is derived
// from the message fingerprint, so archiving the same message twice is a
// no-op overwrite of identical bytes. When encryption is enabled,
// messages are encrypted client-side with AES-256-GCM before upload; the
// key is configured in config.toml as a 32-byte hex-encoded string.
package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mailsift/mailsift/logger"
	"github.com/mailsift/mailsift/pkg/metrics"
	"github.com/mailsift/mailsift/pkg/retry"
)

// rawPrefix namespaces archived raw messages inside the bucket.
const rawPrefix = "raw/"

type S3Storage struct {
	Client        *minio.Client
	BucketName    string
	Encrypt       bool
	EncryptionKey []byte
}

func New(endpoint, accessKeyID, secretAccessKey, bucketName string, useSSL bool, debug bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		logger.Error("STORAGE: failed to initialize MinIO client", "error", err)
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	if debug {
		client.TraceOn(os.Stdout)
	}

	return &S3Storage{
		Client:     client,
		BucketName: bucketName,
		Encrypt:    false,
	}, nil
}

// EnableEncryption enables client-side encryption for archived objects.
func (s *S3Storage) EnableEncryption(encryptionKey string) error {
	if encryptionKey == "" {
		return fmt.Errorf("encryption key is required when encryption is enabled")
	}

	masterKey, err := hex.DecodeString(encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(masterKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes (64 hex characters)")
	}

	s.Encrypt = true
	s.EncryptionKey = masterKey
	logger.Info("STORAGE: client-side encryption enabled")

	return nil
}

// ObjectKey maps a fingerprint to its bucket key.
func ObjectKey(fingerprint string) string {
	return rawPrefix + fingerprint
}

// Archive implements the pipeline archiver: it uploads the raw message
// bytes under the fingerprint key, retrying transient failures with
// exponential backoff. Already-archived fingerprints are skipped.
func (s *S3Storage) Archive(ctx context.Context, fingerprint string, raw []byte) error {
	key := ObjectKey(fingerprint)

	exists, _, err := s.Exists(ctx, key)
	if err == nil && exists {
		logger.Info("STORAGE: raw message already archived", "fingerprint", fingerprint)
		return nil
	}

	cfg := retry.DefaultBackoffConfig()
	cfg.MaxRetries = 3
	return retry.WithRetry(ctx, func() error {
		err := s.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)))
		if err != nil && classifyS3Error(err) == "access_denied" {
			// Credentials problems will not resolve on retry
			return retry.Stop(err)
		}
		return err
	}, cfg)
}

// GetRaw fetches an archived raw message by fingerprint.
func (s *S3Storage) GetRaw(ctx context.Context, fingerprint string) ([]byte, error) {
	obj, err := s.Get(ctx, ObjectKey(fingerprint))
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// Exists checks if an object with the given key exists in the bucket.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, string, error) {
	objInfo, err := s.Client.StatObject(ctx, s.BucketName, key, minio.StatObjectOptions{})
	if err == nil {
		return true, objInfo.VersionID, nil
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		if minioErr.StatusCode == 404 {
			return false, "", nil
		}
	}

	return false, "", fmt.Errorf("failed to stat object %s: %w", key, err)
}

func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()

	// If encryption is enabled, encrypt the data before uploading
	if s.Encrypt {
		data, err := io.ReadAll(body)
		if err != nil {
			metrics.S3OperationsTotal.WithLabelValues("PUT", "error").Inc()
			return fmt.Errorf("failed to read data for encryption: %w", err)
		}

		encryptedData, err := s.encryptData(data)
		if err != nil {
			metrics.S3OperationsTotal.WithLabelValues("PUT", "error").Inc()
			return fmt.Errorf("failed to encrypt data: %w", err)
		}

		body = bytes.NewReader(encryptedData)
		size = int64(len(encryptedData))
	}

	_, err := s.Client.PutObject(
		ctx,
		s.BucketName,
		key,
		body,
		size,
		minio.PutObjectOptions{SendContentMd5: true},
	)
	if err != nil {
		metrics.S3OperationsTotal.WithLabelValues("PUT", "error").Inc()
	} else {
		metrics.S3OperationsTotal.WithLabelValues("PUT", "success").Inc()
	}
	metrics.S3OperationDuration.WithLabelValues("PUT").Observe(time.Since(start).Seconds())
	return err
}

func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()

	object, err := s.Client.GetObject(ctx, s.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		metrics.S3OperationsTotal.WithLabelValues("GET", "error").Inc()
		metrics.S3OperationDuration.WithLabelValues("GET").Observe(time.Since(start).Seconds())
		return nil, err
	}

	// If encryption is enabled, decrypt the data after downloading
	if s.Encrypt {
		encryptedData, err := io.ReadAll(object)
		if err != nil {
			metrics.S3OperationsTotal.WithLabelValues("GET", "error").Inc()
			metrics.S3OperationDuration.WithLabelValues("GET").Observe(time.Since(start).Seconds())
			return nil, fmt.Errorf("failed to read encrypted data: %w", err)
		}

		if err := object.Close(); err != nil {
			logger.Warn("STORAGE: failed to close S3 object", "error", err)
		}

		decryptedData, err := s.decryptData(encryptedData)
		if err != nil {
			metrics.S3OperationsTotal.WithLabelValues("GET", "error").Inc()
			metrics.S3OperationDuration.WithLabelValues("GET").Observe(time.Since(start).Seconds())
			return nil, fmt.Errorf("failed to decrypt data: %w", err)
		}

		metrics.S3OperationsTotal.WithLabelValues("GET", "success").Inc()
		metrics.S3OperationDuration.WithLabelValues("GET").Observe(time.Since(start).Seconds())
		return io.NopCloser(bytes.NewReader(decryptedData)), nil
	}

	metrics.S3OperationsTotal.WithLabelValues("GET", "success").Inc()
	metrics.S3OperationDuration.WithLabelValues("GET").Observe(time.Since(start).Seconds())
	return object, nil
}

// Delete removes an object. Deleting a missing key is not an error, so
// the admin purge command is idempotent.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	start := time.Now()

	exists, versionID, err := s.Exists(ctx, key)
	if err != nil {
		logger.Error("STORAGE: error checking existence of object", "key", key, "error", err)
		metrics.S3OperationsTotal.WithLabelValues("DELETE", "error").Inc()
		metrics.S3OperationDuration.WithLabelValues("DELETE").Observe(time.Since(start).Seconds())
		return err
	}
	if !exists {
		logger.Info("STORAGE: object does not exist, skipping deletion", "key", key)
		metrics.S3OperationsTotal.WithLabelValues("DELETE", "skipped").Inc()
		metrics.S3OperationDuration.WithLabelValues("DELETE").Observe(time.Since(start).Seconds())
		return nil
	}
	err = s.Client.RemoveObject(ctx, s.BucketName, key, minio.RemoveObjectOptions{VersionID: versionID})
	if err != nil {
		metrics.S3OperationsTotal.WithLabelValues("DELETE", "error").Inc()
	} else {
		metrics.S3OperationsTotal.WithLabelValues("DELETE", "success").Inc()
	}
	metrics.S3OperationDuration.WithLabelValues("DELETE").Observe(time.Since(start).Seconds())
	return err
}

// encryptData encrypts data using AES-256-GCM. The nonce is prepended to
// the ciphertext.
func (s *S3Storage) encryptData(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.EncryptionKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptData decrypts data using AES-256-GCM.
func (s *S3Storage) decryptData(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.EncryptionKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertext, nil)
}

// classifyS3Error classifies S3 errors for retry decisions.
func classifyS3Error(err error) string {
	if err == nil {
		return "none"
	}

	errStr := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case strings.Contains(errStr, "AccessDenied") || strings.Contains(errStr, "Forbidden"):
		return "access_denied"
	case strings.Contains(errStr, "NoSuchKey") || strings.Contains(errStr, "NotFound"):
		return "not_found"
	case strings.Contains(errStr, "SlowDown") || strings.Contains(errStr, "RequestLimitExceeded"):
		return "throttled"
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return "network_error"
	default:
		return "unknown"
	}
}
