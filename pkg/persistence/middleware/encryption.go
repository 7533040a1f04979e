package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// envelopeKey marks an encrypted payload in the underlying store.
const envelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new payloads.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.OutputStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts artifact
// payloads at rest using AES-GCM. Metadata (id, producer, type, title) stays
// readable so rings can still be listed and evicted.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.OutputStore) ports.OutputStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}, nil
}

func (m *encryptionMiddleware) Append(ctx context.Context, artifact domain.OutputArtifact, capacity int) error {
	if artifact.Payload != nil {
		plainText, err := json.Marshal(artifact.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		ciphertext, err := encrypt(plainText, m.config.ActiveKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt payload: %w", err)
		}
		artifact.Payload = map[string]any{
			envelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
		}
	}
	return m.next.Append(ctx, artifact, capacity)
}

func (m *encryptionMiddleware) List(ctx context.Context, producer domain.Feature) ([]domain.OutputArtifact, error) {
	list, err := m.next.List(ctx, producer)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if err := m.open(&list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (m *encryptionMiddleware) Get(ctx context.Context, id string) (domain.OutputArtifact, error) {
	artifact, err := m.next.Get(ctx, id)
	if err != nil {
		return domain.OutputArtifact{}, err
	}
	if err := m.open(&artifact); err != nil {
		return domain.OutputArtifact{}, err
	}
	return artifact, nil
}

func (m *encryptionMiddleware) Clear(ctx context.Context) error {
	return m.next.Clear(ctx)
}

// open replaces an envelope with the decrypted payload. Artifacts stored
// without a payload have no envelope.
func (m *encryptionMiddleware) open(artifact *domain.OutputArtifact) error {
	if artifact.Payload == nil {
		return nil
	}
	envelope, ok := artifact.Payload.(map[string]any)
	if !ok {
		return fmt.Errorf("artifact %s: payload is missing encrypted data envelope", artifact.ID)
	}
	encryptedStr, ok := envelope[envelopeKey].(string)
	if !ok {
		return fmt.Errorf("artifact %s: payload is missing encrypted data envelope", artifact.ID)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", artifact.ID, err)
	}

	var payload any
	if err := json.Unmarshal(plainText, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal decrypted payload: %w", err)
	}
	artifact.Payload = payload
	return nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
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

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
