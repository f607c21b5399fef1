package audit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// Blob layout: epoch(4, big endian) | salt(16) | nonce(12) | GCM ciphertext+tag
const (
	blobEpochLen = 4
	blobSaltLen  = 16
	blobNonceLen = 12
	blobMinLen   = blobEpochLen + blobSaltLen + blobNonceLen + 16 // +GCM tag
)

// KeyProvider abstracts the master secret so rotation becomes a configuration
// change. Single-key-at-a-time: blobs embed the epoch they were written
// under, and a rotating provider is a drop-in replacement.
type KeyProvider interface {
	// CurrentKey returns the active master key and its rotation epoch
	CurrentKey() (epoch uint32, key []byte)

	// KeyForEpoch returns the master key for a rotation epoch
	KeyForEpoch(epoch uint32) ([]byte, error)
}

// StaticKeyProvider serves one master key under epoch 0
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider validates and wraps a master secret
func NewStaticKeyProvider(key []byte) (*StaticKeyProvider, error) {
	if len(key) < 32 {
		return nil, errors.NewValidationError("WEAK_MASTER_KEY",
			"master key must be at least 32 bytes")
	}
	return &StaticKeyProvider{key: key}, nil
}

func (p *StaticKeyProvider) CurrentKey() (uint32, []byte) {
	return 0, p.key
}

func (p *StaticKeyProvider) KeyForEpoch(epoch uint32) ([]byte, error) {
	if epoch != 0 {
		return nil, errors.NewEncryptionError("UNKNOWN_KEY_EPOCH",
			"no key registered for rotation epoch")
	}
	return p.key, nil
}

// Argon2Params tunes the deliberately slow per-record key derivation
type Argon2Params struct {
	Time    uint32
	MemoryK uint32
	Threads uint8
}

// DefaultArgon2Params matches the argon2id recommended baseline
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 1, MemoryK: 64 * 1024, Threads: 4}
}

// EnvelopeEncryptor derives a fresh per-record key from the master secret and
// a random salt, then encrypts with AES-256-GCM. Two calls on identical
// plaintext never produce identical blobs: salt and nonce are fresh each call.
type EnvelopeEncryptor struct {
	keys   KeyProvider
	params Argon2Params
}

// NewEnvelopeEncryptor creates an encryptor over the given key provider
func NewEnvelopeEncryptor(keys KeyProvider, params Argon2Params) (*EnvelopeEncryptor, error) {
	if keys == nil {
		return nil, errors.NewValidationError("MISSING_KEY_PROVIDER",
			"key provider is required")
	}
	if params.Time == 0 || params.MemoryK == 0 || params.Threads == 0 {
		params = DefaultArgon2Params()
	}
	return &EnvelopeEncryptor{keys: keys, params: params}, nil
}

// Encrypt seals plaintext into a self-describing blob
func (e *EnvelopeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.NewEncryptionError("EMPTY_PLAINTEXT",
			"plaintext cannot be empty")
	}

	epoch, masterKey := e.keys.CurrentKey()

	salt := make([]byte, blobSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.NewEncryptionError("SALT_GENERATION_FAILED",
			"failed to generate record salt").WithCause(err)
	}

	gcm, err := e.aead(masterKey, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, blobNonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.NewEncryptionError("NONCE_GENERATION_FAILED",
			"failed to generate nonce").WithCause(err)
	}

	blob := make([]byte, blobEpochLen, blobMinLen+len(plaintext))
	binary.BigEndian.PutUint32(blob, epoch)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plaintext, nil)

	return blob, nil
}

// Decrypt opens a blob produced by Encrypt. A failed authentication tag means
// corruption or tampering, detected independently of the verification hash.
func (e *EnvelopeEncryptor) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < blobMinLen {
		return nil, errors.NewEncryptionError("MALFORMED_BLOB",
			"ciphertext blob is too short")
	}

	epoch := binary.BigEndian.Uint32(blob[:blobEpochLen])
	salt := blob[blobEpochLen : blobEpochLen+blobSaltLen]
	nonce := blob[blobEpochLen+blobSaltLen : blobEpochLen+blobSaltLen+blobNonceLen]
	ciphertext := blob[blobEpochLen+blobSaltLen+blobNonceLen:]

	masterKey, err := e.keys.KeyForEpoch(epoch)
	if err != nil {
		return nil, err
	}

	gcm, err := e.aead(masterKey, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.NewEncryptionError("AUTHENTICATION_FAILED",
			"ciphertext authentication failed").WithCause(err)
	}

	return plaintext, nil
}

// aead derives the per-record key and builds the AES-GCM cipher
func (e *EnvelopeEncryptor) aead(masterKey, salt []byte) (cipher.AEAD, error) {
	recordKey := argon2.IDKey(masterKey, salt, e.params.Time, e.params.MemoryK, e.params.Threads, 32)

	block, err := aes.NewCipher(recordKey)
	if err != nil {
		return nil, errors.NewEncryptionError("CIPHER_INIT_FAILED",
			"failed to initialize cipher").WithCause(err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewEncryptionError("CIPHER_INIT_FAILED",
			"failed to initialize GCM").WithCause(err)
	}

	return gcm, nil
}
