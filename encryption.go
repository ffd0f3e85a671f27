package woolfarm

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation
	PBKDF2Iterations = 100000
)

// EncryptionConfig configures at-rest encryption for archived snapshots.
type EncryptionConfig struct {
	// Enabled turns on encryption for archived snapshot blobs
	Enabled bool `yaml:"enabled"`
	// Key is the encryption key (must be 32 bytes for AES-256).
	// If empty, KeyPassword is used to derive a key.
	Key []byte `yaml:"-"`
	// KeyPassword is used to derive the encryption key via PBKDF2
	KeyPassword string `yaml:"key_password"`
}

// Encryptor provides encryption/decryption for snapshot blobs. With a raw
// key the blob format is nonce || ciphertext. With a password-derived key
// each blob carries its derivation salt (salt || nonce || ciphertext), so
// blobs written before a restart stay decryptable even though the restart
// derives a fresh salt.
type Encryptor struct {
	gcm      cipher.AEAD
	salt     []byte
	password string
}

// NewEncryptor creates a new encryptor from a key or password. Returns
// (nil, nil) when encryption is disabled.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if len(cfg.Key) > 0 {
		if len(cfg.Key) != EncryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		gcm, err := newGCM(cfg.Key)
		if err != nil {
			return nil, err
		}
		return &Encryptor{gcm: gcm}, nil
	}

	if cfg.KeyPassword == "" {
		return nil, errors.New("encryption enabled but no key or password provided")
	}
	salt := make([]byte, EncryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	gcm, err := deriveGCM(cfg.KeyPassword, salt)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: salt, password: cfg.KeyPassword}, nil
}

// Salt returns the salt used for key derivation, nil for raw-key mode.
func (e *Encryptor) Salt() []byte {
	return e.salt
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func deriveGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	return newGCM(key)
}

// Encrypt seals plaintext with a fresh random nonce prepended to the
// ciphertext. Password-derived keys additionally prepend the salt.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := e.gcm.Seal(nonce, nonce, plaintext, nil)
	if e.password == "" {
		return sealed, nil
	}
	out := make([]byte, 0, len(e.salt)+len(sealed))
	out = append(out, e.salt...)
	return append(out, sealed...), nil
}

// Decrypt opens a blob produced by Encrypt. For password-derived keys the
// blob's own salt wins: a blob sealed under an older salt is opened by
// re-deriving the key.
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	gcm := e.gcm
	if e.password != "" {
		if len(data) < EncryptionSaltSize {
			return nil, errors.New("ciphertext shorter than salt")
		}
		salt := data[:EncryptionSaltSize]
		data = data[EncryptionSaltSize:]
		if !bytes.Equal(salt, e.salt) {
			g, err := deriveGCM(e.password, salt)
			if err != nil {
				return nil, err
			}
			gcm = g
		}
	}
	if len(data) < EncryptionNonceSize {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, ciphertext := data[:EncryptionNonceSize], data[EncryptionNonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
