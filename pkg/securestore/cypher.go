package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"golang.org/x/crypto/scrypt"
)

const (
	// BlobVersion is the schema version of the sealed blobs produced by this
	// package. It is part of the authenticated associated data, so a blob
	// sealed under a different schema fails closed instead of being
	// misparsed.
	BlobVersion byte = 1

	saltLen = 32
	keyLen  = 32
)

// aad returns the associated data authenticated together with the
// ciphertext.
func aad(version byte) []byte {
	return append([]byte("walletd.sealed.v"), version)
}

// ScryptParams are the cost parameters used to stretch a passphrase into
// the symmetric encryption key. They are enumerated explicitly so they can
// evolve without touching the sealing code.
type ScryptParams struct {
	N int
	R int
	P int
}

// DefaultScryptParams is the recommended key-stretching cost.
// Check the doc for other recommended values:
// https://godoc.org/golang.org/x/crypto/scrypt
var DefaultScryptParams = ScryptParams{N: 1048576, R: 8, P: 1}

func (p ScryptParams) Validate() error {
	if p.N <= 1 || p.N&(p.N-1) != 0 || p.R <= 0 || p.P <= 0 {
		return ErrInvalidScryptParams
	}
	return nil
}

func (p ScryptParams) deriveKey(passphrase, salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
	}
	key, err := scrypt.Key(passphrase, salt, p.N, p.R, p.P, keyLen)
	if err != nil {
		return nil, nil, err
	}
	return key, salt, nil
}

// Seal encrypts the plaintext with a key derived from the passphrase and
// returns the sealed blob laid out as version || salt || nonce ||
// ciphertext, with the schema version authenticated as associated data.
func Seal(plaintext, passphrase []byte, params ScryptParams) ([]byte, error) {
	if len(plaintext) <= 0 {
		return nil, ErrNullPlainText
	}
	if len(passphrase) <= 0 {
		return nil, ErrNullPassphrase
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	key, salt, err := params.deriveKey(passphrase, nil)
	defer zero(key)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	blob := make([]byte, 0, 1+saltLen+len(nonce)+len(plaintext)+gcm.Overhead())
	blob = append(blob, BlobVersion)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plaintext, aad(BlobVersion))
	return blob, nil
}

// Open authenticates and decrypts a sealed blob. Any altered byte, as well
// as a wrong passphrase, yields ErrAuthenticationFailed; an unknown schema
// version yields ErrStoreCorrupt.
func Open(blob, passphrase []byte, params ScryptParams) ([]byte, error) {
	if len(passphrase) <= 0 {
		return nil, ErrNullPassphrase
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(blob) < 1+saltLen+12 {
		return nil, ErrAuthenticationFailed
	}
	// The version decides how the rest of the blob is parsed and
	// authenticated, so an unknown one cannot be authenticated at all and
	// is classified as corruption before any cryptography runs. Every
	// other altered byte fails authentication below.
	version := blob[0]
	if version != BlobVersion {
		return nil, ErrStoreCorrupt
	}

	salt := blob[1 : 1+saltLen]
	key, _, err := params.deriveKey(passphrase, salt)
	defer zero(key)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	rest := blob[1+saltLen:]
	if len(rest) < gcm.NonceSize() {
		return nil, ErrAuthenticationFailed
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad(version))
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(blockCipher)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
