package integrity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/c360/semtrust/errors"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	sealKeyLen   = 32
	sealSaltLen  = 32
	sealNonceLen = 12
)

func deriveSealKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, sealKeyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under passphrase. Output layout: salt | nonce | ciphertext.
func Seal(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, sealSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.WrapFatal(err, "integrity", "Seal", "generate salt")
	}
	nonce := make([]byte, sealNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.WrapFatal(err, "integrity", "Seal", "generate nonce")
	}

	gcm, err := newGCM(deriveSealKey(passphrase, salt))
	if err != nil {
		return nil, errors.WrapFatal(err, "integrity", "Seal", "init cipher")
	}

	out := make([]byte, 0, sealSaltLen+sealNonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open reverses Seal. A wrong passphrase or tampered blob is ErrDataCorrupted.
func Open(blob []byte, passphrase string) ([]byte, error) {
	if len(blob) < sealSaltLen+sealNonceLen {
		return nil, errors.WrapFatal(fmt.Errorf("%w: sealed blob too short", errors.ErrDataCorrupted),
			"integrity", "Open", "parse sealed blob")
	}
	salt := blob[:sealSaltLen]
	nonce := blob[sealSaltLen : sealSaltLen+sealNonceLen]

	gcm, err := newGCM(deriveSealKey(passphrase, salt))
	if err != nil {
		return nil, errors.WrapFatal(err, "integrity", "Open", "init cipher")
	}

	plaintext, err := gcm.Open(nil, nonce, blob[sealSaltLen+sealNonceLen:], nil)
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrDataCorrupted, err),
			"integrity", "Open", "decrypt")
	}
	return plaintext, nil
}
