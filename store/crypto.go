package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

const encPrefix = "enc:"

type dataCrypto struct {
	gcm cipher.AEAD
}

func newDataCrypto(key string) (*dataCrypto, error) {
	if key == "" {
		return nil, nil
	}
	encKey := sha256.Sum256([]byte("enc:" + key))
	block, err := aes.NewCipher(encKey[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &dataCrypto{gcm: gcm}, nil
}

// Encrypt always seals non-empty values, even ones that already look sealed.
func (c *dataCrypto) Encrypt(value string) (string, error) {
	if c == nil || value == "" {
		return value, nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.gcm.Seal(nil, nonce, []byte(value), nil)
	return encPrefix + base64.RawStdEncoding.EncodeToString(nonce) + ":" + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt passes through values that were stored before a key was configured.
func (c *dataCrypto) Decrypt(value string) (string, error) {
	if c == nil || value == "" || !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}
	parts := strings.SplitN(strings.TrimPrefix(value, encPrefix), ":", 2)
	if len(parts) != 2 {
		return "", errors.New("invalid encrypted payload")
	}
	nonce, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", err
	}
	sealed, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", err
	}
	plain, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
