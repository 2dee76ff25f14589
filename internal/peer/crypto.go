package peer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize         = 32
	keyExchangeInfo = "matchlink key exchange"
	secretInfo      = "matchlink payload secret"
)

// keyPair is an ephemeral X25519 key pair used for one connection.
type keyPair struct {
	private []byte
	public  []byte
}

func newKeyPair() (*keyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	return &keyPair{private: priv, public: pub}, nil
}

// sharedCipher derives the payload cipher from our private key and the
// remote public key.
func (k *keyPair) sharedCipher(remotePublic []byte) (*payloadCipher, error) {
	shared, err := curve25519.X25519(k.private, remotePublic)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	return deriveCipher(shared, keyExchangeInfo)
}

// payloadCipher seals operation parameters with AES-GCM.
type payloadCipher struct {
	aead cipher.AEAD
}

func deriveCipher(secret []byte, info string) (*payloadCipher, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &payloadCipher{aead: aead}, nil
}

// seal returns nonce || ciphertext.
func (c *payloadCipher) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

func (c *payloadCipher) open(sealed []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("sealed payload too short: %d bytes", len(sealed))
	}
	plain, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	return plain, nil
}
