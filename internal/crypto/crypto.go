package crypto

import (
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
)

// Sealer encrypts short secrets with a key that lives only as long as the
// process.
type Sealer struct {
	key *fernet.Key
}

// NewSealer generates a fresh key.
func NewSealer() (*Sealer, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return nil, fmt.Errorf("generate fernet key: %w", err)
	}
	return &Sealer{key: &k}, nil
}

// NewSealerFromKey uses an encoded fernet key.
func NewSealerFromKey(encoded string) (*Sealer, error) {
	key, err := fernet.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext. The empty string seals to the empty string.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), s.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Open decrypts a token produced by Seal. Tokens never expire.
func (s *Sealer) Open(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), 0*time.Second, []*fernet.Key{s.key})
	if msg == nil {
		return "", fmt.Errorf("decrypt: invalid token")
	}
	return string(msg), nil
}
