package sshkeys

import (
	"fmt"

	"golang.org/x/crypto/ssh"
)

// FingerprintMismatchError is returned when a host key fingerprint does not
// match the remembered or configured value. This may indicate a reinstalled
// host or a MITM attack.
type FingerprintMismatchError struct {
	Address  string
	Expected string
	Actual   string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("host key fingerprint mismatch for %s: expected %s, got %s (possible MITM attack)", e.Address, e.Expected, e.Actual)
}

// GetPublicKeyFingerprint calculates the SHA256 fingerprint of an SSH public key.
// The publicKey should be in SSH authorized_keys format (e.g. "ssh-ed25519 AAAA...").
func GetPublicKeyFingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get fingerprint: public key is empty")
	}

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: parse public key: %w", err)
	}

	return ssh.FingerprintSHA256(parsed), nil
}

// VerifyFingerprint checks key against expected. An empty expected
// fingerprint always verifies.
func VerifyFingerprint(address string, key ssh.PublicKey, expected string) error {
	if expected == "" {
		return nil
	}
	actual := ssh.FingerprintSHA256(key)
	if actual != expected {
		return &FingerprintMismatchError{
			Address:  address,
			Expected: expected,
			Actual:   actual,
		}
	}
	return nil
}
