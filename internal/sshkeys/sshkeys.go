package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyLoadError is returned when a private key file cannot be used.
type KeyLoadError struct {
	Path string
	Err  error
}

func (e *KeyLoadError) Error() string {
	return fmt.Sprintf("load private key %s: %v", e.Path, e.Err)
}

func (e *KeyLoadError) Unwrap() error { return e.Err }

// GenerateKeyPair generates an ED25519 key pair and returns the PEM-encoded
// private key and OpenSSH-format public key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	publicKey = ssh.MarshalAuthorizedKey(sshPub)

	return publicKey, privateKeyPEM, nil
}

// ExpandHome replaces a leading "~/" (or a bare "~") with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// LoadSigner reads and parses the private key at path.
func LoadSigner(path string) (ssh.Signer, error) {
	resolved := ExpandHome(path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, &KeyLoadError{Path: path, Err: err}
	}
	signer, err := ParsePrivateKey(data)
	if err != nil {
		return nil, &KeyLoadError{Path: path, Err: err}
	}
	return signer, nil
}

// ParsePrivateKey parses PEM-encoded private key bytes into an ssh.Signer.
func ParsePrivateKey(privateKeyPEM []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("key is passphrase protected: %w", err)
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
