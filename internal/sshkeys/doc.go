// Package sshkeys handles client private keys and server host-key
// verification for outbound SSH sessions.
//
// # Client keys
//
// [LoadSigner] reads an OpenSSH or PEM private key from disk (expanding a
// leading "~/") and returns an ssh.Signer for public-key authentication.
// Encrypted keys are reported as a *KeyLoadError; passphrases are not
// supported.
//
// # Host-key policy
//
// Host-key checking is a [Policy] chosen at startup rather than a hard-coded
// accept. Available policies:
//
//   - [AcceptAll]: accepts every host key and logs its fingerprint.
//   - [RejectAll]: refuses every host key (tests, lockdown).
//   - [FixedFingerprint]: accepts exactly one SHA256 fingerprint.
//   - [KnownHosts]: checks an OpenSSH known_hosts file.
//   - [TOFU]: trust on first use, remembering fingerprints in a [Store]
//     ([MemoryStore] or the database-backed [DBStore]).
//
// Policies that refuse a key return a *HostKeyError so callers can
// classify the failure without matching on text.
package sshkeys
