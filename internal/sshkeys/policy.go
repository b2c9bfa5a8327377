package sshkeys

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"gorm.io/gorm"

	"github.com/gluk-w/termgate/internal/database"
)

// Policy names accepted by NewPolicy.
const (
	PolicyAcceptAll   = "accept-all"
	PolicyRejectAll   = "reject-all"
	PolicyFingerprint = "fingerprint"
	PolicyKnownHosts  = "known-hosts"
	PolicyTOFU        = "tofu"
)

// ErrHostKeyRefused is wrapped by every policy rejection that has no more
// specific cause.
var ErrHostKeyRefused = errors.New("host key refused")

// HostKeyError reports that a policy refused the server's host key.
type HostKeyError struct {
	Policy  string
	Address string
	Err     error
}

func (e *HostKeyError) Error() string {
	return fmt.Sprintf("host key for %s rejected by %s policy: %v", e.Address, e.Policy, e.Err)
}

func (e *HostKeyError) Unwrap() error { return e.Err }

// Policy decides whether a server host key is trusted.
type Policy interface {
	// Name identifies the policy in logs and errors.
	Name() string
	// Callback returns the host key callback used when dialing serverID.
	Callback(serverID string) ssh.HostKeyCallback
}

// PolicyOptions carries the inputs a named policy may need.
type PolicyOptions struct {
	KnownHostsPath string
	Fingerprint    string
	Store          Store
}

// NewPolicy builds the policy registered under name.
func NewPolicy(name string, opts PolicyOptions) (Policy, error) {
	switch name {
	case PolicyAcceptAll:
		return AcceptAll{}, nil
	case PolicyRejectAll:
		return RejectAll{}, nil
	case PolicyFingerprint:
		if opts.Fingerprint == "" {
			return nil, fmt.Errorf("fingerprint policy requires a fingerprint")
		}
		return FixedFingerprint{Fingerprint: opts.Fingerprint}, nil
	case PolicyKnownHosts:
		path := opts.KnownHostsPath
		if path == "" {
			path = "~/.ssh/known_hosts"
		}
		return NewKnownHosts(ExpandHome(path))
	case PolicyTOFU, "":
		store := opts.Store
		if store == nil {
			store = NewMemoryStore()
		}
		return &TOFU{Store: store}, nil
	default:
		return nil, fmt.Errorf("unknown host key policy %q", name)
	}
}

// AcceptAll trusts every host key. The fingerprint is logged so an operator
// can still audit what was accepted.
type AcceptAll struct{}

func (AcceptAll) Name() string { return PolicyAcceptAll }

func (AcceptAll) Callback(serverID string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		log.Printf("[sshkeys] WARNING: accepting unverified host key for %s (%s): %s",
			hostname, serverID, ssh.FingerprintSHA256(key))
		return nil
	}
}

// RejectAll refuses every host key.
type RejectAll struct{}

func (RejectAll) Name() string { return PolicyRejectAll }

func (RejectAll) Callback(string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return &HostKeyError{Policy: PolicyRejectAll, Address: hostname, Err: ErrHostKeyRefused}
	}
}

// FixedFingerprint accepts only the host key with the given SHA256 fingerprint.
type FixedFingerprint struct {
	Fingerprint string
}

func (FixedFingerprint) Name() string { return PolicyFingerprint }

func (p FixedFingerprint) Callback(string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := VerifyFingerprint(hostname, key, p.Fingerprint); err != nil {
			return &HostKeyError{Policy: PolicyFingerprint, Address: hostname, Err: err}
		}
		return nil
	}
}

// KnownHosts checks keys against an OpenSSH known_hosts file.
type KnownHosts struct {
	path string
	cb   ssh.HostKeyCallback
}

// NewKnownHosts loads the known_hosts file at path.
func NewKnownHosts(path string) (*KnownHosts, error) {
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return &KnownHosts{path: path, cb: cb}, nil
}

func (*KnownHosts) Name() string { return PolicyKnownHosts }

func (k *KnownHosts) Callback(string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := k.cb(hostname, remote, key); err != nil {
			var keyErr *knownhosts.KeyError
			if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
				err = fmt.Errorf("%w: host not present in %s", ErrHostKeyRefused, k.path)
			}
			return &HostKeyError{Policy: PolicyKnownHosts, Address: hostname, Err: err}
		}
		return nil
	}
}

// KnownHost is one remembered host key.
type KnownHost struct {
	Address     string    `json:"address"`
	KeyType     string    `json:"key_type"`
	Fingerprint string    `json:"fingerprint"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Store remembers host key fingerprints for TOFU.
type Store interface {
	Lookup(address string) (KnownHost, bool, error)
	Remember(host KnownHost) error
	Forget(address string) error
	List() ([]KnownHost, error)
}

// TOFU trusts the first key seen for an address and rejects later changes.
type TOFU struct {
	Store Store

	mu sync.Mutex
}

func (*TOFU) Name() string { return PolicyTOFU }

func (t *TOFU) Callback(serverID string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		actual := ssh.FingerprintSHA256(key)

		// Lookup and remember must not interleave for the same address.
		t.mu.Lock()
		defer t.mu.Unlock()

		known, ok, err := t.Store.Lookup(hostname)
		if err != nil {
			return &HostKeyError{Policy: PolicyTOFU, Address: hostname, Err: fmt.Errorf("lookup: %w", err)}
		}
		if !ok {
			log.Printf("[sshkeys] trusting new host key for %s (%s) on first use: %s", hostname, serverID, actual)
			return t.Store.Remember(KnownHost{
				Address:     hostname,
				KeyType:     key.Type(),
				Fingerprint: actual,
				FirstSeenAt: time.Now(),
			})
		}
		if err := VerifyFingerprint(hostname, key, known.Fingerprint); err != nil {
			log.Printf("[sshkeys] WARNING: %v", err)
			return &HostKeyError{Policy: PolicyTOFU, Address: hostname, Err: err}
		}
		return nil
	}
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	hosts map[string]KnownHost
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hosts: make(map[string]KnownHost)}
}

func (s *MemoryStore) Lookup(address string) (KnownHost, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hosts[address]
	return h, ok, nil
}

func (s *MemoryStore) Remember(host KnownHost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[host.Address] = host
	return nil
}

func (s *MemoryStore) Forget(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hosts, address)
	return nil
}

func (s *MemoryStore) List() ([]KnownHost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]KnownHost, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// DBStore persists TOFU fingerprints in the known_hosts table.
type DBStore struct {
	db *gorm.DB
}

// NewDBStore creates a Store backed by db.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Lookup(address string) (KnownHost, bool, error) {
	var row database.KnownHost
	err := s.db.Where("address = ?", address).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return KnownHost{}, false, nil
	}
	if err != nil {
		return KnownHost{}, false, err
	}
	s.db.Model(&row).Update("last_seen_at", time.Now())
	return KnownHost{
		Address:     row.Address,
		KeyType:     row.KeyType,
		Fingerprint: row.Fingerprint,
		FirstSeenAt: row.FirstSeenAt,
	}, true, nil
}

func (s *DBStore) Remember(host KnownHost) error {
	row := database.KnownHost{
		Address:     host.Address,
		KeyType:     host.KeyType,
		Fingerprint: host.Fingerprint,
		LastSeenAt:  time.Now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("remember host key for %s: %w", host.Address, err)
	}
	return nil
}

func (s *DBStore) Forget(address string) error {
	return s.db.Where("address = ?", address).Delete(&database.KnownHost{}).Error
}

func (s *DBStore) List() ([]KnownHost, error) {
	var rows []database.KnownHost
	if err := s.db.Order("address").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]KnownHost, len(rows))
	for i, row := range rows {
		out[i] = KnownHost{
			Address:     row.Address,
			KeyType:     row.KeyType,
			Fingerprint: row.Fingerprint,
			FirstSeenAt: row.FirstSeenAt,
		}
	}
	return out, nil
}
