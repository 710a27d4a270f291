// Package memory is an in-process AccountStore for development servers and
// tests. State lives for the life of the process.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	goReauth "github.com/MrEthical07/goReauth"
)

// ErrDuplicateIdentifier is returned by CreateUser when the username or email
// is already taken.
var ErrDuplicateIdentifier = errors.New("identifier already in use")

type account struct {
	record  goReauth.UserRecord
	backups map[[32]byte]struct{}
}

// Store implements goReauth.AccountStore. Safe for concurrent use.
type Store struct {
	mu           sync.Mutex
	nextID       int64
	accounts     map[int64]*account
	byIdentifier map[string]int64
}

var _ goReauth.AccountStore = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:     make(map[int64]*account),
		byIdentifier: make(map[string]int64),
	}
}

// CreateUser adds an account and returns its ID. Username and email are both
// usable as login identifiers and compared case-insensitively.
func (s *Store) CreateUser(_ context.Context, username, email, passwordHash string) (int64, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return 0, goReauth.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := []string{normalizeIdentifier(username)}
	if email != "" {
		keys = append(keys, normalizeIdentifier(email))
	}
	for _, k := range keys {
		if _, ok := s.byIdentifier[k]; ok {
			return 0, ErrDuplicateIdentifier
		}
	}

	s.nextID++
	id := s.nextID
	s.accounts[id] = &account{
		record: goReauth.UserRecord{
			UserID:       id,
			Username:     username,
			Email:        email,
			PasswordHash: passwordHash,
		},
		backups: make(map[[32]byte]struct{}),
	}
	for _, k := range keys {
		s.byIdentifier[k] = id
	}
	return id, nil
}

func (s *Store) GetUserByID(_ context.Context, userID int64) (*goReauth.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, goReauth.ErrUserNotFound
	}
	return a.snapshot(), nil
}

func (s *Store) GetUserByIdentifier(_ context.Context, identifier string) (*goReauth.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byIdentifier[normalizeIdentifier(identifier)]
	if !ok {
		return nil, goReauth.ErrUserNotFound
	}
	return s.accounts[id].snapshot(), nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID int64, hash string) error {
	return s.update(userID, func(a *account) {
		a.record.PasswordHash = hash
	})
}

func (s *Store) SetPendingTOTPSecret(_ context.Context, userID int64, secret string) error {
	return s.update(userID, func(a *account) {
		a.record.TOTPPendingSecret = secret
	})
}

func (s *Store) EnableTOTP(_ context.Context, userID int64, secret string, counter int64, backupHashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return goReauth.ErrUserNotFound
	}
	if a.record.TOTPPendingSecret == "" || a.record.TOTPPendingSecret != secret {
		return goReauth.ErrTOTPNotPending
	}
	a.record.TOTPSecret = secret
	a.record.TOTPPendingSecret = ""
	a.record.TOTPEnabled = true
	a.record.TOTPLastCounter = counter
	a.replaceBackups(backupHashes)
	return nil
}

func (s *Store) DisableTOTP(_ context.Context, userID int64) error {
	return s.update(userID, func(a *account) {
		a.record.TOTPSecret = ""
		a.record.TOTPPendingSecret = ""
		a.record.TOTPEnabled = false
		a.record.TOTPLastCounter = 0
		a.replaceBackups(nil)
	})
}

func (s *Store) AdvanceTOTPCounter(_ context.Context, userID int64, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return false, goReauth.ErrUserNotFound
	}
	if counter <= a.record.TOTPLastCounter {
		return false, nil
	}
	a.record.TOTPLastCounter = counter
	return true, nil
}

func (s *Store) ReplaceBackupCodes(_ context.Context, userID int64, hashes [][32]byte) error {
	return s.update(userID, func(a *account) {
		a.replaceBackups(hashes)
	})
}

func (s *Store) ConsumeBackupCode(_ context.Context, userID int64, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return false, goReauth.ErrUserNotFound
	}
	if _, ok := a.backups[hash]; !ok {
		return false, nil
	}
	delete(a.backups, hash)
	a.record.BackupCodesRemaining = len(a.backups)
	return true, nil
}

func (s *Store) LinkProvider(_ context.Context, userID int64, link goReauth.LinkedProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return goReauth.ErrUserNotFound
	}
	for _, existing := range a.record.LinkedProviders {
		if existing.Provider == link.Provider {
			return goReauth.ErrProviderAlreadyLinked
		}
	}
	a.record.LinkedProviders = append(a.record.LinkedProviders, link)
	return nil
}

func (s *Store) UnlinkProvider(_ context.Context, userID int64, provider string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return false, goReauth.ErrUserNotFound
	}
	for i, link := range a.record.LinkedProviders {
		if link.Provider == provider {
			a.record.LinkedProviders = append(a.record.LinkedProviders[:i:i], a.record.LinkedProviders[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AddPasskey(_ context.Context, userID int64, cred goReauth.PasskeyCredential) error {
	return s.update(userID, func(a *account) {
		cred.PublicKey = append([]byte(nil), cred.PublicKey...)
		a.record.Passkeys = append(a.record.Passkeys, cred)
	})
}

func (s *Store) RemovePasskey(_ context.Context, userID int64, credentialID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return false, goReauth.ErrUserNotFound
	}
	for i, cred := range a.record.Passkeys {
		if cred.ID == credentialID {
			a.record.Passkeys = append(a.record.Passkeys[:i:i], a.record.Passkeys[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) update(userID int64, fn func(*account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return goReauth.ErrUserNotFound
	}
	fn(a)
	return nil
}

func (a *account) replaceBackups(hashes [][32]byte) {
	a.backups = make(map[[32]byte]struct{}, len(hashes))
	for _, h := range hashes {
		a.backups[h] = struct{}{}
	}
	a.record.BackupCodesRemaining = len(a.backups)
}

// snapshot copies the record so callers never alias store state.
func (a *account) snapshot() *goReauth.UserRecord {
	out := a.record
	out.LinkedProviders = append([]goReauth.LinkedProvider(nil), a.record.LinkedProviders...)
	out.Passkeys = make([]goReauth.PasskeyCredential, len(a.record.Passkeys))
	for i, cred := range a.record.Passkeys {
		cred.PublicKey = append([]byte(nil), cred.PublicKey...)
		out.Passkeys[i] = cred
	}
	return &out
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
