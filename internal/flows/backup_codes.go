package flows

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"strconv"
	"strings"
)

const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type BackupCodeMetrics struct {
	Used        int
	Failed      int
	Regenerated int
}

type BackupCodeEvents struct {
	Generated string
	Used      string
	Failed    string
}

type BackupCodeErrors struct {
	EngineNotReady error
	Unavailable    error
	RequiresTOTP   error
}

type BackupCodeDeps struct {
	Count  int
	Length int

	TOTPEnabled        func(context.Context, int64) (bool, error)
	ReplaceBackupCodes func(context.Context, int64, [][32]byte) error
	ConsumeBackupCode  func(context.Context, int64, [32]byte) (bool, error)

	RandomIndex func(int) (int, error)

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, int64, string, error, func() map[string]string)

	Metrics BackupCodeMetrics
	Events  BackupCodeEvents
	Errors  BackupCodeErrors
}

// RunRegenerateBackupCodes replaces every stored code with a new set. Only
// users with an active authenticator hold backup codes.
func RunRegenerateBackupCodes(ctx context.Context, userID int64, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.TOTPEnabled == nil || deps.ReplaceBackupCodes == nil {
		return nil, deps.Errors.EngineNotReady
	}
	enabled, err := deps.TOTPEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, deps.Errors.RequiresTOTP
	}
	return RunIssueBackupCodes(ctx, userID, deps)
}

// RunIssueBackupCodes generates and stores a code set without checking
// authenticator state. RunRegenerateBackupCodes reaches it after its TOTP
// check; enrollment confirmation stores its set through TOTPDeps.Enable.
func RunIssueBackupCodes(ctx context.Context, userID int64, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.ReplaceBackupCodes == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if deps.Count <= 0 || deps.Length <= 0 {
		return nil, deps.Errors.Unavailable
	}

	codes, hashes, err := GenerateBackupCodeSet(userID, deps.Count, deps.Length, deps.RandomIndex)
	if err != nil {
		return nil, deps.Errors.Unavailable
	}
	if err := deps.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, deps.Errors.Unavailable
	}

	deps.MetricInc(deps.Metrics.Regenerated)
	deps.EmitAudit(ctx, deps.Events.Generated, true, userID, "backup_code", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

// RunConsumeBackupCode burns one matching code. A malformed or unknown code
// reports false without touching storage state.
func RunConsumeBackupCode(ctx context.Context, userID int64, code string, deps BackupCodeDeps) (bool, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.ConsumeBackupCode == nil {
		return false, deps.Errors.EngineNotReady
	}
	canonical := CanonicalizeBackupCode(code)
	if canonical == "" || (deps.Length > 0 && len(canonical) != deps.Length) {
		deps.MetricInc(deps.Metrics.Failed)
		return false, nil
	}

	ok, err := deps.ConsumeBackupCode(ctx, userID, BackupCodeHash(userID, canonical))
	if err != nil {
		return false, deps.Errors.Unavailable
	}
	if !ok {
		deps.MetricInc(deps.Metrics.Failed)
		deps.EmitAudit(ctx, deps.Events.Failed, false, userID, "backup_code", nil, nil)
		return false, nil
	}

	deps.MetricInc(deps.Metrics.Used)
	deps.EmitAudit(ctx, deps.Events.Used, true, userID, "backup_code", nil, nil)
	return true, nil
}

// GenerateBackupCodeSet returns display-formatted codes and the hashes to
// persist for them, index-aligned.
func GenerateBackupCodeSet(userID int64, count, length int, randomIndex func(int) (int, error)) ([]string, [][32]byte, error) {
	hashes := make([][32]byte, 0, count)
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw, err := NewBackupCode(length, randomIndex)
		if err != nil {
			return nil, nil, err
		}
		hashes = append(hashes, BackupCodeHash(userID, raw))
		codes = append(codes, FormatBackupCode(raw))
	}
	return codes, hashes, nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode splits codes of eight or more characters in half with a
// dash for display.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupCodeHash binds a canonical code to its owner so identical codes held
// by two users never collide.
func BackupCodeHash(userID int64, canonicalCode string) [32]byte {
	data := make([]byte, 8, 8+1+len(canonicalCode))
	binary.BigEndian.PutUint64(data, uint64(userID))
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

func normalizeBackupCodeDeps(deps *BackupCodeDeps) {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, int64, string, error, func() map[string]string) {}
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = cryptoRandomIndex
	}
}
