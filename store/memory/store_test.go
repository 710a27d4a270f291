package memory

import (
	"context"
	"sync"
	"testing"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserLooksUpByUsernameAndEmail(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.CreateUser(ctx, "Alice", "alice@example.com", "hash")
	require.NoError(t, err)

	byName, err := s.GetUserByIdentifier(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, byName.UserID)

	byEmail, err := s.GetUserByIdentifier(ctx, " ALICE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.UserID)

	_, err = s.CreateUser(ctx, "bob", "alice@example.com", "hash")
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)

	_, err = s.GetUserByID(ctx, id+100)
	assert.ErrorIs(t, err, goReauth.ErrUserNotFound)
}

func TestSnapshotDoesNotAliasStoreState(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.CreateUser(ctx, "alice", "", "hash")
	require.NoError(t, err)
	require.NoError(t, s.AddPasskey(ctx, id, goReauth.PasskeyCredential{ID: "k1", PublicKey: []byte{1, 2}}))

	u, err := s.GetUserByID(ctx, id)
	require.NoError(t, err)
	u.Passkeys[0].PublicKey[0] = 9
	u.PasswordHash = "mutated"

	again, err := s.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, byte(1), again.Passkeys[0].PublicKey[0])
	assert.Equal(t, "hash", again.PasswordHash)
}

func TestEnableTOTPPromotesPendingSecretWithBackupCodes(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.CreateUser(ctx, "alice", "", "hash")
	require.NoError(t, err)

	assert.ErrorIs(t, s.EnableTOTP(ctx, id, "SECRET", 1, nil), goReauth.ErrTOTPNotPending)

	require.NoError(t, s.SetPendingTOTPSecret(ctx, id, "SECRET"))
	require.NoError(t, s.EnableTOTP(ctx, id, "SECRET", 42, [][32]byte{{1}, {2}}))

	u, err := s.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.TOTPEnabled)
	assert.Equal(t, "SECRET", u.TOTPSecret)
	assert.Empty(t, u.TOTPPendingSecret)
	assert.Equal(t, int64(42), u.TOTPLastCounter)
	assert.Equal(t, 2, u.BackupCodesRemaining)

	require.NoError(t, s.DisableTOTP(ctx, id))
	u, err = s.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, u.TOTPEnabled)
	assert.Empty(t, u.TOTPSecret)
	assert.Zero(t, u.BackupCodesRemaining)
}

func TestEnableTOTPRejectsReplacedPendingSecret(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.CreateUser(ctx, "alice", "", "hash")
	require.NoError(t, err)

	require.NoError(t, s.SetPendingTOTPSecret(ctx, id, "FIRST"))
	require.NoError(t, s.SetPendingTOTPSecret(ctx, id, "SECOND"))
	assert.ErrorIs(t, s.EnableTOTP(ctx, id, "FIRST", 1, nil), goReauth.ErrTOTPNotPending)

	u, err := s.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, u.TOTPEnabled)
	assert.Equal(t, "SECOND", u.TOTPPendingSecret)
}

func TestAdvanceTOTPCounterIsStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.CreateUser(ctx, "alice", "", "hash")
	require.NoError(t, err)

	ok, err := s.AdvanceTOTPCounter(ctx, id, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceTOTPCounter(ctx, id, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AdvanceTOTPCounter(ctx, id, 9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeBackupCodeSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.CreateUser(ctx, "alice", "", "hash")
	require.NoError(t, err)
	code := [32]byte{7}
	require.NoError(t, s.ReplaceBackupCodes(ctx, id, [][32]byte{code, {8}}))

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeBackupCode(ctx, id, code)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	u, err := s.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, u.BackupCodesRemaining)
}

func TestUnlinkAndRemoveReportWhetherStateChanged(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.CreateUser(ctx, "alice", "", "hash")
	require.NoError(t, err)

	require.NoError(t, s.LinkProvider(ctx, id, goReauth.LinkedProvider{Provider: "github", ExternalID: "1"}))
	assert.ErrorIs(t, s.LinkProvider(ctx, id, goReauth.LinkedProvider{Provider: "github", ExternalID: "2"}), goReauth.ErrProviderAlreadyLinked)

	ok, err := s.UnlinkProvider(ctx, id, "github")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UnlinkProvider(ctx, id, "github")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddPasskey(ctx, id, goReauth.PasskeyCredential{ID: "k1"}))
	ok, err = s.RemovePasskey(ctx, id, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.RemovePasskey(ctx, id, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}
