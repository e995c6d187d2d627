package mfa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
	tokens "github.com/dropDatabas3/authcore/internal/security/token"
)

func newTestBackupManager(t *testing.T, cfg BackupConfig) (*BackupManager, *fakeBackupRepo) {
	t.Helper()
	codec, err := tokens.NewCodec("test-secret")
	require.NoError(t, err)
	repo := newFakeBackupRepo()
	return NewBackupManager(repo, codec, cfg), repo
}

func TestGenerate_DefaultsAndFormat(t *testing.T) {
	m, _ := newTestBackupManager(t, BackupConfig{})
	ctx := context.Background()

	gen, err := m.Generate(ctx, "acct-1", repository.AccountStaff, false, 0)
	require.NoError(t, err)
	require.Len(t, gen.Codes, 10)
	require.Equal(t, 10, gen.ActiveCodes)
	require.NotNil(t, gen.LastGeneratedAt)

	seen := map[string]bool{}
	for _, code := range gen.Codes {
		// 8 caracteres en grupos de 4: XXXX-XXXX.
		require.Len(t, code, 9)
		require.Equal(t, byte('-'), code[4])
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestGenerate_InvalidInput(t *testing.T) {
	m, _ := newTestBackupManager(t, BackupConfig{})
	ctx := context.Background()

	_, err := m.Generate(ctx, "", repository.AccountStaff, false, 0)
	require.ErrorIs(t, err, repository.ErrInvalidInput)

	_, err = m.Generate(ctx, "acct-1", "alien", false, 0)
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestGenerate_ConflictWithoutExplicitRotation(t *testing.T) {
	m, _ := newTestBackupManager(t, BackupConfig{})
	ctx := context.Background()

	_, err := m.Generate(ctx, "acct-1", repository.AccountStaff, false, 0)
	require.NoError(t, err)

	// Con codes vigentes, regenerar exige la decisión explícita de rotar.
	_, err = m.Generate(ctx, "acct-1", repository.AccountStaff, false, 0)
	require.ErrorIs(t, err, ErrActiveCodesExist)
	require.True(t, repository.IsConflict(err))
}

func TestGenerate_RotationInvalidatesOldCodes(t *testing.T) {
	m, repo := newTestBackupManager(t, BackupConfig{})
	ctx := context.Background()

	old, err := m.Generate(ctx, "acct-1", repository.AccountStaff, false, 5)
	require.NoError(t, err)

	fresh, err := m.Generate(ctx, "acct-1", repository.AccountStaff, true, 5)
	require.NoError(t, err)
	require.Len(t, fresh.Codes, 5)
	require.Equal(t, 5, fresh.ActiveCodes)

	// Los viejos quedaron invalidados, no usados.
	active, err := repo.ActiveCodes(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, active, 5)
	for _, code := range old.Codes {
		require.NotContains(t, fresh.Codes, code)
	}
}

func TestGenerate_ClearsRegenerationFlag(t *testing.T) {
	m, repo := newTestBackupManager(t, BackupConfig{})
	ctx := context.Background()

	_, err := m.AdminReset(ctx, "acct-1")
	require.NoError(t, err)

	st, err := repo.GetRecoveryState(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, st.RegenerationRequired)

	_, err = m.Generate(ctx, "acct-1", repository.AccountStaff, true, 0)
	require.NoError(t, err)

	st, err = repo.GetRecoveryState(ctx, "acct-1")
	require.NoError(t, err)
	require.False(t, st.RegenerationRequired)
	require.Equal(t, 1, st.Epoch)
}

func TestAdminReset_EpochMonotonic(t *testing.T) {
	m, _ := newTestBackupManager(t, BackupConfig{})
	ctx := context.Background()

	st, err := m.AdminReset(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, 1, st.Epoch)
	require.NotNil(t, st.LastResetAt)

	st, err = m.AdminReset(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, 2, st.Epoch)

	_, err = m.AdminReset(ctx, "")
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestStatus_EmptyAccount(t *testing.T) {
	m, _ := newTestBackupManager(t, BackupConfig{})

	st, err := m.Status(context.Background(), "acct-none")
	require.NoError(t, err)
	require.Equal(t, 0, st.ActiveCodes)
	require.Nil(t, st.LastGeneratedAt)
}
