package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/fechamento/internal/shared"
)

func testEntries(t *testing.T) []Entry {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("segredo123"), bcrypt.MinCost)
	require.NoError(t, err)
	return []Entry{
		{Email: "Capao@Vistoria.com", StoreID: "capao", DisplayName: "Capão", PasswordHash: string(hash)},
		{Email: "centro@vistoria.com", StoreID: "centro", DisplayName: "Centro"},
		{Email: "admin@vistoria.com", Role: RoleAdmin, DisplayName: "Administração", PasswordHash: string(hash)},
	}
}

func TestResolveKnownIdentity(t *testing.T) {
	dir, err := NewDirectory(testEntries(t))
	require.NoError(t, err)

	p, err := dir.Resolve(" capao@vistoria.com ")
	require.NoError(t, err)
	require.Equal(t, "capao", p.StoreID)
	require.Equal(t, "Capão", p.DisplayName)
	require.False(t, p.IsAdmin())
	require.True(t, p.CanAccessStore("capao"))
	require.False(t, p.CanAccessStore("centro"))

	admin, err := dir.Resolve("admin@vistoria.com")
	require.NoError(t, err)
	require.True(t, admin.IsAdmin())
	require.True(t, admin.CanAccessStore("centro"))
}

func TestResolveMissIsAccessError(t *testing.T) {
	dir, err := NewDirectory(testEntries(t))
	require.NoError(t, err)

	_, err = dir.Resolve("intruso@vistoria.com")
	require.ErrorIs(t, err, ErrUnknownIdentity)
	require.True(t, errors.Is(err, shared.ErrUnauthenticated))
}

func TestNewDirectoryRejectsInvalidTables(t *testing.T) {
	_, err := NewDirectory([]Entry{{Email: "a@x.com", StoreID: "a"}})
	require.Error(t, err, "admin required")

	_, err = NewDirectory([]Entry{{Email: "a@x.com"}, {Email: "b@x.com", Role: RoleAdmin}})
	require.Error(t, err, "operator without store")

	_, err = NewDirectory([]Entry{{Email: "a@x.com", StoreID: "a"}, {Email: "A@x.com", StoreID: "b"}, {Email: "c@x.com", Role: RoleAdmin}})
	require.Error(t, err, "duplicate email")
}

func TestStoresSorted(t *testing.T) {
	dir, err := NewDirectory(testEntries(t))
	require.NoError(t, err)
	require.Equal(t, []string{"capao", "centro"}, dir.Stores())
}

func TestAuthenticate(t *testing.T) {
	dir, err := NewDirectory(testEntries(t))
	require.NoError(t, err)
	ctx := context.Background()

	p, err := dir.Authenticate(ctx, "capao@vistoria.com", "segredo123")
	require.NoError(t, err)
	require.Equal(t, "capao", p.StoreID)

	_, err = dir.Authenticate(ctx, "capao@vistoria.com", "errada")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = dir.Authenticate(ctx, "centro@vistoria.com", "qualquer")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoadDirectoryFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.yaml")
	content := `identities:
  - email: capao@vistoria.com
    store: capao
    name: Capão
  - email: admin@vistoria.com
    role: admin
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	dir, err := LoadDirectory(path)
	require.NoError(t, err)
	p, err := dir.Resolve("capao@vistoria.com")
	require.NoError(t, err)
	require.Equal(t, RoleOperator, p.Role)
}
