package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensetracker/internal/core"
)

// useSQLite points every command at one database file so state survives
// between invocations.
func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("DATA_BACKEND", "sqlite")
	t.Setenv("SQLITE_DB_PATH", filepath.Join(t.TempDir(), "tracker.db"))
	t.Setenv("GOCARDLESS_BANK_ACCOUNT_INFO_BASE_URL", "")
	t.Setenv("GOCARDLESS_ACCESS_TOKEN", "")
	t.Setenv("GOCARDLESS_SECRET_ID", "")
	t.Setenv("GOCARDLESS_SECRET_KEY", "")
	t.Setenv("AMQP_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CATEGORY_SEED_FILE", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestUserAndTransactions(t *testing.T) {
	useSQLite(t)

	out, err := run(t, "user", "add", "alice", "--name", "Alice")
	require.NoError(t, err)
	assert.Contains(t, out, "user alice saved")

	out, err = run(t, "transactions", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "DATE")
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1, "header only")
}

func TestCategoriesList(t *testing.T) {
	useSQLite(t)

	out, err := run(t, "categories", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Food:")
	assert.Contains(t, out, core.DefaultCategory)

	out, err = run(t, "categories", "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "categories in catalog")
}

func TestLinkWithoutGateway(t *testing.T) {
	useSQLite(t)
	_, err := run(t, "user", "add", "alice")
	require.NoError(t, err)

	_, err = run(t, "link", "start", "--user", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway configuration error")

	_, err = run(t, "link", "show", "--user", "alice")
	require.ErrorIs(t, err, core.ErrLinkNotFound)

	_, err = run(t, "link", "complete", "--ref", "nope")
	require.ErrorIs(t, err, core.ErrLinkNotFound)
}

func TestImportWithoutLink(t *testing.T) {
	useSQLite(t)

	_, err := run(t, "import", "--user", "alice")
	require.ErrorIs(t, err, core.ErrNoLinkedAccount)

	_, err = run(t, "import", "--user", "alice", "--from", "2024/01/01")
	require.ErrorIs(t, err, core.ErrInvalidDate)

	_, err = run(t, "import", "--user", "alice", "--async")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMQP_URL")
}

func TestRequiredFlags(t *testing.T) {
	useSQLite(t)

	_, err := run(t, "link", "start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}

func TestToken(t *testing.T) {
	useSQLite(t)

	_, err := run(t, "token", "--user", "alice")
	require.Error(t, err)

	secret := "0123456789abcdef0123456789abcdef"
	t.Setenv("JWT_SECRET", secret)
	out, err := run(t, "token", "--user", "alice")
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}
