package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "receipts.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "receiptctl", cmd.Use)

	for _, name := range []string{"migrate", "pending", "stats", "purge", "settings"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "stats", "--db", tempDB(t), "--format", "yaml")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMissingDatabase(t *testing.T) {
	_, err := execute(t, "stats")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "stats", "--config", filepath.Join(t.TempDir(), "absent.yaml"))

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMigrate(t *testing.T) {
	out, err := execute(t, "migrate", "--db", tempDB(t), "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   MigrateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Positive(t, resp.Data.SchemaVersion)
}

func TestStatsAndPurge_EmptyDatabase(t *testing.T) {
	db := tempDB(t)

	out, err := execute(t, "stats", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Early linked device receipts: 0")

	out, err = execute(t, "purge", "--db", db, "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 0 early receipts older than 7 days")

	_, err = execute(t, "purge", "--db", db, "--days", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPending_Empty(t *testing.T) {
	out, err := execute(t, "pending", "--db", tempDB(t))
	require.NoError(t, err)
	assert.Contains(t, out, "No pending read receipts")

	out, err = execute(t, "pending", "--db", tempDB(t), "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":[]}`, out)
}

func TestSettings(t *testing.T) {
	db := tempDB(t)

	out, err := execute(t, "settings", "get", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Read receipts enabled: false")

	out, err = execute(t, "settings", "set", "true", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No relay configured")

	out, err = execute(t, "settings", "get", "--db", db, "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"readReceiptsEnabled":true,"synced":false}}`, out)

	_, err = execute(t, "settings", "set", "maybe", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "wrapped", assert.AnError)))
	assert.ErrorIs(t, WrapExitError(ExitFailure, "wrapped", assert.AnError), assert.AnError)
}
