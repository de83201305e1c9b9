package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	for _, key := range []string{
		"ROOMSYNC_CONFIG", "ROOMSYNC_CONFIG_CONTENT", "ROOMSYNC_SERVER_URL",
		"ROOMSYNC_USER_ID", "ROOMSYNC_USER_NAME", "ROOMSYNC_LOG_LEVEL",
		"ROOMSYNC_PRETTY", "ROOMSYNC_STATUS_ADDR", "ROOMSYNC_DOC_SYNC_TIMEOUT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return tmpDir
}

func TestLoad_Defaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", cfg.ServerURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.DocSyncTimeout.Std())
	assert.Equal(t, 10*time.Second, cfg.RoomCreateTimeout.Std())
}

func TestLoad_ProjectJSONCWithComments(t *testing.T) {
	tmpDir := isolateEnv(t)

	content := `{
		// local dev server
		"serverUrl": "http://localhost:9999",
		"userId": "u-test",
		"docSyncTimeout": "5s",
		"cursorPollInterval": 250
	}`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "roomsync.jsonc"), []byte(content), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999", cfg.ServerURL)
	assert.Equal(t, "u-test", cfg.UserID)
	assert.Equal(t, 5*time.Second, cfg.DocSyncTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.CursorPollInterval.Std())
}

func TestLoad_EnvInterpolation(t *testing.T) {
	tmpDir := isolateEnv(t)
	t.Setenv("TEST_ROOM_USER", "u-from-env")

	content := `{"userId": "{env:TEST_ROOM_USER}"}`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "roomsync.json"), []byte(content), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "u-from-env", cfg.UserID)
}

func TestLoad_FileInterpolation(t *testing.T) {
	tmpDir := isolateEnv(t)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "user.txt"), []byte("u-from-file\n"), 0644))
	content := `{"userId": "{file:user.txt}"}`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "roomsync.json"), []byte(content), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "u-from-file", cfg.UserID)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	tmpDir := isolateEnv(t)

	content := `{"serverUrl": "http://from-file", "logLevel": "debug"}`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "roomsync.json"), []byte(content), 0644))
	t.Setenv("ROOMSYNC_SERVER_URL", "http://from-env")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", cfg.ServerURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InlineConfigContent(t *testing.T) {
	isolateEnv(t)
	t.Setenv("ROOMSYNC_CONFIG_CONTENT", `{"statusAddr": "127.0.0.1:7777"}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.StatusAddr)
}

func TestLoad_DotEnvFile(t *testing.T) {
	tmpDir := isolateEnv(t)
	t.Setenv("ROOMSYNC_USER_NAME", "")
	os.Unsetenv("ROOMSYNC_USER_NAME")

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".env"),
		[]byte("ROOMSYNC_USER_NAME=Ada\n"), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "Ada", cfg.UserName)
}

func TestLoad_ProjectOverridesGlobal(t *testing.T) {
	tmpDir := isolateEnv(t)

	globalDir := filepath.Join(tmpDir, ".config", "roomsync")
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "roomsync.json"),
		[]byte(`{"serverUrl": "http://global", "logLevel": "warn"}`), 0644))

	projectDir := filepath.Join(tmpDir, "project")
	require.NoError(t, os.MkdirAll(projectDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "roomsync.json"),
		[]byte(`{"serverUrl": "http://project"}`), 0644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "http://project", cfg.ServerURL)
	// Untouched fields fall through to the global layer.
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestDuration_Unmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1500ms"`)))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`250`)))
	assert.Equal(t, 250*time.Millisecond, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}

func TestSaveAndReload(t *testing.T) {
	tmpDir := isolateEnv(t)

	cfg := Default()
	cfg.UserID = "u-save"
	path := filepath.Join(tmpDir, "out", "roomsync.json")
	require.NoError(t, Save(cfg, path))

	t.Setenv("ROOMSYNC_CONFIG", path)
	reloaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "u-save", reloaded.UserID)
}
