package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

var idPattern = regexp.MustCompile(`id=(\S+)`)

// setup writes a config with filesystem stores under a temporary directory
// and returns its path.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	cfgPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
logging:
  level: ERROR
quota:
  total: 1MiB
snapshot:
  type: filesystem
  filesystem:
    path: %s
content:
  type: filesystem
  filesystem:
    path: %s
`, filepath.Join(dir, "drive.json"), filepath.Join(dir, "content"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	out, err := run(t, cfgPath, args...)
	require.NoError(t, err, out)
	return out
}

func lastID(t *testing.T, out string) string {
	t.Helper()
	m := idPattern.FindAllStringSubmatch(out, -1)
	require.NotEmpty(t, m, out)
	return m[len(m)-1][1]
}

func TestDriveWorkflow(t *testing.T) {
	cfgPath := setup(t)

	out := mustRun(t, cfgPath, "mkdir", "Photos")
	assert.Contains(t, out, `Created folder "Photos"`)
	photos := lastID(t, out)

	out = mustRun(t, cfgPath, "mkdir", "Summer", "--parent", photos)
	summer := lastID(t, out)

	local := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello drive"), 0o644))

	out = mustRun(t, cfgPath, "upload", local, "--parent", summer)
	assert.Contains(t, out, "notes.txt (11 B, text/plain; charset=utf-8)")
	fileID := lastID(t, out)

	// State survives across invocations through the snapshot store
	out = mustRun(t, cfgPath, "ls", summer)
	assert.Contains(t, out, "My Drive / Photos / Summer")
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "11 B")

	out = mustRun(t, cfgPath, "ls", "--search", "PHOT")
	assert.Contains(t, out, "Photos")

	out = mustRun(t, cfgPath, "ls", "--search", "nothing-matches")
	assert.Contains(t, out, "Nothing here")

	out = mustRun(t, cfgPath, "star", fileID)
	assert.Contains(t, out, `Starred "notes.txt"`)
	out = mustRun(t, cfgPath, "ls", "starred")
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "starred")

	out = mustRun(t, cfgPath, "verify", fileID)
	assert.Contains(t, out, `Verified "notes.txt"`)
	out = mustRun(t, cfgPath, "ls", "verified")
	assert.Contains(t, out, "notes.txt")

	out = mustRun(t, cfgPath, "verify", fileID, "--off")
	assert.Contains(t, out, "Cleared verification")

	out = mustRun(t, cfgPath, "usage")
	assert.Contains(t, out, "11 B of 1.0 MiB used")

	out = mustRun(t, cfgPath, "rm", photos, "--folder")
	assert.Contains(t, out, "Deleted 2 folder(s) and 1 file(s), freed 11 B")

	out = mustRun(t, cfgPath, "rm", photos, "--folder")
	assert.Contains(t, out, "Nothing to delete")

	out = mustRun(t, cfgPath, "ls", "starred")
	assert.Contains(t, out, "Nothing here")

	out = mustRun(t, cfgPath, "gc")
	assert.Contains(t, out, "Removed 0 of 0 orphaned item(s)")
}

func TestUploadRejectsDirectory(t *testing.T) {
	cfgPath := setup(t)

	_, err := run(t, cfgPath, "upload", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestDriveErrors(t *testing.T) {
	cfgPath := setup(t)

	_, err := run(t, cfgPath, "star", "missing")
	assert.Error(t, err)

	_, err = run(t, cfgPath, "mkdir", "Inside", "--parent", "starred")
	assert.Error(t, err)

	_, err = run(t, cfgPath, "ls", "--sort", "color")
	assert.Error(t, err)

	_, err = run(t, cfgPath, "ls", "no-such-folder")
	assert.Error(t, err)
}

func TestListDefaultsToRoot(t *testing.T) {
	cfgPath := setup(t)

	out := mustRun(t, cfgPath, "ls")
	assert.Contains(t, out, "My Drive")
	assert.Contains(t, out, "Nothing here")

	for _, loc := range []string{"recent", "trash", "shared"} {
		out = mustRun(t, cfgPath, "ls", loc)
		assert.Contains(t, out, loc)
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	cfgPath := filepath.Join(dir, "generated.yaml")

	out, err := run(t, "", "config", "init", "--path", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Configuration written to "+cfgPath)

	_, err = run(t, "", "config", "init", "--path", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out = mustRun(t, cfgPath, "config", "validate")
	assert.Contains(t, out, "Configuration is valid (snapshot=filesystem, content=filesystem, quota=15GiB)")
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("snapshot:\n  type: floppy\n"), 0o644))

	_, err := run(t, cfgPath, "usage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
