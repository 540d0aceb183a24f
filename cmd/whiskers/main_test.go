package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chess10kp/whiskers/internal/apps"
	"github.com/chess10kp/whiskers/internal/protocol"
)

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	indexFile := filepath.Join(dir, "apps.json")
	cfg := `scratch_dir = "` + filepath.Join(dir, "scratch") + `"
extensions_dir = "` + filepath.Join(dir, "extensions") + `"
icons_dir = "` + filepath.Join(dir, "icons") + `"
apps_index_file = "` + indexFile + `"
log_file = ""
log_level = "error"

[[search_engines]]
keyword = "dd"
query = "https://duckduckgo.com/?q=%s"
default = true
`
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path, indexFile
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSearchCommand(t *testing.T) {
	configPath, indexFile := writeTestConfig(t)
	require.NoError(t, apps.WriteIndex(indexFile, []apps.IndexedApp{
		{Name: "Firefox", ExecPath: "/usr/share/applications/firefox.desktop"},
	}))

	out, err := execute(t, "--config", configPath, "search", "fire")
	require.NoError(t, err)
	var results []protocol.ResultItem
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "Firefox", results[0].Label)

	out, err = execute(t, "--config", configPath, "search", "no", "such", "app")
	require.NoError(t, err)
	results = nil
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "https://duckduckgo.com/?q=no such app", results[0].Action.URL)
}

func TestIndexCommand(t *testing.T) {
	configPath, indexFile := writeTestConfig(t)
	desktopDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(desktopDir, "editor.desktop"),
		[]byte("[Desktop Entry]\nType=Application\nName=Editor\nExec=editor %F\n"), 0644))

	out, err := execute(t, "--config", configPath, "index", "--dir", desktopDir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "indexed 1 app(s)"))

	data, err := os.ReadFile(indexFile)
	require.NoError(t, err)
	indexed, err := apps.ParseIndex(data)
	require.NoError(t, err)
	require.Len(t, indexed, 1)
	assert.Equal(t, "Editor", indexed[0].Name)
}

func TestDialogCommands(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	_, err := execute(t, "--config", configPath, "dialog", "get")
	assert.Error(t, err)

	_, err = execute(t, "--config", configPath, "dialog", "open", "notes", "create",
		"--title", "New note", "--fields", `[{"kind":"input"}]`)
	require.NoError(t, err)

	out, err := execute(t, "--config", configPath, "dialog", "get")
	require.NoError(t, err)
	var req protocol.DialogRequest
	require.NoError(t, json.Unmarshal([]byte(out), &req))
	assert.Equal(t, "New note", req.Title)
	assert.Equal(t, "notes", req.ExtensionID)

	_, err = execute(t, "--config", configPath, "dialog", "open", "notes", "create", "--fields", "{")
	assert.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	_, err := execute(t, "--config", configPath, "--log-level", "loud", "prune")
	assert.Error(t, err)
}
