//go:build !windows

package extension

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chess10kp/whiskers/internal/apperrors"
	"github.com/chess10kp/whiskers/internal/channel"
	"github.com/chess10kp/whiskers/internal/platform"
	"github.com/chess10kp/whiskers/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	extensionsDir string
	channel       *channel.Channel
	runner        *Runner
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	root := t.TempDir()
	extensionsDir := filepath.Join(root, "extensions")
	require.NoError(t, os.MkdirAll(extensionsDir, 0755))

	ch, err := channel.New(filepath.Join(root, "scratch"), nil)
	require.NoError(t, err)

	launcher := platform.NewOSLauncher("extension", nil)
	return &fixture{
		extensionsDir: extensionsDir,
		channel:       ch,
		runner:        NewRunner(NewLocator(extensionsDir), ch, launcher, opts, nil),
	}
}

// install writes an extension whose entry point runs body.
func (f *fixture) install(t *testing.T, id, body string) string {
	t.Helper()
	dir := filepath.Join(f.extensionsDir, id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extension"), []byte(script), 0755))
	return dir
}

func (f *fixture) invocations(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.channel.Root(), "invocations"))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

const echoResults = `cat > "$WHISKERS_RESULTS_FILE" <<'JSON'
{"version":1,"results":[{"type":"text","label":"Note one","tint_icon":true,"action":{"type":"open_url","url":"https://notes/1"}}]}
JSON`

func TestGetResults(t *testing.T) {
	f := newFixture(t, Options{Timeout: 10 * time.Second})
	dir := f.install(t, "notes", `cp "$WHISKERS_CONTEXT_FILE" seen-context.json`+"\n"+echoResults)

	results, err := f.runner.GetResults(context.Background(), "notes", "groceries")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Note one", results[0].Label)
	assert.Equal(t, protocol.OpenURL("https://notes/1"), results[0].Action)

	var seen protocol.InvocationContext
	data, err := os.ReadFile(filepath.Join(dir, "seen-context.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &seen))
	assert.Equal(t, protocol.ActionGetResults, seen.Action)
	assert.Equal(t, "groceries", seen.SearchText)

	assert.Empty(t, f.invocations(t), "successful runs clean up")
}

func TestGetResultsFailureKeepsContext(t *testing.T) {
	f := newFixture(t, Options{Timeout: 10 * time.Second})
	dir := f.install(t, "broken", `cp "$WHISKERS_CONTEXT_FILE" seen-context.json`+"\necho 'bad input' >&2\nexit 4")

	_, err := f.runner.GetResults(context.Background(), "broken", "foo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrExtensionExecutionFailed))

	var execErr *apperrors.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "broken", execErr.ExtensionID)
	assert.Equal(t, 4, execErr.ExitCode)
	assert.Equal(t, "bad input\n", execErr.Stderr)

	assert.FileExists(t, filepath.Join(dir, "seen-context.json"), "context existed when the process started")

	invocations := f.invocations(t)
	require.Len(t, invocations, 1)
	kept, err := f.channel.Invocation(invocations[0]).ReadContext()
	require.NoError(t, err)
	assert.Equal(t, "foo", kept.SearchText)
}

func TestGetResultsMissingResultsFile(t *testing.T) {
	f := newFixture(t, Options{})
	f.install(t, "silent", "exit 0")

	_, err := f.runner.GetResults(context.Background(), "silent", "")
	assert.True(t, errors.Is(err, apperrors.ErrExtensionExecutionFailed))
	assert.True(t, errors.Is(err, apperrors.ErrChannelIO))
}

func TestGetResultsTimeout(t *testing.T) {
	f := newFixture(t, Options{Timeout: 200 * time.Millisecond})
	f.install(t, "hung", "sleep 30")

	start := time.Now()
	_, err := f.runner.GetResults(context.Background(), "hung", "x")
	assert.True(t, errors.Is(err, apperrors.ErrExtensionTimeout))
	assert.True(t, errors.Is(err, apperrors.ErrExtensionExecutionFailed))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestGetResultsNotFound(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.runner.GetResults(context.Background(), "missing", "x")
	assert.True(t, errors.Is(err, apperrors.ErrExtensionNotFound))

	_, err = f.runner.GetResults(context.Background(), "../escape", "x")
	assert.True(t, errors.Is(err, apperrors.ErrExtensionNotFound))
}

func TestRunAction(t *testing.T) {
	f := newFixture(t, Options{MaxBackground: 2})
	dir := f.install(t, "notes", `cp "$WHISKERS_CONTEXT_FILE" seen-context.json`)

	h, err := f.runner.RunAction(context.Background(), "notes", "delete", []string{"note-7"})
	require.NoError(t, err)
	status, err := h.Wait()
	require.NoError(t, err)
	assert.True(t, status.Success())

	var seen protocol.InvocationContext
	data, err := os.ReadFile(filepath.Join(dir, "seen-context.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &seen))
	assert.Equal(t, protocol.ActionRunAction, seen.Action)
	assert.Equal(t, "delete", seen.ExtensionAction)
	assert.Equal(t, []string{"note-7"}, seen.CustomArgs)

	assert.Eventually(t, func() bool { return len(f.invocations(t)) == 0 },
		5*time.Second, 20*time.Millisecond)
}

func TestResumeWritesResponse(t *testing.T) {
	f := newFixture(t, Options{MaxBackground: 1})
	dir := f.install(t, "notes", `cp "$WHISKERS_DIALOG_RESPONSE_FILE" seen-response.json`+"\n"+`cp "$WHISKERS_CONTEXT_FILE" seen-context.json`)

	response := protocol.NewDialogResponse([]protocol.DialogResult{{FieldID: "title", Value: "Milk"}}, []string{"draft"})
	h, err := f.runner.Resume(context.Background(), "notes", "create", response)
	require.NoError(t, err)
	_, err = h.Wait()
	require.NoError(t, err)

	var seen protocol.DialogResponse
	data, err := os.ReadFile(filepath.Join(dir, "seen-response.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &seen))
	assert.Equal(t, response, &seen)

	var seenCtx protocol.InvocationContext
	data, err = os.ReadFile(filepath.Join(dir, "seen-context.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &seenCtx))
	assert.Equal(t, "create", seenCtx.ExtensionAction)
	assert.Nil(t, seenCtx.CustomArgs, "dialog args travel in the response only")

	assert.Eventually(t, func() bool { return len(f.invocations(t)) == 0 },
		5*time.Second, 20*time.Millisecond)
}

func TestBackgroundLimitRejectsWithoutWaiting(t *testing.T) {
	f := newFixture(t, Options{MaxBackground: 1})
	f.install(t, "slow", "sleep 1")
	f.install(t, "quick", "true")

	first, err := f.runner.RunAction(context.Background(), "slow", "go", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = f.runner.RunAction(context.Background(), "quick", "go", nil)
	assert.ErrorIs(t, err, apperrors.ErrBackgroundLimit)
	assert.Equal(t, "background_limit_reached", apperrors.Kind(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, f.invocations(t), 1, "a rejected run leaves no invocation behind")

	_, err = first.Wait()
	require.NoError(t, err)

	var next *platform.Handle
	assert.Eventually(t, func() bool {
		next, err = f.runner.RunAction(context.Background(), "quick", "go", nil)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.NotNil(t, next)
	_, err = next.Wait()
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(f.invocations(t)) == 0 },
		5*time.Second, 20*time.Millisecond)
}

func TestBackgroundHelperReleasesSlot(t *testing.T) {
	f := newFixture(t, Options{MaxBackground: 1})
	f.install(t, "spawner", "sleep 30 &\nexit 0")
	f.install(t, "quick", "true")

	first, err := f.runner.RunAction(context.Background(), "spawner", "go", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = syscall.Kill(-first.Pid(), syscall.SIGKILL) })

	select {
	case <-first.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("extension handle stayed open while its helper ran")
	}

	var next *platform.Handle
	assert.Eventually(t, func() bool {
		next, err = f.runner.RunAction(context.Background(), "quick", "go", nil)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.NotNil(t, next)
	_, err = next.Wait()
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(f.invocations(t)) == 0 },
		5*time.Second, 20*time.Millisecond)
}
