package dialog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chess10kp/whiskers/internal/apperrors"
	"github.com/chess10kp/whiskers/internal/channel"
	"github.com/chess10kp/whiskers/internal/extension"
	"github.com/chess10kp/whiskers/internal/platform"
	"github.com/chess10kp/whiskers/internal/protocol"
)

// recordingLauncher never runs anything; background spawns stay pending
// until the test completes them.
type recordingLauncher struct {
	mu       sync.Mutex
	cwds     []string
	envs     [][]string
	complete []func(platform.ExitStatus, error)
}

func (l *recordingLauncher) SpawnForeground(context.Context, string, []string) (platform.ExitStatus, error) {
	return platform.ExitStatus{}, errors.New("unexpected foreground spawn")
}

func (l *recordingLauncher) SpawnBackground(cwd string, env []string) (*platform.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, done := platform.NewHandle(1000 + len(l.envs))
	l.cwds = append(l.cwds, cwd)
	l.envs = append(l.envs, env)
	l.complete = append(l.complete, done)
	return h, nil
}

func (l *recordingLauncher) OpenURL(string) (*platform.Handle, error) { return nil, nil }
func (l *recordingLauncher) OpenApp(string) (*platform.Handle, error) { return nil, nil }

func envValue(env []string, key string) string {
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"=")
		}
	}
	return ""
}

type fixture struct {
	channel    *channel.Channel
	launcher   *recordingLauncher
	controller *Controller
	extDir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	extDir := filepath.Join(root, "extensions", "notes")
	require.NoError(t, os.MkdirAll(extDir, 0755))

	ch, err := channel.New(filepath.Join(root, "scratch"), nil)
	require.NoError(t, err)

	launcher := &recordingLauncher{}
	runner := extension.NewRunner(extension.NewLocator(filepath.Join(root, "extensions")), ch, launcher,
		extension.Options{MaxBackground: 2}, nil)
	return &fixture{
		channel:    ch,
		launcher:   launcher,
		controller: NewController(ch, runner, nil),
		extDir:     extDir,
	}
}

func TestFetchWithoutRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.FetchDialogRequest()
	assert.True(t, errors.Is(err, apperrors.ErrNoDialogPending))
	assert.Equal(t, StateIdle, f.controller.State())
}

func TestOpenAndFetch(t *testing.T) {
	f := newFixture(t)
	fields := []protocol.DialogField{protocol.DialogField(`{"kind":"input","id":"title","label":"Title"}`)}

	require.NoError(t, f.controller.OpenDialog("notes", "create", "New note", "Save", fields, []string{"draft-1"}))
	assert.Equal(t, StateRequested, f.controller.State())

	req, err := f.controller.FetchDialogRequest()
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingInput, f.controller.State())
	assert.Equal(t, "notes", req.ExtensionID)
	assert.Equal(t, "create", req.ExtensionAction)
	assert.Equal(t, "New note", req.Title)
	assert.Equal(t, "Save", req.PrimaryButtonText)
	assert.Equal(t, fields, req.Fields)
	assert.Equal(t, []string{"draft-1"}, req.Args)
}

func TestOpenEmptyFieldsIsConfirmation(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.controller.OpenDialog("notes", "delete", "Delete note?", "", nil, nil))
	req, err := f.controller.FetchDialogRequest()
	require.NoError(t, err)
	assert.Empty(t, req.Fields)
	assert.NotNil(t, req.Fields)
}

func TestOpenRejectsInvalid(t *testing.T) {
	f := newFixture(t)

	err := f.controller.OpenDialog("", "create", "t", "", nil, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRequest))
	assert.Equal(t, StateIdle, f.controller.State())
}

func TestCloseDialogRoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.OpenDialog("notes", "create", "New note", "", nil, []string{"draft-1"}))

	results := []protocol.DialogResult{{FieldID: "title", Value: "Groceries"}, {FieldID: "body", Value: "milk, eggs"}}
	args := []string{"draft-1", "pinned"}
	handle, err := f.controller.CloseDialog(context.Background(), "notes", "create", args, results)
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, StateResolved, f.controller.State())

	require.Len(t, f.launcher.envs, 1)
	assert.Equal(t, f.extDir, f.launcher.cwds[0])
	env := f.launcher.envs[0]

	inv := f.channel.Invocation(envValue(env, channel.EnvInvocationID))
	stored, err := inv.ReadDialogResponse()
	require.NoError(t, err)
	assert.Equal(t, results, stored.Results)
	assert.Equal(t, args, stored.Args)

	ctx, err := inv.ReadContext()
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionRunAction, ctx.Action)
	assert.Equal(t, "create", ctx.ExtensionAction)

	_, err = f.controller.FetchDialogRequest()
	assert.True(t, errors.Is(err, apperrors.ErrNoDialogPending), "closing clears the pending request")

	select {
	case <-handle.Done():
		t.Fatal("close must not wait for the extension")
	default:
	}
	f.launcher.complete[0](platform.ExitStatus{}, nil)
	<-handle.Done()
}

func TestCloseDialogUnknownExtensionKeepsRequest(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.OpenDialog("notes", "create", "New note", "", nil, nil))

	_, err := f.controller.CloseDialog(context.Background(), "missing", "create", nil, nil)
	assert.True(t, errors.Is(err, apperrors.ErrExtensionNotFound))

	_, err = f.controller.FetchDialogRequest()
	assert.NoError(t, err)
	assert.Empty(t, f.launcher.envs)
}

// gatedResumer blocks in Resume until release is closed.
type gatedResumer struct {
	entered chan struct{}
	release chan struct{}
}

func (r *gatedResumer) Resume(context.Context, string, string, *protocol.DialogResponse) (*platform.Handle, error) {
	close(r.entered)
	<-r.release
	h, done := platform.NewHandle(7)
	done(platform.ExitStatus{}, nil)
	return h, nil
}

func TestCloseDialogDoesNotBlockOtherCalls(t *testing.T) {
	f := newFixture(t)
	resumer := &gatedResumer{entered: make(chan struct{}), release: make(chan struct{})}
	controller := NewController(f.channel, resumer, nil)
	require.NoError(t, controller.OpenDialog("notes", "create", "New note", "", nil, nil))

	closed := make(chan error, 1)
	go func() {
		_, err := controller.CloseDialog(context.Background(), "notes", "create", nil, nil)
		closed <- err
	}()
	<-resumer.entered

	calls := make(chan error, 1)
	go func() {
		if err := controller.OpenDialog("notes", "rename", "Rename", "", nil, nil); err != nil {
			calls <- err
			return
		}
		_, err := controller.FetchDialogRequest()
		calls <- err
	}()
	select {
	case err := <-calls:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dialog calls blocked behind a resume")
	}

	close(resumer.release)
	require.NoError(t, <-closed)

	req, err := controller.FetchDialogRequest()
	require.NoError(t, err, "the newer request stays pending")
	assert.Equal(t, "rename", req.ExtensionAction)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_input", StateAwaitingInput.String())
	assert.Equal(t, "State(9)", State(9).String())
}
