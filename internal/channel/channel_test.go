package channel

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chess10kp/whiskers/internal/apperrors"
	"github.com/chess10kp/whiskers/internal/protocol"
)

func newChannel(t *testing.T) *Channel {
	t.Helper()
	ch, err := New(filepath.Join(t.TempDir(), "scratch"), nil)
	require.NoError(t, err)
	return ch
}

func TestNewInvocationsAreIsolated(t *testing.T) {
	ch := newChannel(t)

	a, err := ch.NewInvocation()
	require.NoError(t, err)
	b, err := ch.NewInvocation()
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ContextPath(), b.ContextPath())
	assert.DirExists(t, a.Dir())
	assert.DirExists(t, b.Dir())
}

func TestWriteContextStampsInvocation(t *testing.T) {
	ch := newChannel(t)
	inv, err := ch.NewInvocation()
	require.NoError(t, err)

	require.NoError(t, inv.WriteContext(protocol.NewGetResultsContext("hello")))

	got, err := inv.ReadContext()
	require.NoError(t, err)
	assert.Equal(t, inv.ID(), got.InvocationID)
	assert.Equal(t, protocol.ActionGetResults, got.Action)
	assert.Equal(t, "hello", got.SearchText)
	assert.Equal(t, protocol.Version, got.Version)

	leftovers, err := filepath.Glob(filepath.Join(inv.Dir(), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriteContextRejectsInvalid(t *testing.T) {
	ch := newChannel(t)
	inv, err := ch.NewInvocation()
	require.NoError(t, err)

	err = inv.WriteContext(&protocol.InvocationContext{Action: protocol.ActionRunAction})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRequest))
	assert.NoFileExists(t, inv.ContextPath())
}

func TestReadResults(t *testing.T) {
	ch := newChannel(t)
	inv, err := ch.NewInvocation()
	require.NoError(t, err)

	_, err = inv.ReadResults()
	assert.True(t, errors.Is(err, apperrors.ErrChannelIO), "missing results file")

	require.NoError(t, os.WriteFile(inv.ResultsPath(), []byte("not json"), 0644))
	_, err = inv.ReadResults()
	assert.True(t, errors.Is(err, apperrors.ErrChannelIO), "malformed results file")

	want := []protocol.ResultItem{protocol.NewText("Note", protocol.OpenURL("https://notes"))}
	data, err := protocol.MarshalResults(want)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(inv.ResultsPath(), data, 0644))

	got, err := inv.ReadResults()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDialogRequestSlot(t *testing.T) {
	ch := newChannel(t)

	_, err := ch.ReadDialogRequest()
	assert.True(t, errors.Is(err, apperrors.ErrNoDialogPending))

	req := protocol.NewDialogRequest("notes", "create", "New note",
		[]protocol.DialogField{protocol.DialogField(`{"kind":"input","id":"title"}`)})
	req.Args = []string{"draft-1"}
	require.NoError(t, ch.WriteDialogRequest(req))

	got, err := ch.ReadDialogRequest()
	require.NoError(t, err)
	assert.Equal(t, req, got)

	require.NoError(t, ch.ClearDialogRequest())
	require.NoError(t, ch.ClearDialogRequest())
	_, err = ch.ReadDialogRequest()
	assert.True(t, errors.Is(err, apperrors.ErrNoDialogPending))
}

func TestDialogResponseRoundTrip(t *testing.T) {
	ch := newChannel(t)
	inv, err := ch.NewInvocation()
	require.NoError(t, err)

	resp := protocol.NewDialogResponse([]protocol.DialogResult{{FieldID: "title", Value: "Groceries"}}, []string{"draft-1"})
	require.NoError(t, inv.WriteDialogResponse(resp))

	got, err := ch.Invocation(inv.ID()).ReadDialogResponse()
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestEnv(t *testing.T) {
	ch := newChannel(t)
	inv, err := ch.NewInvocation()
	require.NoError(t, err)

	env := map[string]string{}
	for _, kv := range inv.Env() {
		parts := strings.SplitN(kv, "=", 2)
		env[parts[0]] = parts[1]
	}
	assert.Equal(t, "1", env[EnvProtocolVersion])
	assert.Equal(t, inv.ID(), env[EnvInvocationID])
	assert.Equal(t, inv.ContextPath(), env[EnvContextFile])
	assert.Equal(t, inv.ResultsPath(), env[EnvResultsFile])
	assert.Equal(t, ch.DialogRequestPath(), env[EnvDialogRequestFile])
	assert.Equal(t, inv.DialogResponsePath(), env[EnvDialogResponse])
}

func TestPrune(t *testing.T) {
	ch := newChannel(t)

	old, err := ch.NewInvocation()
	require.NoError(t, err)
	fresh, err := ch.NewInvocation()
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old.Dir(), past, past))

	removed, err := ch.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, old.Dir())
	assert.DirExists(t, fresh.Dir())
}

func TestRemove(t *testing.T) {
	ch := newChannel(t)
	inv, err := ch.NewInvocation()
	require.NoError(t, err)
	require.NoError(t, inv.WriteContext(protocol.NewGetResultsContext("x")))

	require.NoError(t, inv.Remove())
	assert.NoDirExists(t, inv.Dir())
}
