// Package channel implements the file-based context channel shared with
// extension processes. Every launch gets its own invocation directory under
// the scratch root so concurrent queries and dialog turns never share files.
package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chess10kp/whiskers/internal/apperrors"
	"github.com/chess10kp/whiskers/internal/protocol"
)

const (
	invocationsDir       = "invocations"
	contextFile          = "context.json"
	resultsFile          = "results.json"
	dialogResponseFile   = "dialog-response.json"
	dialogRequestFile    = "dialog-request.json"
	EnvProtocolVersion   = "WHISKERS_PROTOCOL_VERSION"
	EnvInvocationID      = "WHISKERS_INVOCATION_ID"
	EnvInvocationDir     = "WHISKERS_INVOCATION_DIR"
	EnvContextFile       = "WHISKERS_CONTEXT_FILE"
	EnvResultsFile       = "WHISKERS_RESULTS_FILE"
	EnvDialogRequestFile = "WHISKERS_DIALOG_REQUEST_FILE"
	EnvDialogResponse    = "WHISKERS_DIALOG_RESPONSE_FILE"
)

// Channel is rooted at the scratch directory.
type Channel struct {
	root   string
	logger *zap.Logger
}

// New creates the scratch directory if needed. Failing to create it is the
// one channel error callers should treat as fatal.
func New(root string, logger *zap.Logger) (*Channel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(root, invocationsDir), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create scratch directory %s: %v", apperrors.ErrChannelIO, root, err)
	}
	return &Channel{root: root, logger: logger.Named("channel")}, nil
}

func (c *Channel) Root() string {
	return c.root
}

// NewInvocation allocates a fresh invocation directory.
func (c *Channel) NewInvocation() (*Invocation, error) {
	id := uuid.NewString()
	inv := c.Invocation(id)
	if err := os.MkdirAll(inv.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create invocation directory: %v", apperrors.ErrChannelIO, err)
	}
	c.logger.Debug("invocation created", zap.String("invocation_id", id))
	return inv, nil
}

// Invocation returns a handle to an existing invocation. It does not check
// that the directory exists.
func (c *Channel) Invocation(id string) *Invocation {
	return &Invocation{
		id:      id,
		dir:     filepath.Join(c.root, invocationsDir, id),
		channel: c,
	}
}

func (c *Channel) DialogRequestPath() string {
	return filepath.Join(c.root, dialogRequestFile)
}

// WriteDialogRequest stores req as the pending dialog, replacing any
// earlier one.
func (c *Channel) WriteDialogRequest(req *protocol.DialogRequest) error {
	if err := writeJSON(c.DialogRequestPath(), req); err != nil {
		return err
	}
	c.logger.Debug("dialog request stored",
		zap.String("extension_id", req.ExtensionID),
		zap.String("extension_action", req.ExtensionAction))
	return nil
}

// ReadDialogRequest returns the pending dialog, or ErrNoDialogPending.
func (c *Channel) ReadDialogRequest() (*protocol.DialogRequest, error) {
	data, err := os.ReadFile(c.DialogRequestPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.ErrNoDialogPending
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read dialog request: %v", apperrors.ErrChannelIO, err)
	}

	var req protocol.DialogRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: malformed dialog request: %v", apperrors.ErrChannelIO, err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrChannelIO, err)
	}
	fields := make([]protocol.DialogField, 0, len(req.Fields))
	for _, f := range req.Fields {
		var buf bytes.Buffer
		if err := json.Compact(&buf, f); err != nil {
			return nil, fmt.Errorf("%w: malformed dialog field: %v", apperrors.ErrChannelIO, err)
		}
		fields = append(fields, protocol.DialogField(buf.Bytes()))
	}
	req.Fields = fields
	return &req, nil
}

// ClearDialogRequest removes the pending dialog. Clearing when nothing is
// pending is not an error.
func (c *Channel) ClearDialogRequest() error {
	err := os.Remove(c.DialogRequestPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to clear dialog request: %v", apperrors.ErrChannelIO, err)
	}
	return nil
}

// Prune removes invocation directories last modified more than age ago and
// returns how many were removed.
func (c *Channel) Prune(age time.Duration) (int, error) {
	base := filepath.Join(c.root, invocationsDir)
	entries, err := os.ReadDir(base)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to list invocations: %v", apperrors.ErrChannelIO, err)
	}

	cutoff := time.Now().Add(-age)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(base, entry.Name())); err != nil {
			c.logger.Warn("failed to prune invocation", zap.String("invocation_id", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("pruned invocations", zap.Int("removed", removed), zap.Duration("older_than", age))
	}
	return removed, nil
}

// Invocation is one extension launch's slice of the channel.
type Invocation struct {
	id      string
	dir     string
	channel *Channel
}

func (i *Invocation) ID() string  { return i.id }
func (i *Invocation) Dir() string { return i.dir }

func (i *Invocation) ContextPath() string        { return filepath.Join(i.dir, contextFile) }
func (i *Invocation) ResultsPath() string        { return filepath.Join(i.dir, resultsFile) }
func (i *Invocation) DialogResponsePath() string { return filepath.Join(i.dir, dialogResponseFile) }

// WriteContext stamps the invocation id on ctx and writes it atomically.
// It returns only after the file is in place.
func (i *Invocation) WriteContext(ctx *protocol.InvocationContext) error {
	if err := ctx.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidRequest, err)
	}
	ctx.InvocationID = i.id
	return writeJSON(i.ContextPath(), ctx)
}

func (i *Invocation) ReadContext() (*protocol.InvocationContext, error) {
	data, err := os.ReadFile(i.ContextPath())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read context: %v", apperrors.ErrChannelIO, err)
	}
	var ctx protocol.InvocationContext
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("%w: malformed context: %v", apperrors.ErrChannelIO, err)
	}
	return &ctx, nil
}

// ReadResults parses the results file the extension wrote.
func (i *Invocation) ReadResults() ([]protocol.ResultItem, error) {
	data, err := os.ReadFile(i.ResultsPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: extension wrote no results file", apperrors.ErrChannelIO)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read results: %v", apperrors.ErrChannelIO, err)
	}
	results, err := protocol.ParseResults(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrChannelIO, err)
	}
	return results, nil
}

func (i *Invocation) WriteDialogResponse(resp *protocol.DialogResponse) error {
	return writeJSON(i.DialogResponsePath(), resp)
}

func (i *Invocation) ReadDialogResponse() (*protocol.DialogResponse, error) {
	data, err := os.ReadFile(i.DialogResponsePath())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read dialog response: %v", apperrors.ErrChannelIO, err)
	}
	var resp protocol.DialogResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed dialog response: %v", apperrors.ErrChannelIO, err)
	}
	if err := protocol.CheckVersion(resp.Version); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrChannelIO, err)
	}
	return &resp, nil
}

// Env lists the variables that tell the extension where its files are.
func (i *Invocation) Env() []string {
	return []string{
		EnvProtocolVersion + "=" + strconv.Itoa(protocol.Version),
		EnvInvocationID + "=" + i.id,
		EnvInvocationDir + "=" + i.dir,
		EnvContextFile + "=" + i.ContextPath(),
		EnvResultsFile + "=" + i.ResultsPath(),
		EnvDialogRequestFile + "=" + i.channel.DialogRequestPath(),
		EnvDialogResponse + "=" + i.DialogResponsePath(),
	}
}

// Remove deletes the invocation directory.
func (i *Invocation) Remove() error {
	if err := os.RemoveAll(i.dir); err != nil {
		return fmt.Errorf("%w: failed to remove invocation: %v", apperrors.ErrChannelIO, err)
	}
	return nil
}

// writeJSON writes v next to path and renames it into place so readers never
// see a partial file.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal %s: %v", apperrors.ErrChannelIO, filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", apperrors.ErrChannelIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write %s: %v", apperrors.ErrChannelIO, filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to sync %s: %v", apperrors.ErrChannelIO, filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to close %s: %v", apperrors.ErrChannelIO, filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to rename %s into place: %v", apperrors.ErrChannelIO, filepath.Base(path), err)
	}
	return nil
}
