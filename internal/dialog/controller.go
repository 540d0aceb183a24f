// Package dialog runs the two-phase extension dialog: an extension asks for
// input, the front-end collects it, and the extension is resumed with the
// values.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chess10kp/whiskers/internal/apperrors"
	"github.com/chess10kp/whiskers/internal/channel"
	"github.com/chess10kp/whiskers/internal/platform"
	"github.com/chess10kp/whiskers/internal/protocol"
)

type State int

const (
	StateIdle State = iota
	StateRequested
	StateAwaitingInput
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateResolved:
		return "resolved"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Resumer restarts an extension with the user's dialog input.
type Resumer interface {
	Resume(ctx context.Context, id, action string, response *protocol.DialogResponse) (*platform.Handle, error)
}

type Controller struct {
	mu      sync.Mutex
	channel *channel.Channel
	resumer Resumer
	state   State
	logger  *zap.Logger
}

func NewController(ch *channel.Channel, resumer Resumer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{channel: ch, resumer: resumer, logger: logger.Named("dialog")}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OpenDialog stores a request for the front-end to fetch. An empty fields
// list makes a confirmation dialog.
func (c *Controller) OpenDialog(extensionID, extensionAction, title, primaryButtonText string, fields []protocol.DialogField, args []string) error {
	req := protocol.NewDialogRequest(extensionID, extensionAction, title, fields)
	req.PrimaryButtonText = primaryButtonText
	req.Args = args
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidRequest, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.channel.WriteDialogRequest(req); err != nil {
		return err
	}
	c.transition(StateRequested, extensionID)
	return nil
}

// FetchDialogRequest returns the pending request, whether it was stored by
// OpenDialog or written by an extension during its run.
func (c *Controller) FetchDialogRequest() (*protocol.DialogRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.channel.ReadDialogRequest()
	if err != nil {
		return nil, err
	}
	c.transition(StateAwaitingInput, req.ExtensionID)
	return req, nil
}

// CloseDialog hands the user's input to the extension and resumes it in the
// background. It returns once the extension has started. The pending request
// is cleared only after a successful start, so a failed resume can be
// retried. The lock is not held while resuming; a request for a different
// dialog stored meanwhile stays pending.
func (c *Controller) CloseDialog(ctx context.Context, extensionID, extensionAction string, args []string, results []protocol.DialogResult) (*platform.Handle, error) {
	if extensionID == "" || extensionAction == "" {
		return nil, fmt.Errorf("%w: extension id and action are required", apperrors.ErrInvalidRequest)
	}

	response := protocol.NewDialogResponse(results, args)
	handle, err := c.resumer.Resume(ctx, extensionID, extensionAction, response)
	if err != nil {
		c.logger.Warn("failed to resume extension",
			zap.String("extension_id", extensionID),
			zap.String("extension_action", extensionAction),
			zap.Error(err))
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pending, err := c.channel.ReadDialogRequest()
	switch {
	case errors.Is(err, apperrors.ErrNoDialogPending):
	case err == nil && (pending.ExtensionID != extensionID || pending.ExtensionAction != extensionAction):
		c.logger.Debug("keeping newer dialog request",
			zap.String("extension_id", pending.ExtensionID),
			zap.String("extension_action", pending.ExtensionAction))
		return handle, nil
	default:
		if err := c.channel.ClearDialogRequest(); err != nil {
			c.logger.Warn("failed to clear dialog request", zap.Error(err))
		}
	}
	c.transition(StateResolved, extensionID)
	return handle, nil
}

func (c *Controller) transition(next State, extensionID string) {
	c.logger.Debug("dialog state",
		zap.Stringer("from", c.state),
		zap.Stringer("to", next),
		zap.String("extension_id", extensionID))
	c.state = next
}
