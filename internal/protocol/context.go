// Package protocol defines the records exchanged with extension processes
// through the context channel. Every record is JSON and carries a protocol
// version so extensions can reject files they do not understand.
package protocol

import "fmt"

// Version is stamped on every record the core writes.
const Version = 1

// ContextAction tells an extension why it was launched.
type ContextAction string

const (
	ActionGetResults ContextAction = "get_results"
	ActionRunAction  ContextAction = "run_action"
)

func (a ContextAction) Validate() error {
	switch a {
	case ActionGetResults, ActionRunAction:
		return nil
	default:
		return fmt.Errorf("unknown context action: %q", a)
	}
}

// InvocationContext is written to the channel before every extension launch.
type InvocationContext struct {
	Version         int           `json:"version"`
	InvocationID    string        `json:"invocation_id,omitempty"`
	Action          ContextAction `json:"action"`
	SearchText      string        `json:"search_text,omitempty"`
	ExtensionAction string        `json:"extension_action,omitempty"`
	CustomArgs      []string      `json:"custom_args,omitempty"`
}

// NewContext creates a context for the given action.
func NewContext(action ContextAction) *InvocationContext {
	return &InvocationContext{Version: Version, Action: action}
}

// NewGetResultsContext asks an extension for results matching searchText.
func NewGetResultsContext(searchText string) *InvocationContext {
	c := NewContext(ActionGetResults)
	c.SearchText = searchText
	return c
}

// NewRunActionContext asks an extension to perform one of its actions.
func NewRunActionContext(extensionAction string, args []string) *InvocationContext {
	c := NewContext(ActionRunAction)
	c.ExtensionAction = extensionAction
	if len(args) > 0 {
		c.CustomArgs = args
	}
	return c
}

func (c *InvocationContext) Validate() error {
	if err := c.Action.Validate(); err != nil {
		return err
	}
	if c.Action == ActionRunAction && c.ExtensionAction == "" {
		return fmt.Errorf("run_action context requires an extension action")
	}
	return nil
}
