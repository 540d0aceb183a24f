package protocol

import (
	"encoding/json"
	"fmt"
)

// DialogField is an opaque field descriptor. The core stores and forwards it
// untouched; only the front-end and the extension interpret its contents.
type DialogField = json.RawMessage

// DialogRequest asks the front-end to collect structured input on behalf of
// an extension.
type DialogRequest struct {
	Version           int           `json:"version"`
	ExtensionID       string        `json:"extension_id"`
	ExtensionAction   string        `json:"extension_action"`
	Title             string        `json:"title"`
	PrimaryButtonText string        `json:"primary_button_text,omitempty"`
	Fields            []DialogField `json:"fields"`
	Args              []string      `json:"args,omitempty"`
}

// NewDialogRequest builds a request. A nil or empty fields list is valid and
// yields a plain confirmation dialog.
func NewDialogRequest(extensionID, extensionAction, title string, fields []DialogField) *DialogRequest {
	if fields == nil {
		fields = []DialogField{}
	}
	return &DialogRequest{
		Version:         Version,
		ExtensionID:     extensionID,
		ExtensionAction: extensionAction,
		Title:           title,
		Fields:          fields,
	}
}

func (r *DialogRequest) Validate() error {
	if err := CheckVersion(r.Version); err != nil {
		return err
	}
	if r.ExtensionID == "" {
		return fmt.Errorf("dialog request missing extension_id")
	}
	if r.ExtensionAction == "" {
		return fmt.Errorf("dialog request missing extension_action")
	}
	for i, f := range r.Fields {
		if !json.Valid(f) {
			return fmt.Errorf("dialog field %d is not valid JSON", i)
		}
	}
	return nil
}

// DialogResult is the value the user entered for one field.
type DialogResult struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
}

// DialogResponse pairs the user's input with the args of the originating
// request so the resumed extension can restore its own state.
type DialogResponse struct {
	Version int            `json:"version"`
	Results []DialogResult `json:"results"`
	Args    []string       `json:"args,omitempty"`
}

func NewDialogResponse(results []DialogResult, args []string) *DialogResponse {
	if results == nil {
		results = []DialogResult{}
	}
	return &DialogResponse{Version: Version, Results: results, Args: args}
}
