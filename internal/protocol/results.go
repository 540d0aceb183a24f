package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResultType tags the ResultItem union. Text is the only variant today.
type ResultType string

const ResultTypeText ResultType = "text"

// ActionType tags the Action union.
type ActionType string

const (
	ActionTypeOpenApp ActionType = "open_app"
	ActionTypeOpenURL ActionType = "open_url"
)

// Action is what the front-end does when a result is activated.
type Action struct {
	Type     ActionType `json:"type"`
	ExecPath string     `json:"exec_path,omitempty"`
	URL      string     `json:"url,omitempty"`
}

// OpenApp launches the application at execPath.
func OpenApp(execPath string) Action {
	return Action{Type: ActionTypeOpenApp, ExecPath: execPath}
}

// OpenURL opens url in the default browser.
func OpenURL(url string) Action {
	return Action{Type: ActionTypeOpenURL, URL: url}
}

func (a Action) Validate() error {
	switch a.Type {
	case ActionTypeOpenApp:
		if a.ExecPath == "" {
			return fmt.Errorf("open_app action missing exec_path")
		}
	case ActionTypeOpenURL:
		if a.URL == "" {
			return fmt.Errorf("open_url action missing url")
		}
	case "":
		return fmt.Errorf("action missing type field")
	default:
		return fmt.Errorf("unknown action type: %q", a.Type)
	}
	return nil
}

// ResultItem is a single entry in a result list.
type ResultItem struct {
	Type     ResultType `json:"type"`
	Label    string     `json:"label"`
	IconPath string     `json:"icon_path,omitempty"`
	TintIcon bool       `json:"tint_icon"`
	Action   Action     `json:"action"`
}

// NewText creates a text result.
func NewText(label string, action Action) ResultItem {
	return ResultItem{Type: ResultTypeText, Label: label, Action: action}
}

// WithIcon returns a copy of r using iconPath.
func (r ResultItem) WithIcon(iconPath string) ResultItem {
	r.IconPath = iconPath
	return r
}

// WithTint returns a copy of r with icon tinting set to tint.
func (r ResultItem) WithTint(tint bool) ResultItem {
	r.TintIcon = tint
	return r
}

func (r ResultItem) Validate() error {
	if r.Type != ResultTypeText {
		return fmt.Errorf("unknown result type: %q", r.Type)
	}
	return r.Action.Validate()
}

// resultsFile is the versioned envelope for result lists.
type resultsFile struct {
	Version int          `json:"version"`
	Results []ResultItem `json:"results"`
}

// MarshalResults encodes a result list in the versioned envelope.
func MarshalResults(results []ResultItem) ([]byte, error) {
	if results == nil {
		results = []ResultItem{}
	}
	return json.MarshalIndent(resultsFile{Version: Version, Results: results}, "", "  ")
}

// ParseResults decodes a results file. Both the versioned envelope and a bare
// JSON array (written by unversioned extensions) are accepted.
func ParseResults(data []byte) ([]ResultItem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("results file is empty")
	}

	var results []ResultItem
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	} else {
		var file resultsFile
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
		if err := CheckVersion(file.Version); err != nil {
			return nil, err
		}
		results = file.Results
	}

	for i, r := range results {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
	}
	if results == nil {
		results = []ResultItem{}
	}
	return results, nil
}

// CheckVersion rejects records stamped with a newer protocol than this build
// understands. Zero means the writer did not stamp a version.
func CheckVersion(v int) error {
	if v < 0 || v > Version {
		return fmt.Errorf("unsupported protocol version %d (supported: %d)", v, Version)
	}
	return nil
}
