package extension

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chess10kp/whiskers/internal/apperrors"
)

// Locator maps extension ids to their install directories.
type Locator struct {
	root string
}

func NewLocator(root string) *Locator {
	return &Locator{root: root}
}

// Dir returns <root>/<id> if it is a directory.
func (l *Locator) Dir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: invalid extension id %q", apperrors.ErrExtensionNotFound, id)
	}
	dir := filepath.Join(l.root, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", apperrors.ErrExtensionNotFound, id)
	}
	return dir, nil
}
