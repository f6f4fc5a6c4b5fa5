// Package downloadcfg holds per-download options shared by the service and
// configuration layers.
package downloadcfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
)

// CollisionPolicy defines how to handle an existing destination file.
// Values: "error" | "overwrite" | "rename".
type CollisionPolicy string

const (
	CollisionError     CollisionPolicy = "error"
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
)

// maxRenameAttempts bounds the search for a free "name (n).ext".
const maxRenameAttempts = 1000

// ParseCollisionPolicy converts a string to a CollisionPolicy. An empty
// string selects CollisionError.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch p := CollisionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CollisionError, nil
	case CollisionError, CollisionOverwrite, CollisionRename:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown collision policy %q", data.ErrInvalidInput, s)
	}
}

// Resolve applies the policy to name inside dir and returns the filename to
// download into. Empty files and missing files never collide. taken reports
// names already claimed by in-flight downloads and is consulted by the
// rename policy; it may be nil.
func (p CollisionPolicy) Resolve(dir, name string, taken func(string) bool) (string, error) {
	if !occupied(filepath.Join(dir, name)) {
		return name, nil
	}
	switch p {
	case CollisionOverwrite:
		return name, nil
	case CollisionRename:
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for i := 1; i <= maxRenameAttempts; i++ {
			cand := fmt.Sprintf("%s (%d)%s", stem, i, ext)
			if taken != nil && taken(cand) {
				continue
			}
			if !occupied(filepath.Join(dir, cand)) {
				return cand, nil
			}
		}
		return "", fmt.Errorf("%w: no free name for %s", data.ErrAlreadyExists, name)
	default:
		return "", fmt.Errorf("%w: %s", data.ErrAlreadyExists, filepath.Join(dir, name))
	}
}

func occupied(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return !errors.Is(err, os.ErrNotExist)
	}
	return fi.IsDir() || fi.Size() > 0
}
