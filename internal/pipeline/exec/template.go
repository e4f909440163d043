// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package exec

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Placeholder names filled in for every job.
const (
	VarInput    = "input"
	VarOutput   = "output"
	VarProgress = "progress"
	VarBasename = "basename"
)

// ErrUnknownPlaceholder is returned when a template references an unset variable.
var ErrUnknownPlaceholder = errors.New("unknown placeholder")

var placeholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand substitutes {name} placeholders in every argument. Params are merged
// under the job variables; job variables win on conflict.
func Expand(argv []string, vars map[string]string, params map[string]string) ([]string, error) {
	out := make([]string, 0, len(argv))
	var missing []string
	for _, arg := range argv {
		expanded := placeholderRE.ReplaceAllStringFunc(arg, func(m string) string {
			name := m[1 : len(m)-1]
			if v, ok := vars[name]; ok {
				return v
			}
			if v, ok := params[name]; ok {
				return v
			}
			missing = append(missing, name)
			return m
		})
		out = append(out, expanded)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlaceholder, strings.Join(missing, ", "))
	}
	return out, nil
}

// Paths are the files a job writes into the output directory.
type Paths struct {
	Basename        string
	Name            string
	Output          string
	Progress        string
	Caption         string
	CaptionProgress string
}

// JobPaths derives output locations from the source path. Basename is the
// source file name without its extension. Name appends a short digest of the
// full source path, so recordings sharing a file name in different folders,
// or differing only by extension, never write to the same output.
func JobPaths(outputDir, outputExt, source string) Paths {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	sum := sha256.Sum256([]byte(filepath.Clean(source)))
	name := base + "-" + hex.EncodeToString(sum[:4])
	return Paths{
		Basename:        base,
		Name:            name,
		Output:          filepath.Join(outputDir, name+outputExt),
		Progress:        filepath.Join(outputDir, "."+name+".progress"),
		Caption:         filepath.Join(outputDir, name+".bin"),
		CaptionProgress: filepath.Join(outputDir, "."+name+".caption.progress"),
	}
}
