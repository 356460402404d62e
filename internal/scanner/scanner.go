// Package scanner enumerates the files under a source directory tree.
package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"mkv-transcoder/pkg/models"
)

// Policy decides what happens when an entry cannot be read during traversal.
type Policy int

const (
	// PolicyAbort fails the whole scan on the first unreadable entry.
	PolicyAbort Policy = iota
	// PolicySkipUnreadable skips unreadable entries and subtrees.
	PolicySkipUnreadable
)

// ParsePolicy maps the configuration value ("abort", "skip") to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "abort":
		return PolicyAbort, nil
	case "skip":
		return PolicySkipUnreadable, nil
	default:
		return PolicyAbort, fmt.Errorf("unknown traversal policy %q", s)
	}
}

// Options tunes a scan.
type Options struct {
	Reverse bool
	Policy  Policy
	// OnSkip is called for each entry skipped under PolicySkipUnreadable.
	OnSkip func(path string, err error)
}

// TraversalError reports the entry that made the scan fail.
type TraversalError struct {
	Path string
	Err  error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("traversal failed at %s: %v", e.Path, e.Err)
}

func (e *TraversalError) Unwrap() error { return e.Err }

// Scan walks root depth-first in lexical order and returns every
// non-directory entry as a candidate. With Reverse set the final slice is
// reversed in place. Under PolicyAbort no partial result is returned.
func Scan(root string, opts Options) ([]models.FileCandidate, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &TraversalError{Path: root, Err: err}
	}
	// WalkDir does not follow a symlinked root, so walk its target and report
	// paths under the root as given.
	walkRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, &TraversalError{Path: absRoot, Err: err}
	}
	display := func(path string) string {
		if walkRoot == absRoot {
			return path
		}
		rel, err := filepath.Rel(walkRoot, path)
		if err != nil {
			return path
		}
		return filepath.Join(absRoot, rel)
	}

	var candidates []models.FileCandidate
	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		path = display(path)
		if err != nil {
			if opts.Policy == PolicySkipUnreadable && path != absRoot {
				if opts.OnSkip != nil {
					opts.OnSkip(path, err)
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return &TraversalError{Path: path, Err: err}
		}
		if d.IsDir() {
			return nil
		}
		candidates = append(candidates, NewCandidate(path))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opts.Reverse {
		slices.Reverse(candidates)
	}
	return candidates, nil
}

// NewCandidate splits path into the candidate's name, stem and extension.
// The extension is kept verbatim (no case folding).
func NewCandidate(path string) models.FileCandidate {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	return models.FileCandidate{
		Path: path,
		Name: name,
		Stem: strings.TrimSuffix(name, ext),
		Ext:  strings.TrimPrefix(ext, "."),
	}
}
