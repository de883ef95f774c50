// Package fsutil holds filesystem helpers shared by the local document repository and the results writer.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SafeJoin joins rel onto base and fails if the result would leave base. Absolute rel paths are treated as
// relative to base.
func SafeJoin(base, rel string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	target := filepath.Join(absBase, filepath.FromSlash(rel))
	if !within(absBase, target) {
		return "", fmt.Errorf("path %q escapes base directory", rel)
	}
	return target, nil
}

// SafeResolve is SafeJoin followed by symlink resolution. It fails if the resolved target lies outside the
// resolved base, so a link inside base cannot expose files elsewhere on disk.
func SafeResolve(base, rel string) (string, error) {
	target, err := SafeJoin(base, rel)
	if err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	realBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", err
	}
	if !within(realBase, resolved) {
		return "", fmt.Errorf("path %q resolves outside base directory", rel)
	}
	return resolved, nil
}

func within(base, target string) bool {
	return target == base || strings.HasPrefix(target, base+string(os.PathSeparator))
}

// RelSlash returns path relative to base using forward slashes, or "" when path is base itself.
func RelSlash(base, path string) (string, error) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}
