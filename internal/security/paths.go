// Package security guards the two trust boundaries of the service: the admin
// key on write requests and the directory allow-list for local workbook paths.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotAllowed indicates the requested path is outside the allow-list roots.
	ErrNotAllowed = errors.New("security: path not allowed")
	// ErrUnsupportedExtension indicates the file is not a workbook type we read.
	ErrUnsupportedExtension = errors.New("security: unsupported file extension")
	// ErrNotFound indicates the requested file does not exist or is not accessible.
	ErrNotFound = errors.New("security: file not found")
)

// DefaultExtensions are the workbook types excelize opens.
var DefaultExtensions = []string{".xlsx", ".xlsm", ".xltx", ".xltm"}

// PathGuard restricts local workbook reads to canonical allow-listed roots.
// An empty allow-list denies every path.
type PathGuard struct {
	roots []string
	exts  map[string]struct{}
}

// NewPathGuard canonicalizes roots (absolute, symlinks resolved) and checks
// that each is a directory. Blank entries are skipped.
func NewPathGuard(roots []string, extensions []string) (*PathGuard, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") || len(e) < 2 {
			return nil, fmt.Errorf("security: invalid extension: %q", e)
		}
		exts[e] = struct{}{}
	}

	g := &PathGuard{exts: exts}
	for _, d := range roots {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		real, err := canonical(d)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(real)
		if err != nil {
			return nil, fmt.Errorf("security: stat %q: %w", real, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("security: allow-list entry is not a directory: %q", real)
		}
		g.roots = append(g.roots, real)
	}
	return g, nil
}

func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("security: resolve %q: %w", p, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("security: eval symlinks for %q: %w", abs, err)
	}
	return filepath.Clean(real), nil
}

// Roots returns a copy of the canonical allow-list.
func (g *PathGuard) Roots() []string {
	return append([]string(nil), g.roots...)
}

// Enabled reports whether any root is configured.
func (g *PathGuard) Enabled() bool { return len(g.roots) > 0 }

// ValidateOpenPath returns the canonical path of an existing workbook inside
// one of the roots. Symlinks are resolved before the containment check.
func (g *PathGuard) ValidateOpenPath(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrNotAllowed
	}
	if _, ok := g.exts[strings.ToLower(filepath.Ext(input))]; !ok {
		return "", ErrUnsupportedExtension
	}
	real, err := canonical(input)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(real)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("security: stat: %w", err)
	}
	if info.IsDir() {
		return "", ErrNotAllowed
	}
	for _, root := range g.roots {
		rel, err := filepath.Rel(root, real)
		if err != nil || rel == "." {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return real, nil
		}
	}
	return "", ErrNotAllowed
}
