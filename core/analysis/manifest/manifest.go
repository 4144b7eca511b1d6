// Package manifest resolves the package name from a cjpm.toml found in a tree.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
)

var (
	ErrNotFound    = errors.New("manifest not found")
	ErrParse       = errors.New("manifest parse failed")
	ErrMissingName = errors.New("manifest has no package.name")
)

type document struct {
	Package struct {
		Name any `toml:"name"`
	} `toml:"package"`
}

// Resolver searches for a manifest file by name anywhere under a root.
type Resolver struct {
	Name string
}

func NewResolver(name string) *Resolver {
	if name == "" {
		name = "cjpm.toml"
	}
	return &Resolver{Name: name}
}

// Pattern is the glob used to locate manifests.
func (r *Resolver) Pattern() string {
	return "**/" + r.Name
}

// Find returns every manifest under root, lexically ordered by slash path.
func (r *Resolver) Find(root string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(root), r.Pattern(), doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", r.Pattern(), err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Resolve returns package.name of the first manifest found under root. When
// several manifests exist the lexically first path wins.
func (r *Resolver) Resolve(root string) (string, error) {
	matches, err := r.Find(root)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: pattern %s", ErrNotFound, r.Pattern())
	}
	data, err := fs.ReadFile(os.DirFS(root), matches[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", matches[0], err)
	}
	return ParseName(matches[0], data)
}

// ParseName extracts package.name from manifest content. source names the
// document in errors.
func ParseName(source string, data []byte) (string, error) {
	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrParse, source, err)
	}
	name, ok := doc.Package.Name.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingName, source)
	}
	return name, nil
}
