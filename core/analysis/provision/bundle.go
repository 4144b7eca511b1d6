package provision

import (
	"embed"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
)

// BundleName is the archive file name looked up in the embedded assets.
const BundleName = "cjlint.tar.zst"

// The release build drops the analyzer archive into assets/ before compiling.
//
//go:embed assets
var assets embed.FS

// Embedded opens the archive compiled into the binary.
func Embedded() (io.ReadCloser, error) {
	f, err := assets.Open("assets/" + BundleName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoBundle
		}
		return nil, err
	}
	return f, nil
}

// HasEmbedded reports whether the binary carries an analyzer archive.
func HasEmbedded() bool {
	_, err := fs.Stat(assets, "assets/"+BundleName)
	return err == nil
}

// FromFile opens the archive at path on every call.
func FromFile(path string) Opener {
	return func() (io.ReadCloser, error) {
		// #nosec G304 -- bundle path is operator-provided.
		return os.Open(path)
	}
}

// DefaultOpener prefers an explicit archive path and falls back to the embedded one.
func DefaultOpener(bundlePath string) Opener {
	if p := strings.TrimSpace(bundlePath); p != "" {
		return FromFile(p)
	}
	return Embedded
}
