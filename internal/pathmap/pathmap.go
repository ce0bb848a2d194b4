// Package pathmap converts paths between the local and remote root
// directories of a connection profile. Mapping is pure prefix
// substitution; a path outside the expected root is an error, never a
// guess.
package pathmap

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// MappingError reports a path that cannot be mapped because it is not a
// descendant of the expected root.
type MappingError struct {
	Path string
	Root string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("path %q is not under root %q", e.Path, e.Root)
}

// Mapper maps paths between LocalRoot and RemoteRoot. It is stateless
// and safe for concurrent use.
type Mapper struct {
	localRoot  string
	remoteRoot string
}

// New creates a Mapper for the given roots. Roots are normalized once;
// the remote root always uses forward slashes.
func New(localRoot, remoteRoot string) *Mapper {
	return &Mapper{
		localRoot:  filepath.Clean(localRoot),
		remoteRoot: path.Clean(filepath.ToSlash(remoteRoot)),
	}
}

// LocalRoot returns the normalized local root.
func (m *Mapper) LocalRoot() string { return m.localRoot }

// RemoteRoot returns the normalized remote root.
func (m *Mapper) RemoteRoot() string { return m.remoteRoot }

// ToRemote maps a local path to its remote counterpart. Relative paths
// are resolved against the local root. Remote paths always use "/".
func (m *Mapper) ToRemote(localPath string) (string, error) {
	p := localPath
	if !filepath.IsAbs(p) {
		p = filepath.Join(m.localRoot, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(m.localRoot, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &MappingError{Path: localPath, Root: m.localRoot}
	}
	if rel == "." {
		return m.remoteRoot, nil
	}
	return path.Join(m.remoteRoot, filepath.ToSlash(rel)), nil
}

// ToLocal maps a remote path back to its local counterpart. It is the
// inverse of ToRemote for every path under the local root.
func (m *Mapper) ToLocal(remotePath string) (string, error) {
	p := path.Clean(filepath.ToSlash(remotePath))

	if p == m.remoteRoot {
		return m.localRoot, nil
	}
	prefix := m.remoteRoot
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(p, prefix) {
		return "", &MappingError{Path: remotePath, Root: m.remoteRoot}
	}
	rel := strings.TrimPrefix(p, prefix)
	return filepath.Join(m.localRoot, filepath.FromSlash(rel)), nil
}
