package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OSFileStore implements FileStore on top of the operating system filesystem,
// rooted at a base directory. Paths that escape the root are rejected.
type OSFileStore struct {
	root string
}

// NewOSFileStore creates a FileStore rooted at root. The root is made
// absolute so later chdir calls in the host process do not move the sandbox.
func NewOSFileStore(root string) (*OSFileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root %q: %w", root, err)
	}
	return &OSFileStore{root: abs}, nil
}

// Root returns the absolute sandbox root directory.
func (s *OSFileStore) Root() string { return s.root }

func (s *OSFileStore) fullPath(path string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.FromSlash(path))
	full := filepath.Join(s.root, cleaned)
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes sandbox root", path)
	}
	return full, nil
}

func (s *OSFileStore) ReadFile(path string) ([]byte, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (s *OSFileStore) WriteFile(path string, data []byte) error {
	full, err := s.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (s *OSFileStore) Stat(path string) (FileInfo, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}, nil
}

func (s *OSFileStore) ReadDir(path string) ([]DirEntry, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}
