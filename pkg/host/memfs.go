package host

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemFileStore implements FileStore on an in-memory map. It backs tests and
// scripted execution scenarios where no real sandbox storage exists.
type MemFileStore struct {
	mutex sync.RWMutex
	files map[string]*memFile
}

type memFile struct {
	data     []byte
	modified time.Time
}

// NewMemFileStore creates an empty in-memory file store.
func NewMemFileStore() *MemFileStore {
	return &MemFileStore{files: make(map[string]*memFile)}
}

func normalize(p string) string {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	return strings.TrimPrefix(p, "/")
}

// Add stores a file, creating parent directories implicitly.
func (s *MemFileStore) Add(p string, data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.files[normalize(p)] = &memFile{data: []byte(data), modified: time.Now()}
}

func (s *MemFileStore) ReadFile(p string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	f, ok := s.files[normalize(p)]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", p)
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

func (s *MemFileStore) WriteFile(p string, data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.files[normalize(p)] = &memFile{data: buf, modified: time.Now()}
	return nil
}

func (s *MemFileStore) Stat(p string) (FileInfo, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	key := normalize(p)
	if f, ok := s.files[key]; ok {
		return FileInfo{
			Name:    path.Base(key),
			Size:    int64(len(f.data)),
			ModTime: f.modified,
		}, nil
	}
	// Implicit directory: any file stored below this prefix.
	prefix := key + "/"
	if key == "" {
		prefix = ""
	}
	for name := range s.files {
		if strings.HasPrefix(name, prefix) {
			return FileInfo{Name: path.Base(key), IsDir: true}, nil
		}
	}
	return FileInfo{}, fmt.Errorf("file not found: %s", p)
}

func (s *MemFileStore) ReadDir(p string) ([]DirEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	key := normalize(p)
	prefix := key + "/"
	if key == "" {
		prefix = ""
	}
	seen := make(map[string]bool)
	var entries []DirEntry
	for name := range s.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		head, tail, isNested := strings.Cut(rest, "/")
		_ = tail
		if seen[head] {
			continue
		}
		seen[head] = true
		entries = append(entries, DirEntry{Name: head, IsDir: isNested})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("directory not found: %s", p)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
