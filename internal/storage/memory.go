package storage

import (
	"context"
	"io"
	"sort"
	"sync"
)

// MemoryStore is a threadsafe in-memory Store for tests. It records every
// delete call, including failed ones.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deletes []string
	uploads int

	// UploadErr, when set, is consulted before each upload with the 1-based
	// upload number
	UploadErr func(n int, file *File) error
	// DeleteErr, when set, fails every delete
	DeleteErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, file *File, namespace string) (*Object, error) {
	if file == nil || file.Body == nil {
		return nil, ErrEmptyFile
	}
	s.mu.Lock()
	s.uploads++
	n := s.uploads
	hook := s.UploadErr
	s.mu.Unlock()

	if hook != nil {
		if err := hook(n, file); err != nil {
			return nil, err
		}
	}
	data, err := io.ReadAll(file.Body)
	if err != nil {
		return nil, err
	}

	key := NewKey(namespace, file.Name)
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return &Object{Key: key, Size: int64(len(data)), ContentType: file.ContentType}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, key)
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.objects, key)
	return nil
}

// Keys returns the stored keys in sorted order
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Deleted returns the keys passed to Delete, in call order
func (s *MemoryStore) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

// Has reports whether key is stored
func (s *MemoryStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}
