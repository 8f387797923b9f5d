package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Credentials is the whole durable client state: the bearer token and the
// role slug the backend issued with it.
type Credentials struct {
	Token string `yaml:"token"`
	Role  string `yaml:"userRole"`
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Token) == ""
}

type Store interface {
	Load() (Credentials, error)
	Save(c Credentials) error
	Clear() error
}

type MemoryStore struct {
	mu    sync.Mutex
	creds Credentials
}

func NewMemoryStore(c Credentials) *MemoryStore {
	return &MemoryStore{creds: c}
}

func (s *MemoryStore) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, nil
}

func (s *MemoryStore) Save(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
	return nil
}

// FileStore keeps credentials in a YAML file readable only by the owner.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Load() (Credentials, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, nil
		}
		return Credentials{}, err
	}
	var c Credentials
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Credentials{}, err
	}
	c.Token = strings.TrimSpace(c.Token)
	c.Role = strings.TrimSpace(c.Role)
	return c, nil
}

func (s *FileStore) Save(c Credentials) error {
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("session: credentials path is required")
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
