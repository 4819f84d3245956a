package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var _ Resetter = (*FilePersister)(nil)

// FilePersister stores session keys in a single JSON document.
//
// Layout:
//
//	<dir>/session.json
//
// Every mutation rewrites the whole document through a temp file and rename,
// so a crash never leaves a half-written session behind. The file holds a
// bearer token and is created with mode 0600.
type FilePersister struct {
	dir string
	mu  sync.Mutex
}

func NewFilePersister(dir string) *FilePersister {
	return &FilePersister{dir: strings.TrimSpace(dir)}
}

func (p *FilePersister) Dir() string {
	return p.dir
}

func (p *FilePersister) Path() string {
	return filepath.Join(p.dir, "session.json")
}

func (p *FilePersister) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	values, err := p.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (p *FilePersister) Set(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	values, err := p.load()
	if err != nil {
		return err
	}
	values[key] = value
	return p.write(values)
}

func (p *FilePersister) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	values, err := p.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return p.write(values)
}

// Reset replaces the session file with an empty document, whatever it holds.
func (p *FilePersister) Reset(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dir == "" {
		return fmt.Errorf("session dir is empty")
	}
	return p.write(make(map[string]string))
}

func (p *FilePersister) load() (map[string]string, error) {
	if p.dir == "" {
		return nil, fmt.Errorf("session dir is empty")
	}
	b, err := os.ReadFile(p.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return make(map[string]string), nil
	}

	values := make(map[string]string)
	if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
		return nil, fmt.Errorf("parse session file: %w: %w", ErrCorrupt, err)
	}
	return values, nil
}

func (p *FilePersister) write(values map[string]string) error {
	if err := os.MkdirAll(p.dir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	b, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(p.dir, "session.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}

	if err := os.Rename(tmpName, p.Path()); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}
