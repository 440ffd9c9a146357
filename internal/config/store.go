package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Store hands out config snapshots and picks up edits to the file without
// a restart. Current stats the file and re-parses it only when its size or
// modification time changed, so it is cheap enough to call on every policy
// decision. A file that stops parsing keeps the last good snapshot.
type Store struct {
	path string

	mu       sync.Mutex
	current  *Config
	modTime  time.Time
	size     int64
	lastErr  error
	onError  func(error)
	warnings []error
}

// NewStore loads path once. A missing file yields the defaults; a file
// that cannot be parsed is an error.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	s.warnings = cfg.Validate()
	s.current = cfg
	if info, err := os.Stat(path); err == nil {
		s.modTime = info.ModTime()
		s.size = info.Size()
	}
	return s, nil
}

// NewStaticStore wraps a fixed config. Used by tests and simulation mode
// where nothing is read from disk.
func NewStaticStore(cfg *Config) *Store {
	return &Store{current: cfg}
}

// Warnings returns the validation problems found by the initial load.
func (s *Store) Warnings() []error {
	return s.warnings
}

// Path returns the backing file, or "" for a static store.
func (s *Store) Path() string {
	return s.path
}

// OnError registers a callback for reload failures.
func (s *Store) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Current returns the latest config snapshot. Callers must treat it as
// read-only.
func (s *Store) Current() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return s.current
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !s.modTime.IsZero() {
			// File removed: fall back to defaults.
			s.current = defaultConfig()
			s.modTime = time.Time{}
			s.size = 0
		}
		return s.current
	}
	if info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.current
	}

	cfg, err := Load(s.path)
	if err != nil {
		if s.lastErr == nil || s.lastErr.Error() != err.Error() {
			s.lastErr = err
			if s.onError != nil {
				s.onError(err)
			}
		}
		return s.current
	}
	cfg.Validate()
	s.current = cfg
	s.modTime = info.ModTime()
	s.size = info.Size()
	s.lastErr = nil
	return s.current
}

// SetIdleTimeout persists monitor.idle_timeout. Other keys and comments in
// the file are left as they are.
func (s *Store) SetIdleTimeout(seconds int) error {
	if seconds < MinIdleTimeout {
		return fmt.Errorf("idle timeout %d is below minimum %d", seconds, MinIdleTimeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		cfg := *s.current
		cfg.Monitor.IdleTimeout = seconds
		s.current = &cfg
		return nil
	}

	var doc yaml.Node
	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	setNodeValue(&doc, []string{"monitor", "idle_timeout"}, strconv.Itoa(seconds), "!!int")

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	cfg, err := parse(buf.Bytes())
	if err != nil {
		return err
	}
	cfg.Validate()
	s.current = cfg
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
		s.size = info.Size()
	}
	return nil
}

// setNodeValue walks (and creates) mapping keys under doc and sets the
// final scalar.
func setNodeValue(doc *yaml.Node, keys []string, value, tag string) {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	node := doc.Content[0]
	for i, key := range keys {
		var child *yaml.Node
		for j := 0; j+1 < len(node.Content); j += 2 {
			if node.Content[j].Value == key {
				child = node.Content[j+1]
				break
			}
		}
		last := i == len(keys)-1
		if child == nil {
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			if last {
				child = &yaml.Node{Kind: yaml.ScalarNode}
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
				child,
			)
		}
		if last {
			child.Kind = yaml.ScalarNode
			child.Tag = tag
			child.Value = value
			child.Content = nil
			return
		}
		if child.Kind != yaml.MappingNode {
			child.Kind = yaml.MappingNode
			child.Tag = "!!map"
			child.Value = ""
			child.Content = nil
		}
		node = child
	}
}
