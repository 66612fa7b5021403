package policy

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Store holds the active Policy and swaps it atomically on reload. Readers
// call Current once per request and keep using that snapshot, so a reload
// never changes the policy under an in-flight validation.
type Store struct {
	path   string
	opts   LoadOptions
	logger *slog.Logger

	mu        sync.Mutex // serializes Reload and Install
	current   atomic.Pointer[Policy]
	version   int64
	listeners []func(*Policy)
}

// NewStore loads the policy file at path and returns a Store serving it.
func NewStore(path string, opts LoadOptions, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := LoadFile(path, opts)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, opts: opts, logger: logger}
	s.install(p)
	return s, nil
}

// NewStaticStore wraps an already built policy. Reload on a static store
// re-installs the same document under a new version.
func NewStaticStore(p *Policy) *Store {
	s := &Store{logger: slog.Default()}
	s.install(p)
	return s
}

// Current returns the active policy.
func (s *Store) Current() *Policy { return s.current.Load() }

// Path returns the file the store reloads from.
func (s *Store) Path() string { return s.path }

// OnReload registers fn to be called with every newly installed policy.
func (s *Store) OnReload(fn func(*Policy)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload re-reads the policy file. On failure the previous policy stays
// active and the load error is returned.
func (s *Store) Reload(ctx context.Context) (*Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		p := s.install(s.current.Load())
		return p, nil
	}

	next, err := LoadFile(s.path, s.opts)
	if err != nil {
		s.logger.Warn("policy reload failed, keeping previous policy",
			"path", s.path, "version", s.current.Load().Version(), "error", err)
		return nil, err
	}
	p := s.install(next)
	s.logger.Info("policy reloaded", "path", s.path, "version", p.Version(),
		"allow_tables", len(p.allowTables), "deny_columns", len(p.denyColumns))
	return p, nil
}

// Install replaces the active policy with p.
func (s *Store) Install(p *Policy) *Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.install(p)
}

// install must be called with mu held, or before the store is shared.
func (s *Store) install(p *Policy) *Policy {
	s.version++
	next := *p
	next.version = s.version
	if next.source == "" {
		next.source = s.path
	}
	s.current.Store(&next)
	for _, fn := range s.listeners {
		fn(&next)
	}
	return &next
}
