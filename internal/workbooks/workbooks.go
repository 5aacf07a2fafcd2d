// Package workbooks manages short-lived excelize handles for ingestion.
package workbooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/vinodismyname/xlsxctx/config"
)

var (
	// ErrHandleNotFound indicates an unknown, closed or evicted handle ID.
	ErrHandleNotFound = errors.New("workbooks: handle not found")
	// ErrUnsupportedFormat is returned for extensions excelize cannot read.
	ErrUnsupportedFormat = errors.New("workbooks: unsupported format")
	// ErrOpenFailed wraps excelize failures to parse a workbook.
	ErrOpenFailed = errors.New("workbooks: open failed")
)

// SupportedExtensions lists the workbook formats ingestion accepts.
var SupportedExtensions = []string{".xlsx", ".xlsm", ".xltx", ".xltm"}

// Handle is an open workbook with its source name and idle deadline.
type Handle struct {
	ID     string
	Source string
	// Path is the canonical file path; empty for reader-backed handles.
	Path      string
	File      *excelize.File
	LoadedAt  time.Time
	ExpiresAt time.Time
	mu        sync.RWMutex
}

// Expired reports whether the handle passed its idle deadline.
func (h *Handle) Expired(now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return now.After(h.ExpiresAt)
}

// Gate bounds the number of simultaneously open workbooks (runtime.Controller).
type Gate interface {
	AcquireWorkbook(ctx context.Context) error
	ReleaseWorkbook()
}

// PathValidator returns the canonical path when access is allowed.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithGate sets the capacity gate.
func WithGate(g Gate) Option { return func(m *Manager) { m.gate = g } }

// WithPathValidator enforces an allow-list on Open.
func WithPathValidator(v PathValidator) Option { return func(m *Manager) { m.validator = v } }

// WithClock injects the time source used for TTL bookkeeping.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// Manager tracks open workbooks. Ingestion closes its handle when done; the
// TTL sweep reclaims handles that were never closed.
type Manager struct {
	mu           sync.RWMutex
	handles      map[string]*Handle
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         Gate
	validator    PathValidator
	stopCh       chan struct{}
	stopOnce     sync.Once
	cleanupWG    sync.WaitGroup
}

// NewManager builds a Manager. Non-positive durations fall back to config
// defaults.
func NewManager(ttl, cleanupEvery time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = config.DefaultWorkbookIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultWorkbookCleanupPeriod
	}
	m := &Manager{
		handles:      make(map[string]*Handle),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        time.Now,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the periodic eviction loop.
func (m *Manager) Start() {
	m.cleanupWG.Add(1)
	ticker := time.NewTicker(m.cleanupEvery)
	go func() {
		defer m.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops the eviction loop and closes every remaining handle.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	done := make(chan struct{})
	go func() { m.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()

	var errs []error
	for _, h := range handles {
		errs = append(errs, m.closeHandle(h))
	}
	return errors.Join(errs...)
}

// Supported reports whether path has a readable workbook extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Open validates and opens a workbook from disk and returns its handle ID.
func (m *Manager) Open(ctx context.Context, path string) (string, error) {
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	if !Supported(path) {
		m.release()
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if m.validator != nil {
		canonical, err := m.validator.ValidateOpenPath(path)
		if err != nil {
			m.release()
			return "", err
		}
		path = canonical
	} else if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		m.release()
		return "", fmt.Errorf("%w: %s: %w", ErrOpenFailed, filepath.Base(path), err)
	}
	return m.register(f, filepath.Base(path), path), nil
}

// OpenReader opens a workbook from an in-memory stream, e.g. an upload body.
func (m *Manager) OpenReader(ctx context.Context, r io.Reader, source string) (string, error) {
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		m.release()
		return "", fmt.Errorf("%w: %s: %w", ErrOpenFailed, source, err)
	}
	return m.register(f, source, ""), nil
}

// Adopt registers an already-open file.
func (m *Manager) Adopt(ctx context.Context, f *excelize.File, source string) (string, error) {
	if f == nil {
		return "", fmt.Errorf("workbooks: nil file")
	}
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	return m.register(f, source, ""), nil
}

func (m *Manager) register(f *excelize.File, source, path string) string {
	now := m.clock()
	h := &Handle{
		ID:        uuid.NewString(),
		Source:    source,
		Path:      path,
		File:      f,
		LoadedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.mu.Lock()
	m.handles[h.ID] = h
	m.mu.Unlock()
	return h.ID
}

// Get returns the handle and refreshes its idle deadline.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	now := m.clock()
	h.mu.Lock()
	h.ExpiresAt = now.Add(m.ttl)
	h.mu.Unlock()
	return h, true
}

// WithRead runs fn under the handle's shared lock.
func (m *Manager) WithRead(id string, fn func(h *Handle) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h)
}

// CloseHandle closes and forgets a handle, releasing its gate slot.
func (m *Manager) CloseHandle(id string) error {
	m.mu.Lock()
	h, ok := m.handles[id]
	delete(m.handles, id)
	m.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	return m.closeHandle(h)
}

// EvictExpired closes every handle past its idle deadline and returns how many
// were evicted.
func (m *Manager) EvictExpired() int {
	now := m.clock()
	var expired []*Handle

	m.mu.Lock()
	for id, h := range m.handles {
		if h.Expired(now) {
			expired = append(expired, h)
			delete(m.handles, id)
		}
	}
	m.mu.Unlock()

	for _, h := range expired {
		_ = m.closeHandle(h)
	}
	return len(expired)
}

// Count returns the number of open handles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *Manager) closeHandle(h *Handle) error {
	// wait for in-flight readers
	h.mu.Lock()
	err := h.File.Close()
	h.mu.Unlock()
	m.release()
	return err
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireWorkbook(ctx)
}

func (m *Manager) release() {
	if m.gate != nil {
		m.gate.ReleaseWorkbook()
	}
}
