// Package session keeps uploaded documents and conversation history per
// session. Nothing is persisted beyond the process lifetime.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/vinodismyname/xlsxctx/internal/ingest"
	"github.com/vinodismyname/xlsxctx/internal/tables"
	"github.com/vinodismyname/xlsxctx/internal/tokens"
)

// NoFilesContext is the combined context of a session without uploads.
const NoFilesContext = "No Excel files have been uploaded yet."

var (
	// ErrSessionNotFound indicates an unknown or evicted session ID.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrFileNotFound indicates the named file is not part of the session.
	ErrFileNotFound = errors.New("session: file not found")
)

// Session owns the documents and history of one conversation.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.RWMutex
	docs         []ingest.Document
	history      []string
	nextIndex    int
	lastActivity time.Time
	clock        func() time.Time
}

func newSession(id string, clock func() time.Time) *Session {
	now := clock()
	return &Session{ID: id, CreatedAt: now, lastActivity: now, clock: clock}
}

// FileInfo summarizes one uploaded file.
type FileInfo struct {
	Source string   `json:"source"`
	Path   string   `json:"path,omitempty"`
	Sheets []string `json:"sheets"`
	Chunks int      `json:"chunks"`
	Tokens int      `json:"tokens"`
}

// Status is a point-in-time view of a session.
type Status struct {
	ID              string     `json:"id"`
	Files           []FileInfo `json:"files"`
	Chunks          int        `json:"chunks"`
	HistoryMessages int        `json:"historyMessages"`
	ContextTokens   int        `json:"contextTokens"`
	HistoryTokens   int        `json:"historyTokens"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastActivity    time.Time  `json:"lastActivity"`
}

// NextIndex is the ordinal the next ingested chunk will receive.
func (s *Session) NextIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextIndex
}

// AddDocument adds doc and returns false when a document with the same path
// was already added. A different file with the same name replaces the earlier
// one in place. Chunks are renumbered into this session.
func (s *Session) AddDocument(doc ingest.Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.clock()

	pos := -1
	for i, d := range s.docs {
		if doc.Path != "" && d.Path == doc.Path {
			return false
		}
		if d.Source == doc.Source {
			pos = i
		}
	}

	doc.Chunks = ingest.Renumber(doc.Chunks, s.ID, s.nextIndex)
	s.nextIndex += len(doc.Chunks)
	if pos >= 0 {
		s.docs[pos] = doc
		return true
	}
	s.docs = append(s.docs, doc)
	return true
}

// RemoveFile drops the document with the given source name.
func (s *Session) RemoveFile(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.docs {
		if d.Source == source {
			s.docs = append(s.docs[:i], s.docs[i+1:]...)
			s.lastActivity = s.clock()
			return nil
		}
	}
	return ErrFileNotFound
}

// HasFiles reports whether any document was uploaded.
func (s *Session) HasFiles() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs) > 0
}

// Files lists uploaded files in upload order.
func (s *Session) Files() []FileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FileInfo, len(s.docs))
	for i, d := range s.docs {
		out[i] = FileInfo{
			Source: d.Source,
			Path:   d.Path,
			Sheets: d.Sheets,
			Chunks: len(d.Chunks),
			Tokens: tokens.Estimate(d.Markdown),
		}
	}
	return out
}

// Chunks returns every chunk in upload order.
func (s *Session) Chunks() []ingest.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.Chunk
	for _, d := range s.docs {
		out = append(out, d.Chunks...)
	}
	return out
}

// CombinedContext joins every document's markdown with the file separator, or
// returns NoFilesContext.
func (s *Session) CombinedContext() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.docs) == 0 {
		return NoFilesContext
	}
	parts := make([]string, len(s.docs))
	for i, d := range s.docs {
		parts[i] = d.Markdown
	}
	return strings.Join(parts, tables.FileSeparator)
}

// History returns a copy of the conversation. Even positions are user turns,
// odd positions assistant turns.
func (s *Session) History() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// AppendExchange records a user message and the assistant's reply.
func (s *Session) AppendExchange(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, user, assistant)
	s.lastActivity = s.clock()
}

// ClearHistory forgets the conversation but keeps documents.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.lastActivity = s.clock()
}

// ClearAll forgets documents and conversation.
func (s *Session) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = nil
	s.history = nil
	s.nextIndex = 0
	s.lastActivity = s.clock()
}

// LastActivity is the time of the last access or mutation.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = s.clock()
	s.mu.Unlock()
}

// Status summarizes the session.
func (s *Session) Status() Status {
	files := s.Files()
	ctx := s.CombinedContext()

	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		ID:              s.ID,
		Files:           files,
		HistoryMessages: len(s.history),
		HistoryTokens:   tokens.EstimateAll(s.history),
		CreatedAt:       s.CreatedAt,
		LastActivity:    s.lastActivity,
	}
	for _, f := range files {
		st.Chunks += f.Chunks
	}
	if len(s.docs) > 0 {
		st.ContextTokens = tokens.Estimate(ctx)
	}
	return st
}
