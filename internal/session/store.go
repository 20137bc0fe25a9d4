package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// PointerFile is the name of the active session pointer, kept next to the
// session directory.
const PointerFile = "active-session.json"

var validID = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidID reports whether id is safe to use as a session file name.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Pointer is the on-disk record of which session is active.
type Pointer struct {
	SessionID string    `json:"sessionId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store maps sessions to <dir>/<id>.json and maintains the active pointer.
type Store struct {
	dir     string
	pointer string
	logger  *slog.Logger
	clock   func() time.Time
}

// NewStore returns a store rooted at dir. The pointer lives in dir's parent.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clean := filepath.Clean(dir)
	return &Store{
		dir:     clean,
		pointer: filepath.Join(filepath.Dir(clean), PointerFile),
		logger:  logger,
		clock:   time.Now,
	}
}

// Dir returns the session directory.
func (s *Store) Dir() string { return s.dir }

// PointerPath returns the location of the active session pointer.
func (s *Store) PointerPath() string { return s.pointer }

// EnsureDir creates the session directory if needed.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("session: ensure dir %s: %w", s.dir, err)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Write serializes the complete session. The file is replaced atomically so
// readers never observe a partial document.
func (s *Store) Write(sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session: write: nil session")
	}
	if !ValidID(sess.ID) {
		return fmt.Errorf("session: write %q: %w", sess.ID, ErrInvalidSessionID)
	}
	encoded, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", sess.ID, err)
	}
	if err := s.EnsureDir(); err != nil {
		return err
	}
	return writeFileAtomic(s.path(sess.ID), append(encoded, '\n'))
}

// Read loads the session with the given id. Unsafe ids are rejected before
// any path is built.
func (s *Store) Read(id string) (*Session, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("session: read %q: %w", id, ErrInvalidSessionID)
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session: read %s: %w", id, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("session: read %s: %w", id, err)
	}
	sess, err := decodeSession(data)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", id, err)
	}
	return sess, nil
}

// List returns every readable session, newest start time first. Corrupted
// files are logged and skipped.
func (s *Store) List() ([]*Session, error) {
	names, err := s.sessionFiles()
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(names))
	for _, name := range names {
		sess, err := s.readFile(name)
		if err != nil {
			s.logger.Warn("session: ignoring corrupted file", "file", name, "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	return sessions, nil
}

// SetActive records id as the active session. An empty id clears the pointer.
func (s *Store) SetActive(id string) error {
	if id == "" {
		if err := os.Remove(s.pointer); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("session: clear pointer: %w", err)
		}
		return nil
	}
	if !ValidID(id) {
		return fmt.Errorf("session: set pointer %q: %w", id, ErrInvalidSessionID)
	}
	encoded, err := json.MarshalIndent(Pointer{SessionID: id, UpdatedAt: s.clock().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode pointer: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.pointer), 0o755); err != nil {
		return fmt.Errorf("session: ensure pointer dir: %w", err)
	}
	return writeFileAtomic(s.pointer, append(encoded, '\n'))
}

// Active returns the id recorded in the pointer. A missing or unreadable
// pointer yields ok=false.
func (s *Store) Active() (string, bool) {
	data, err := os.ReadFile(s.pointer)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("session: unreadable pointer", "path", s.pointer, "error", err)
		}
		return "", false
	}
	var ptr Pointer
	if err := json.Unmarshal(data, &ptr); err != nil || !ValidID(ptr.SessionID) {
		s.logger.Warn("session: ignoring corrupted pointer", "path", s.pointer)
		return "", false
	}
	return ptr.SessionID, true
}

// FindActive locates the active session. The pointer is consulted first; if
// it is missing, corrupted or stale the directory is scanned newest-file
// first and the pointer is rewritten to the match.
func (s *Store) FindActive() (*Session, error) {
	if id, ok := s.Active(); ok {
		sess, err := s.Read(id)
		if err == nil && sess.Status == StatusActive {
			return sess, nil
		}
		s.logger.Debug("session: stale pointer, scanning", "session_id", id)
	}
	names, err := s.sessionFiles()
	if err != nil {
		return nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		sess, err := s.readFile(names[i])
		if err != nil {
			s.logger.Warn("session: ignoring corrupted file", "file", names[i], "error", err)
			continue
		}
		if sess.Status != StatusActive {
			continue
		}
		if err := s.SetActive(sess.ID); err != nil {
			s.logger.Warn("session: repair pointer failed", "session_id", sess.ID, "error", err)
		}
		return sess, nil
	}
	return nil, ErrSessionNotFound
}

// sessionFiles lists *.json names in ascending order. A missing directory
// yields no files.
func (s *Store) sessionFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read %s: %w", s.dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) readFile(name string) (*Session, error) {
	id := strings.TrimSuffix(name, ".json")
	if !ValidID(id) {
		return nil, ErrInvalidSessionID
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	return decodeSession(data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("session: replace %s: %w", path, err)
	}
	return nil
}
