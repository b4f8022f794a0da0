package chat

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivansantander-hub/docuchat/internal/errors"
)

// idRegex constrains user IDs, store names, and chat IDs to path-safe tokens.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

const indexFileName = "sessions.json"

// Store persists chat sessions as JSON files under dir, one file per
// session plus a per-user index for listing. Mutations on the same session
// serialize on a keyed mutex; different sessions proceed in parallel.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a session store rooted at dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// GetOrCreate returns the session, creating it if chatID is empty or names a
// session that does not exist yet. New sessions get a UUID when no chatID is
// given.
func (s *Store) GetOrCreate(userID, storeName, chatID string) (*Session, error) {
	if chatID == "" {
		chatID = uuid.NewString()
	}
	if err := validateIDs(userID, storeName, chatID); err != nil {
		return nil, err
	}

	lock := s.lockFor(userID, storeName, chatID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.read(userID, storeName, chatID)
	if err == nil {
		return session, nil
	}
	if !errors.HasCode(err, errors.ErrCodeSessionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	session = &Session{
		UserID:         userID,
		StoreName:      storeName,
		ChatID:         chatID,
		DisplayName:    "Chat " + now.Format("2006-01-02 15:04"),
		Turns:          []Turn{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.write(session); err != nil {
		return nil, err
	}

	s.logger.Info("created chat session",
		slog.String("user", userID),
		slog.String("store", storeName),
		slog.String("chat", chatID))
	return session, nil
}

// Get returns an existing session or SessionNotFound.
func (s *Store) Get(userID, storeName, chatID string) (*Session, error) {
	if err := validateIDs(userID, storeName, chatID); err != nil {
		return nil, err
	}

	lock := s.lockFor(userID, storeName, chatID)
	lock.Lock()
	defer lock.Unlock()

	return s.read(userID, storeName, chatID)
}

// AppendTurn appends a completed turn to an existing session.
func (s *Store) AppendTurn(userID, storeName, chatID string, turn Turn) error {
	if err := validateIDs(userID, storeName, chatID); err != nil {
		return err
	}

	lock := s.lockFor(userID, storeName, chatID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.read(userID, storeName, chatID)
	if err != nil {
		return err
	}

	session.Turns = append(session.Turns, turn)
	session.LastActivityAt = time.Now().UTC()
	return s.write(session)
}

// List returns the user's sessions, most recently active first. An unknown
// user simply has no sessions.
func (s *Store) List(userID string) ([]Meta, error) {
	if !idRegex.MatchString(userID) {
		return nil, errors.Newf(errors.ErrCodeInvalidName, "invalid user ID %q", userID)
	}

	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	index, err := s.readIndex(userID)
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, 0, len(index))
	for _, meta := range index {
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].LastActivityAt.Equal(metas[j].LastActivityAt) {
			return metas[i].LastActivityAt.After(metas[j].LastActivityAt)
		}
		return metas[i].ChatID < metas[j].ChatID
	})
	return metas, nil
}

// Rename sets the display name of an existing session.
func (s *Store) Rename(userID, storeName, chatID, displayName string) error {
	if err := validateIDs(userID, storeName, chatID); err != nil {
		return err
	}
	if displayName == "" {
		return errors.Newf(errors.ErrCodeInvalidInput, "display name must not be empty")
	}

	lock := s.lockFor(userID, storeName, chatID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.read(userID, storeName, chatID)
	if err != nil {
		return err
	}

	session.DisplayName = displayName
	session.LastActivityAt = time.Now().UTC()
	return s.write(session)
}

// ClearHistory removes all turns from an existing session but keeps the
// session itself.
func (s *Store) ClearHistory(userID, storeName, chatID string) error {
	if err := validateIDs(userID, storeName, chatID); err != nil {
		return err
	}

	lock := s.lockFor(userID, storeName, chatID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.read(userID, storeName, chatID)
	if err != nil {
		return err
	}

	session.Turns = []Turn{}
	session.LastActivityAt = time.Now().UTC()
	return s.write(session)
}

// DeleteSession removes a session and its index entry.
func (s *Store) DeleteSession(userID, storeName, chatID string) error {
	if err := validateIDs(userID, storeName, chatID); err != nil {
		return err
	}

	lock := s.lockFor(userID, storeName, chatID)
	lock.Lock()
	defer lock.Unlock()

	path := s.sessionPath(userID, storeName, chatID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.SessionNotFound(userID, storeName, chatID)
	}
	if err := os.Remove(path); err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to delete session file", err)
	}

	return s.updateIndex(userID, func(index map[string]Meta) {
		delete(index, indexKey(storeName, chatID))
	})
}

// lockFor returns the mutex for a composite key, creating it on first use.
func (s *Store) lockFor(parts ...string) *sync.Mutex {
	key := filepath.Join(parts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func (s *Store) sessionPath(userID, storeName, chatID string) string {
	return filepath.Join(s.dir, userID, storeName, chatID+".json")
}

func (s *Store) indexPath(userID string) string {
	return filepath.Join(s.dir, userID, indexFileName)
}

func indexKey(storeName, chatID string) string {
	return storeName + "/" + chatID
}

// read loads a session file. Missing files become SessionNotFound.
func (s *Store) read(userID, storeName, chatID string) (*Session, error) {
	data, err := os.ReadFile(s.sessionPath(userID, storeName, chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.SessionNotFound(userID, storeName, chatID)
		}
		return nil, errors.New(errors.ErrCodePersistenceFailed, "failed to read session file", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, errors.New(errors.ErrCodePersistenceFailed, "failed to parse session file", err)
	}
	return &session, nil
}

// write persists a session atomically and refreshes its index entry.
func (s *Store) write(session *Session) error {
	path := s.sessionPath(session.UserID, session.StoreName, session.ChatID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to create session directory", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to encode session", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to write session file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.New(errors.ErrCodePersistenceFailed, "failed to replace session file", err)
	}

	return s.updateIndex(session.UserID, func(index map[string]Meta) {
		index[indexKey(session.StoreName, session.ChatID)] = Meta{
			ChatID:         session.ChatID,
			StoreName:      session.StoreName,
			DisplayName:    session.DisplayName,
			TurnCount:      len(session.Turns),
			CreatedAt:      session.CreatedAt,
			LastActivityAt: session.LastActivityAt,
		}
	})
}

// readIndex loads the per-user index. A missing index is an empty one.
func (s *Store) readIndex(userID string) (map[string]Meta, error) {
	data, err := os.ReadFile(s.indexPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Meta{}, nil
		}
		return nil, errors.New(errors.ErrCodePersistenceFailed, "failed to read session index", err)
	}

	var index map[string]Meta
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, errors.New(errors.ErrCodePersistenceFailed, "failed to parse session index", err)
	}
	if index == nil {
		index = map[string]Meta{}
	}
	return index, nil
}

// updateIndex applies fn to the per-user index under the index lock and
// writes it back atomically.
func (s *Store) updateIndex(userID string, fn func(map[string]Meta)) error {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	index, err := s.readIndex(userID)
	if err != nil {
		return err
	}
	fn(index)

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to encode session index", err)
	}

	path := s.indexPath(userID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to create user directory", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to write session index", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.New(errors.ErrCodePersistenceFailed, "failed to replace session index", err)
	}
	return nil
}

func validateIDs(userID, storeName, chatID string) error {
	if !idRegex.MatchString(userID) {
		return errors.Newf(errors.ErrCodeInvalidName, "invalid user ID %q", userID)
	}
	if !idRegex.MatchString(storeName) {
		return errors.Newf(errors.ErrCodeInvalidName, "invalid store name %q", storeName)
	}
	if !idRegex.MatchString(chatID) {
		return errors.Newf(errors.ErrCodeInvalidName, "invalid chat ID %q", chatID)
	}
	return nil
}
