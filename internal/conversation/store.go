// Package conversation keeps conversations in memory and mirrors each one to
// a folder of notes in the vault: a README.md holding the metadata and an
// index of links, plus one note per message.
package conversation

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RichardoC/rosa/internal/metrics"
	"github.com/RichardoC/rosa/internal/models"
	"github.com/RichardoC/rosa/internal/notes"
	"github.com/RichardoC/rosa/internal/vault"
)

type Store struct {
	fs      vault.FileSystem
	root    string
	logger  *zap.Logger
	enc     notes.Encoder
	metrics *metrics.Collector
	now     func() time.Time
	newID   func() string

	mu            sync.RWMutex
	conversations map[string]*entry
}

// entry serializes writers of a single conversation. Two appends racing on
// the same id would otherwise both rewrite README.md and one update would
// be lost.
type entry struct {
	mu   sync.Mutex
	conv *models.Conversation
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithLocation sets the zone used for the human-readable dates in notes.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.enc = notes.NewEncoder(loc) }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New returns a store whose conversation folders live under root.
func New(fs vault.FileSystem, root string, opts ...Option) *Store {
	s := &Store{
		fs:            fs,
		root:          root,
		logger:        zap.NewNop(),
		enc:           notes.NewEncoder(time.Local),
		now:           models.Now,
		newID:         uuid.NewString,
		conversations: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type StartOption func(*models.Conversation)

func WithProvider(providerID, model string) StartOption {
	return func(c *models.Conversation) {
		c.ProviderID = providerID
		c.Model = model
	}
}

func WithPersonality(personalityID string) StartOption {
	return func(c *models.Conversation) { c.PersonalityID = personalityID }
}

// Start creates a conversation, its folder and its README. An empty title
// is replaced by one derived from the current date.
func (s *Store) Start(ctx context.Context, title string, opts ...StartOption) (models.Conversation, error) {
	now := s.now()
	if title == "" {
		title = "Conversation " + s.enc.Date(now)
	}
	id := s.newID()
	folder := path.Join(s.root, id+"-"+notes.Sanitize(title))

	if _, err := vault.EnsureFolder(ctx, s.fs, folder); err != nil {
		return models.Conversation{}, s.storageErr("create_folder", folder, err)
	}

	conv := &models.Conversation{
		ID:         id,
		Title:      title,
		Messages:   []models.Message{},
		CreatedAt:  now,
		UpdatedAt:  now,
		FolderPath: folder,
	}
	for _, opt := range opts {
		opt(conv)
	}

	if err := s.writeMetadata(ctx, conv); err != nil {
		return models.Conversation{}, err
	}

	s.mu.Lock()
	s.conversations[id] = &entry{conv: conv}
	s.mu.Unlock()

	s.metrics.ConversationStarted()
	s.logger.Info("started conversation",
		zap.String("conversationID", id),
		zap.String("folder", folder))
	return conv.Clone(), nil
}

// AddMessage appends a message to a loaded conversation, writes its note and
// rewrites the README. The in-memory append is kept even when a write fails;
// the next LoadAll rebuilds the conversation from the message notes. On a
// *StorageError the returned message is the one held in memory.
func (s *Store) AddMessage(ctx context.Context, conversationID string, role models.Role, content string) (models.Message, error) {
	if !role.Valid() {
		return models.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.mu.RLock()
	e, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return models.Message{}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	conv := e.conv

	msg := models.Message{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	// Reload orders by timestamp, so it must never go backwards.
	if n := len(conv.Messages); n > 0 && msg.Timestamp.Before(conv.Messages[n-1].Timestamp) {
		msg.Timestamp = conv.Messages[n-1].Timestamp
	}
	index := len(conv.Messages)
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.Timestamp

	p := path.Join(conv.FolderPath, notes.MessageFileName(index, msg))
	if err := s.fs.CreateFile(ctx, p, s.enc.EncodeMessage(conv, msg)); err != nil {
		return msg, s.storageErr("create_file", p, err)
	}
	if err := s.writeMetadata(ctx, conv); err != nil {
		return msg, err
	}

	s.metrics.MessageAppended(string(role))
	s.logger.Debug("added message",
		zap.String("conversationID", conversationID),
		zap.String("messageID", msg.ID),
		zap.String("role", string(role)))
	return msg, nil
}

// Get returns a copy of the conversation with the given id.
func (s *Store) Get(id string) (models.Conversation, bool) {
	s.mu.RLock()
	e, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return models.Conversation{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Clone(), true
}

// All returns copies of every loaded conversation, most recently updated first.
func (s *Store) All() []models.Conversation {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.conversations))
	for _, e := range s.conversations {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]models.Conversation, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.conv.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) writeMetadata(ctx context.Context, conv *models.Conversation) error {
	p := path.Join(conv.FolderPath, notes.MetadataFile)
	text := s.enc.EncodeMetadata(conv)

	existing, err := s.fs.Resolve(ctx, p)
	if err != nil {
		return s.storageErr("resolve", p, err)
	}
	if existing.Kind == vault.KindFile {
		if err := s.fs.ModifyFile(ctx, existing, text); err != nil {
			return s.storageErr("modify_file", p, err)
		}
		return nil
	}
	if err := s.fs.CreateFile(ctx, p, text); err != nil {
		return s.storageErr("create_file", p, err)
	}
	return nil
}

func (s *Store) storageErr(op, p string, err error) error {
	s.metrics.StorageError(op)
	s.logger.Error("vault operation failed",
		zap.String("op", op),
		zap.String("path", p),
		zap.Error(err))
	return &StorageError{Op: op, Path: p, Err: err}
}
