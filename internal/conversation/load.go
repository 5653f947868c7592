package conversation

import (
	"cmp"
	"context"
	"iter"
	"math"
	"path"
	"slices"
	"sort"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/rosa/internal/models"
	"github.com/RichardoC/rosa/internal/notes"
	"github.com/RichardoC/rosa/internal/vault"
)

// LoadReport describes one LoadAll pass. Skipped combines every folder or
// note that was left out; use multierr.Errors to inspect them one by one.
type LoadReport struct {
	Loaded  int
	Skipped error
}

func (r LoadReport) SkippedCount() int {
	return len(multierr.Errors(r.Skipped))
}

// LoadAll rebuilds conversations from every folder under the store root.
// A folder without a readable README carrying a conversation_id is skipped,
// as is any note that does not decode as a message. Skips never fail the
// call; only an unreadable root does. A conversation loaded from disk
// replaces the in-memory one with the same id, and when two folders share an
// id the one listed last wins.
func (s *Store) LoadAll(ctx context.Context) (LoadReport, error) {
	var report LoadReport

	rootPath := s.root
	if rootPath == "" {
		rootPath = "."
	}
	root, err := s.fs.Resolve(ctx, rootPath)
	if err != nil {
		return report, s.storageErr("resolve", rootPath, err)
	}
	if root.Kind != vault.KindFolder {
		s.logger.Info("no conversations folder", zap.String("path", rootPath))
		return report, nil
	}
	children, err := s.fs.ListChildren(ctx, root.Path)
	if err != nil {
		return report, s.storageErr("list", root.Path, err)
	}

	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if child.Kind != vault.KindFolder {
			continue
		}
		conv, err := s.loadFolder(ctx, child, &report)
		if err != nil {
			report.Skipped = multierr.Append(report.Skipped, err)
			s.metrics.Skipped("folder")
			s.logger.Debug("skipping folder", zap.String("path", child.Path), zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.conversations[conv.ID] = &entry{conv: conv}
		s.mu.Unlock()
		report.Loaded++
	}

	s.mu.RLock()
	total := len(s.conversations)
	s.mu.RUnlock()
	s.metrics.SetLoaded(total)
	s.logger.Info("loaded conversations",
		zap.Int("loaded", report.Loaded),
		zap.Int("skipped", report.SkippedCount()),
		zap.Int("total", total))
	return report, nil
}

func (s *Store) loadFolder(ctx context.Context, folder vault.Entry, report *LoadReport) (*models.Conversation, error) {
	readme := path.Join(folder.Path, notes.MetadataFile)
	e, err := s.fs.Resolve(ctx, readme)
	if err != nil {
		return nil, &StorageError{Op: "resolve", Path: readme, Err: err}
	}
	if e.Kind != vault.KindFile {
		return nil, &notes.ParseError{Name: readme, Reason: "no metadata document"}
	}
	text, err := s.fs.ReadFile(ctx, readme)
	if err != nil {
		return nil, &StorageError{Op: "read_file", Path: readme, Err: err}
	}
	md, err := notes.DecodeMetadata(folder.Name, text)
	if err != nil {
		return nil, err
	}

	children, err := s.fs.ListChildren(ctx, folder.Path)
	if err != nil {
		return nil, &StorageError{Op: "list", Path: folder.Path, Err: err}
	}

	// File names and timestamps both encode order; timestamps win. Name
	// prefixes grow past three digits, so ties fall back to their number.
	slices.SortStableFunc(children, func(a, b vault.Entry) int {
		return cmp.Compare(noteIndex(a.Name), noteIndex(b.Name))
	})
	msgs := slices.Collect(s.messages(ctx, children, report))
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	if msgs == nil {
		msgs = []models.Message{}
	}

	conv := &models.Conversation{
		ID:            md.ID,
		Title:         md.Title,
		Messages:      msgs,
		CreatedAt:     md.Created,
		UpdatedAt:     md.Updated,
		FolderPath:    folder.Path,
		ProviderID:    md.ProviderID,
		Model:         md.Model,
		PersonalityID: md.PersonalityID,
	}
	if n := len(msgs); n > 0 {
		if conv.CreatedAt.IsZero() {
			conv.CreatedAt = msgs[0].Timestamp
		}
		if last := msgs[n-1].Timestamp; conv.UpdatedAt.Before(last) {
			conv.UpdatedAt = last
		}
	}
	if conv.UpdatedAt.Before(conv.CreatedAt) {
		conv.UpdatedAt = conv.CreatedAt
	}
	return conv, nil
}

// messages yields the decodable message notes among entries. Notes that
// cannot be read or decoded are logged, recorded in report and dropped.
func (s *Store) messages(ctx context.Context, entries []vault.Entry, report *LoadReport) iter.Seq[models.Message] {
	return func(yield func(models.Message) bool) {
		for _, e := range entries {
			if e.Kind != vault.KindFile || e.Name == notes.MetadataFile {
				continue
			}
			msg, err := s.readMessage(ctx, e)
			if err != nil {
				report.Skipped = multierr.Append(report.Skipped, err)
				s.metrics.Skipped("message")
				s.logger.Error("skipping message note", zap.String("path", e.Path), zap.Error(err))
				continue
			}
			if !yield(msg) {
				return
			}
		}
	}
}

func (s *Store) readMessage(ctx context.Context, e vault.Entry) (models.Message, error) {
	text, err := s.fs.ReadFile(ctx, e.Path)
	if err != nil {
		return models.Message{}, &StorageError{Op: "read_file", Path: e.Path, Err: err}
	}
	return notes.DecodeMessage(e.Name, text)
}

// noteIndex is the numeric prefix of a message note name. Names without
// one sort last.
func noteIndex(name string) int {
	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(name[:end])
	if err != nil {
		return math.MaxInt
	}
	return n
}
