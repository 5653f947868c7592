// Package db keeps a SQLite full-text index of conversation messages. The
// vault notes remain the record; the index can always be rebuilt from them.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/RichardoC/rosa/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    folder_path TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id TEXT NOT NULL UNIQUE,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TEXT NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts4(
    content,
    conversation_id,
    tokenize=porter
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(docid, content, conversation_id)
    VALUES (new.id, new.content, new.conversation_id);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    DELETE FROM messages_fts WHERE docid = old.id;
END;`

// ErrInvalidQuery is returned by Search for queries FTS cannot parse.
var ErrInvalidQuery = errors.New("invalid search query")

type Database struct {
	db *sql.DB
}

type SearchResult struct {
	ConversationID    string      `json:"conversation_id"`
	ConversationTitle string      `json:"conversation_title"`
	FolderPath        string      `json:"folder_path"`
	MessageID         string      `json:"message_id"`
	Role              models.Role `json:"role"`
	Content           string      `json:"content"`
	Snippet           string      `json:"snippet"`
	Timestamp         time.Time   `json:"timestamp"`
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// IndexMessage records msg under conv. Indexing the same message twice is a
// no-op.
func (d *Database) IndexMessage(ctx context.Context, conv models.Conversation, msg models.Message) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertConversation(ctx, tx, conv); err != nil {
		return err
	}
	if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
		return err
	}
	return tx.Commit()
}

// Rebuild replaces the whole index with convs.
func (d *Database) Rebuild(ctx context.Context, convs []models.Conversation) error {
	if len(convs) == 0 {
		return d.DeleteAll(ctx)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := clearIndex(ctx, tx); err != nil {
		return err
	}
	for _, conv := range convs {
		if err := upsertConversation(ctx, tx, conv); err != nil {
			return err
		}
		for _, msg := range conv.Messages {
			if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// DeleteAll empties the index.
func (d *Database) DeleteAll(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := clearIndex(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func clearIndex(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations"); err != nil {
		return fmt.Errorf("failed to clear conversations: %w", err)
	}
	return nil
}

func upsertConversation(ctx context.Context, tx *sql.Tx, conv models.Conversation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, folder_path, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			folder_path = excluded.folder_path,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Title, conv.FolderPath, formatTime(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to index conversation %s: %w", conv.ID, err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, msg models.Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (message_id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, conversationID, string(msg.Role), msg.Content, formatTime(msg.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to index message %s: %w", msg.ID, err)
	}
	return nil
}

// Search runs an FTS4 MATCH query, newest messages first.
func (d *Database) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.folder_path, m.message_id, m.role, m.content, m.created_at,
		       snippet(messages_fts, '**', '**', '...', 0, 12)
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.docid
		JOIN conversations c ON c.id = m.conversation_id
		WHERE messages_fts.content MATCH ?
		ORDER BY m.created_at DESC
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", matchErr(err))
	}
	defer rows.Close()

	results := make([]SearchResult, 0)
	for rows.Next() {
		var (
			r       SearchResult
			role    string
			created string
		)
		if err := rows.Scan(&r.ConversationID, &r.ConversationTitle, &r.FolderPath,
			&r.MessageID, &role, &r.Content, &created, &r.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Role = models.Role(role)
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("bad timestamp for message %s: %w", r.MessageID, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", matchErr(err))
	}
	return results, nil
}

// matchErr marks query syntax errors reported by FTS with ErrInvalidQuery.
func matchErr(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrError && strings.Contains(serr.Error(), "malformed MATCH expression") {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return err
}

// Fixed width so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
