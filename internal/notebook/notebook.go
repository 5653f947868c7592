// Package notebook creates ordinary vault notes from templates kept in the
// vault's templates folder.
package notebook

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RichardoC/rosa/internal/models"
	"github.com/RichardoC/rosa/internal/notes"
	"github.com/RichardoC/rosa/internal/vault"
)

var ErrTemplateNotFound = errors.New("template not found")

type Template struct {
	Name      string   `json:"name"`
	Content   string   `json:"content"`
	Variables []string `json:"variables"`
}

type Notebook struct {
	fs            vault.FileSystem
	templates     string
	useTimestamps bool
	enc           notes.Encoder
	now           func() time.Time
	logger        *zap.Logger
}

type Option func(*Notebook)

// WithTimestamps turns timestamped file names on or off. They are on by
// default.
func WithTimestamps(enabled bool) Option {
	return func(n *Notebook) { n.useTimestamps = enabled }
}

func New(fs vault.FileSystem, templatesFolder string, loc *time.Location, logger *zap.Logger, opts ...Option) *Notebook {
	n := &Notebook{
		fs:            fs,
		templates:     templatesFolder,
		useTimestamps: true,
		enc:           notes.NewEncoder(loc),
		now:           models.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notebook) LoadTemplate(ctx context.Context, name string) (Template, error) {
	p := path.Join(n.templates, name+".md")
	e, err := n.fs.Resolve(ctx, p)
	if err != nil {
		return Template{}, err
	}
	if e.Kind != vault.KindFile {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	content, err := n.fs.ReadFile(ctx, p)
	if err != nil {
		return Template{}, err
	}
	return Template{Name: name, Content: content, Variables: notes.TemplateVariables(content)}, nil
}

// CreateFromTemplate renders a template into folder/fileName.md, creating
// the folder when needed.
func (n *Notebook) CreateFromTemplate(ctx context.Context, templateName, fileName, folder string, vars map[string]string) (vault.Entry, error) {
	tmpl, err := n.LoadTemplate(ctx, templateName)
	if err != nil {
		return vault.Entry{}, err
	}
	if _, err := vault.EnsureFolder(ctx, n.fs, folder); err != nil {
		return vault.Entry{}, fmt.Errorf("failed to prepare folder %s: %w", folder, err)
	}

	p := path.Join(folder, notes.Sanitize(strings.TrimSuffix(fileName, ".md"))+".md")
	if err := n.fs.CreateFile(ctx, p, n.enc.RenderTemplate(tmpl.Content, vars, n.now())); err != nil {
		return vault.Entry{}, fmt.Errorf("failed to create note %s: %w", p, err)
	}
	n.logger.Info("created note from template",
		zap.String("template", templateName),
		zap.String("path", p))
	return n.fs.Resolve(ctx, p)
}

// FileName prefixes base with a file-name-safe timestamp when useTimestamp
// is set and timestamps are enabled for the notebook.
func (n *Notebook) FileName(base string, useTimestamp bool) string {
	if !useTimestamp || !n.useTimestamps {
		return base
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(notes.FormatInstant(n.now())[:19])
	return stamp + "-" + base
}

// Format rewrites the note at p with notes.FormatMarkdown. The note is only
// written when formatting changed it.
func (n *Notebook) Format(ctx context.Context, p string) (bool, error) {
	e, err := n.fs.Resolve(ctx, p)
	if err != nil {
		return false, err
	}
	if e.Kind != vault.KindFile {
		return false, fmt.Errorf("%w: %s", vault.ErrNotExist, p)
	}
	text, err := n.fs.ReadFile(ctx, e.Path)
	if err != nil {
		return false, err
	}
	formatted := notes.FormatMarkdown(text)
	if formatted == text {
		return false, nil
	}
	if err := n.fs.ModifyFile(ctx, e, formatted); err != nil {
		return false, fmt.Errorf("failed to format note %s: %w", p, err)
	}
	n.logger.Debug("formatted note", zap.String("path", e.Path))
	return true, nil
}
