// Package vault is the file-system boundary of a note vault. Paths are
// vault-relative and slash separated ("Conversations/abc-Planning/README.md").
package vault

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

type Kind int

const (
	KindNone Kind = iota
	KindFile
	KindFolder
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	default:
		return "none"
	}
}

// Entry is a resolved vault path.
type Entry struct {
	Path string
	Name string
	Kind Kind
}

var (
	ErrExists      = errors.New("vault: entry already exists")
	ErrNotExist    = errors.New("vault: entry does not exist")
	ErrNotFile     = errors.New("vault: entry is not a file")
	ErrOutsideRoot = errors.New("vault: path escapes vault root")
)

type FileSystem interface {
	CreateFile(ctx context.Context, p, text string) error
	ReadFile(ctx context.Context, p string) (string, error)
	ModifyFile(ctx context.Context, e Entry, text string) error
	ListChildren(ctx context.Context, folder string) ([]Entry, error)
	CreateFolder(ctx context.Context, p string) error
	Resolve(ctx context.Context, p string) (Entry, error)
}

// Clean normalizes p and rejects paths that leave the vault.
func Clean(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
		}
	}
	c := strings.TrimPrefix(path.Clean("/"+p), "/")
	if c == "" {
		c = "."
	}
	return c, nil
}

// EnsureFolder returns the folder at p, creating it when nothing exists there.
func EnsureFolder(ctx context.Context, fs FileSystem, p string) (Entry, error) {
	e, err := fs.Resolve(ctx, p)
	if err != nil {
		return Entry{}, err
	}
	switch e.Kind {
	case KindFolder:
		return e, nil
	case KindFile:
		return Entry{}, fmt.Errorf("%w: %s is a file", ErrExists, p)
	}
	if err := fs.CreateFolder(ctx, p); err != nil {
		return Entry{}, err
	}
	return fs.Resolve(ctx, p)
}
