package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Dir is a vault backed by a directory on the local disk.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	return &Dir{root: abs}, nil
}

func (d *Dir) Root() string { return d.root }

func (d *Dir) osPath(p string) (string, string, error) {
	c, err := Clean(p)
	if err != nil {
		return "", "", err
	}
	return c, filepath.Join(d.root, filepath.FromSlash(c)), nil
}

func (d *Dir) CreateFile(ctx context.Context, p, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, full, err := d.osPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, p)
		}
		return err
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *Dir) ReadFile(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, full, err := d.osPath(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotExist, p)
		}
		return "", err
	}
	return string(data), nil
}

// ModifyFile replaces the contents of an existing file. The write goes
// through a temp file and a rename so readers never see a torn document.
func (d *Dir) ModifyFile(ctx context.Context, e Entry, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Kind != KindFile {
		return fmt.Errorf("%w: %s", ErrNotFile, e.Path)
	}
	_, full, err := d.osPath(e.Path)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(full), ".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", e.Path, err)
	}
	return nil
}

// ListChildren returns the entries of folder sorted by name. Dot files
// (editor config, temp files) are not part of the vault.
func (d *Dir) ListChildren(ctx context.Context, folder string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, full, err := d.osPath(folder)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, folder)
		}
		return nil, err
	}
	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		kind := KindFile
		if de.IsDir() {
			kind = KindFolder
		}
		entries = append(entries, Entry{Path: join(c, de.Name()), Name: de.Name(), Kind: kind})
	}
	return entries, nil
}

func (d *Dir) CreateFolder(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, full, err := d.osPath(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o755)
}

func (d *Dir) Resolve(ctx context.Context, p string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	c, full, err := d.osPath(p)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Path: c, Name: path.Base(c)}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return e, nil
		}
		return Entry{}, err
	}
	if info.IsDir() {
		e.Kind = KindFolder
	} else {
		e.Kind = KindFile
	}
	return e, nil
}

func join(folder, name string) string {
	if folder == "." {
		return name
	}
	return folder + "/" + name
}
