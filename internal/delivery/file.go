package delivery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/tablesniff/table"
)

// File saves exports into a directory. Content is written to a temp file
// in the same directory and hard-linked into place; an existing file of
// the same name is kept and the new one gets a numbered suffix.
type File struct {
	dir string
}

// NewFile creates a File target. An empty dir means the working directory.
func NewFile(dir string) *File {
	if dir == "" {
		dir = "."
	}
	return &File{dir: dir}
}

func (f *File) Name() string { return "file" }

// Dir returns the destination directory.
func (f *File) Dir() string { return f.dir }

func (f *File) Deliver(_ context.Context, exp table.Export) error {
	name := filepath.Base(exp.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return fmt.Errorf("file: invalid filename %q", exp.Filename)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("file: mkdir %s: %w", f.dir, err)
	}

	tmp, err := os.CreateTemp(f.dir, ".tablesniff-*")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(exp.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("file: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("file: chmod: %w", err)
	}

	return f.link(tmp.Name(), name)
}

// link hard-links tmp to the first name in dir that does not exist yet:
// name, then name-1, name-2, ... before the extension. Link fails on an
// existing target, so concurrent deliveries never replace each other.
func (f *File) link(tmp, name string) error {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		p := filepath.Join(f.dir, candidate)
		err := os.Link(tmp, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("file: link %s: %w", p, err)
		}
	}
	return fmt.Errorf("file: no free name for %s in %s", name, f.dir)
}

func (f *File) Close() error { return nil }
