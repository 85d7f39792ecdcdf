package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/validation"
)

// WorkingFiles reads the working tree, skipping git metadata. Empty
// directories and empty keep files come back as folder markers.
func (r *Repo) WorkingFiles() (structure.FlatFileSet, error) {
	files := make(structure.FlatFileSet)
	err := filepath.WalkDir(r.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(r.path, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			entries, err := os.ReadDir(p)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				files[rel+"/"] = ""
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		addFile(files, rel, string(b))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read working tree: %w", err)
	}
	return files, nil
}

// WriteFiles replaces the working tree with files. Paths missing from
// files are removed; folder markers become empty keep files.
func (r *Repo) WriteFiles(files structure.FlatFileSet) error {
	for p := range files {
		if err := validation.ValidateFilePath(p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
	}

	entries, err := os.ReadDir(r.path)
	if err != nil {
		return fmt.Errorf("read working tree: %w", err)
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.path, e.Name())); err != nil {
			return fmt.Errorf("clear working tree: %w", err)
		}
	}

	for p, content := range files {
		target := p
		if strings.HasSuffix(p, "/") {
			target = p + keepFile
		}
		full := filepath.Join(r.path, filepath.FromSlash(target))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create folder for %s: %w", p, err)
		}
		if strings.HasSuffix(p, "/") {
			content = ""
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	return nil
}

// IsDirty reports whether the working tree has staged, unstaged or
// untracked changes.
func (r *Repo) IsDirty(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, nil, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}
