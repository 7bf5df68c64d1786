package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrProfileSyncFailed wraps every failure of a profile mirror.
var ErrProfileSyncFailed = errors.New("profile sync failed")

// DefaultExcludes keeps process locks and session-restore state out of the
// working copy. Patterns are matched against every trailing run of path
// components, so "*/Current Session" applies at any depth.
var DefaultExcludes = []string{
	"SingletonLock",
	"SingletonSocket",
	"SingletonCookie",
	"*/Sessions/*",
	"*/Current Session",
	"*/Current Tabs",
	"*/Last Session",
	"*/Last Tabs",
}

const defaultSyncWorkers = 8

// SyncStats counts what a mirror changed.
type SyncStats struct {
	Copied  int
	Linked  int
	Deleted int
	Skipped int
}

// Syncer mirrors one directory tree into another.
type Syncer struct {
	Excludes []string // Defaults to DefaultExcludes
	Workers  int      // Parallel file copies, defaults to 8
	Logger   *zap.Logger
}

// Sync mirrors src into dst with the default exclusions.
func Sync(ctx context.Context, src, dst string, logger *zap.Logger) error {
	_, err := Syncer{Logger: logger}.Sync(ctx, src, dst)
	return err
}

type matcher []glob.Glob

func compileExcludes(patterns []string) (matcher, error) {
	m := make(matcher, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("bad exclude pattern %q: %w", p, err)
		}
		m = append(m, g)
	}
	return m, nil
}

// excluded reports whether rel (slash separated) or any trailing run of its
// components matches a pattern.
func (m matcher) excluded(rel string) bool {
	parts := strings.Split(rel, "/")
	for i := range parts {
		suffix := strings.Join(parts[i:], "/")
		for _, g := range m {
			if g.Match(suffix) {
				return true
			}
		}
	}
	return false
}

// Sync makes dst an exact copy of src, minus excluded paths: missing files
// are added, changed ones (by size or whole-second mtime) rewritten through
// a temp file and rename, and entries absent from src deleted. Excluded
// entries in dst are left alone.
func (s Syncer) Sync(ctx context.Context, src, dst string) (SyncStats, error) {
	stats, err := s.sync(ctx, src, dst)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrProfileSyncFailed, err)
	}
	return stats, nil
}

func (s Syncer) sync(ctx context.Context, src, dst string) (SyncStats, error) {
	var stats SyncStats
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	patterns := s.Excludes
	if patterns == nil {
		patterns = DefaultExcludes
	}
	excl, err := compileExcludes(patterns)
	if err != nil {
		return stats, err
	}

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return stats, err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return stats, err
	}
	if srcAbs == dstAbs || strings.HasPrefix(dstAbs, srcAbs+string(filepath.Separator)) {
		return stats, fmt.Errorf("working directory %s is inside profile root %s", dstAbs, srcAbs)
	}

	info, err := os.Stat(srcAbs)
	if err != nil {
		return stats, err
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("%s is not a directory", srcAbs)
	}
	if err := os.MkdirAll(dstAbs, 0700); err != nil {
		return stats, err
	}

	workers := s.Workers
	if workers <= 0 {
		workers = defaultSyncWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var dirs []string
	var copied, linked, skipped int

	walkErr := filepath.WalkDir(srcAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcAbs, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		slashRel := filepath.ToSlash(rel)
		if excl.excluded(slashRel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dstAbs, rel)
		switch {
		case d.IsDir():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			if err := ensureDir(target, fi.Mode().Perm()); err != nil {
				return err
			}
			dirs = append(dirs, rel)
		case d.Type()&fs.ModeSymlink != 0:
			changed, err := syncSymlink(path, target)
			if err != nil {
				return err
			}
			if changed {
				linked++
			}
		case d.Type().IsRegular():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			if upToDate(fi, target) {
				return nil
			}
			copied++
			g.Go(func() error {
				return copyFile(path, target, fi)
			})
		default:
			skipped++
			logger.Debug("skipping special file", zap.String("path", slashRel))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		walkErr = err
	}
	stats.Copied, stats.Linked, stats.Skipped = copied, linked, skipped
	if walkErr != nil {
		return stats, walkErr
	}

	deleted, err := deleteExtraneous(ctx, srcAbs, dstAbs, excl)
	stats.Deleted = deleted
	if err != nil {
		return stats, err
	}

	// Deepest first so a parent's time is set after its children change.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, rel := range dirs {
		if fi, err := os.Stat(filepath.Join(srcAbs, rel)); err == nil {
			os.Chtimes(filepath.Join(dstAbs, rel), fi.ModTime(), fi.ModTime())
		}
	}

	logger.Debug("profile synced",
		zap.String("src", srcAbs),
		zap.String("dst", dstAbs),
		zap.Int("copied", stats.Copied),
		zap.Int("linked", stats.Linked),
		zap.Int("deleted", stats.Deleted),
	)
	return stats, nil
}

func ensureDir(target string, perm fs.FileMode) error {
	fi, err := os.Lstat(target)
	if err == nil && fi.IsDir() {
		return nil
	}
	if err == nil {
		if err := os.RemoveAll(target); err != nil {
			return err
		}
	}
	return os.MkdirAll(target, perm|0700)
}

func upToDate(src fs.FileInfo, target string) bool {
	dst, err := os.Lstat(target)
	if err != nil || !dst.Mode().IsRegular() {
		return false
	}
	return dst.Size() == src.Size() &&
		dst.ModTime().Truncate(time.Second).Equal(src.ModTime().Truncate(time.Second))
}

func copyFile(path, target string, fi fs.FileInfo) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	if existing, err := os.Lstat(target); err == nil && existing.IsDir() {
		if err := os.RemoveAll(target); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".sync-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copying %s: %w", path, err)
	}
	if err := tmp.Chmod(fi.Mode().Perm()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chtimes(tmp.Name(), fi.ModTime(), fi.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// syncSymlink recreates the link at target unless it already points at the
// same place.
func syncSymlink(path, target string) (bool, error) {
	dest, err := os.Readlink(path)
	if err != nil {
		return false, err
	}
	if existing, err := os.Readlink(target); err == nil && existing == dest {
		return false, nil
	}
	if err := os.RemoveAll(target); err != nil {
		return false, err
	}
	return true, os.Symlink(dest, target)
}

// deleteExtraneous removes dst entries that no longer exist in src.
func deleteExtraneous(ctx context.Context, srcAbs, dstAbs string, excl matcher) (int, error) {
	deleted := 0
	err := filepath.WalkDir(dstAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dstAbs, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excl.excluded(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if _, err := os.Lstat(filepath.Join(srcAbs, rel)); errors.Is(err, fs.ErrNotExist) {
			if err := os.RemoveAll(path); err != nil {
				return err
			}
			deleted++
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	return deleted, err
}
