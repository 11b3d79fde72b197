package panel

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalFS is the local filesystem backend of a panel
type LocalFS interface {
	ReadDir(dir string) ([]Entry, error)
	Remove(p string, isDir bool) error
	Rename(oldPath, newPath string) error
	Mkdir(p string) error
	CreateFile(p string) error
	// Copy copies src, recursively for directories, into dstDir
	Copy(ctx context.Context, src, dstDir string) error
	DiskUsage(p string) (total, free uint64, err error)
}

// OSFS implements LocalFS on the os package
type OSFS struct{}

// ReadDir lists dir. Entries that vanish while listing are skipped.
func (OSFS) ReadDir(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		e := fromFileInfo(info)
		if e.IsSymlink {
			// show links to directories as directories
			if target, err := os.Stat(filepath.Join(dir, de.Name())); err == nil && target.IsDir() {
				e.IsDir = true
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Remove deletes a file or a whole directory tree
func (OSFS) Remove(p string, isDir bool) error {
	if isDir {
		if _, err := os.Lstat(p); err != nil {
			return err
		}
		return os.RemoveAll(p)
	}
	return os.Remove(p)
}

func (OSFS) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (OSFS) Mkdir(p string) error {
	return os.Mkdir(p, 0755)
}

// CreateFile creates an empty file and fails if it already exists
func (OSFS) CreateFile(p string) error {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Copy copies src into dstDir keeping modification times and permissions
func (OSFS) Copy(ctx context.Context, src, dstDir string) error {
	src = filepath.Clean(src)
	target := filepath.Join(dstDir, filepath.Base(src))
	if target == src {
		return fmt.Errorf("copy %s: source and destination are the same", src)
	}

	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(target, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(dst, info.Mode().Perm()|0700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, dst)
		case info.Mode().IsRegular():
			return copyFile(p, dst, info)
		default:
			// sockets, devices and pipes are not copied
			return nil
		}
	})
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if written != info.Size() {
		return fmt.Errorf("incomplete write: expected %d bytes, wrote %d", info.Size(), written)
	}

	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("failed to set modification time: %w", err)
	}
	return nil
}

// DiskUsage reports the size and free space of the filesystem holding p
func (OSFS) DiskUsage(p string) (uint64, uint64, error) {
	return diskUsage(p)
}
