// Package rundir creates the per-run log directory.
//
// A run directory is built under a temporary name and renamed into place,
// so concurrent sinks started with the same identifier never share a
// half-initialized directory. When the target already exists, the existing
// directory is moved into the new one as backup-N and the rename retried.
// Files are created relative to an open directory handle, so a run keeps
// writing into its own directory even if another sink moves it aside.
package rundir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/modoterra/logsink/pkg/core"
)

// markerName is written into the temporary directory so it is never empty;
// rename(2) would silently replace an empty target with an empty source.
const markerName = ".sink"

const maxAttempts = 10

// Dir is an open run directory.
type Dir struct {
	path   string
	handle *os.File
}

// Create atomically creates (or takes over) base/identifier.
func Create(base, identifier string) (*Dir, error) {
	if err := core.ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create log root: %w", err)
	}

	tmp, err := os.MkdirTemp(base, ".tmp-"+identifier+"-")
	if err != nil {
		return nil, fmt.Errorf("create temporary run directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, markerName), nil, 0o644); err != nil {
		os.RemoveAll(tmp)
		return nil, fmt.Errorf("mark run directory: %w", err)
	}

	// Open before renaming: the handle stays valid wherever the directory ends up.
	handle, err := os.Open(tmp)
	if err != nil {
		os.RemoveAll(tmp)
		return nil, fmt.Errorf("open run directory: %w", err)
	}

	target := filepath.Join(base, identifier)
	for attempt := 1; ; attempt++ {
		err := os.Rename(tmp, target)
		if err == nil {
			break
		}
		if !targetExists(err) || attempt == maxAttempts {
			handle.Close()
			os.RemoveAll(tmp)
			return nil, fmt.Errorf("rename run directory into place: %w", err)
		}
		backup := filepath.Join(tmp, fmt.Sprintf("backup-%d", attempt))
		if err := os.Rename(target, backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
			handle.Close()
			os.RemoveAll(tmp)
			return nil, fmt.Errorf("move existing run directory aside: %w", err)
		}
	}

	if err := handle.Chmod(0o755); err != nil {
		handle.Close()
		return nil, fmt.Errorf("chmod run directory: %w", err)
	}
	return &Dir{path: target, handle: handle}, nil
}

// Path returns the path the directory was created at.
func (d *Dir) Path() string {
	return d.path
}

// Enter changes the process working directory to the run directory.
func (d *Dir) Enter() error {
	if err := unix.Fchdir(int(d.handle.Fd())); err != nil {
		return fmt.Errorf("enter run directory: %w", err)
	}
	return nil
}

// Close releases the directory handle.
func (d *Dir) Close() error {
	return d.handle.Close()
}

// Create creates or truncates a file directly inside the run directory.
func (d *Dir) Create(name string) (*os.File, error) {
	if name == "" || strings.ContainsRune(name, '/') || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid file name %q", name)
	}
	return d.CreateFile(name, 0o644)
}

// WriteFile writes data to a file directly inside the run directory.
func (d *Dir) WriteFile(name string, data []byte) error {
	f, err := d.Create(name)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return f.Close()
}

// CreateFile creates or truncates the file at the slash-separated relative
// path rel, creating parent directories. Symlinks are never followed.
func (d *Dir) CreateFile(rel string, mode os.FileMode) (*os.File, error) {
	parent, base, err := d.openParent(rel)
	if err != nil {
		return nil, err
	}
	defer d.closeFD(parent)

	fd, err := unix.Openat(parent, base, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC|unix.O_NOFOLLOW|unix.O_CLOEXEC, uint32(mode.Perm()))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", rel, err)
	}
	return os.NewFile(uintptr(fd), filepath.Join(d.path, filepath.FromSlash(rel))), nil
}

// MkdirAll creates the relative directory rel and its parents.
func (d *Dir) MkdirAll(rel string, mode os.FileMode) error {
	parent, base, err := d.openParent(rel)
	if err != nil {
		return err
	}
	defer d.closeFD(parent)

	if err := unix.Mkdirat(parent, base, uint32(mode.Perm())); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("mkdir %s: %w", rel, err)
	}
	return nil
}

// openParent walks the directories leading to rel, creating missing ones,
// and returns a descriptor for the last one plus the final path element.
// The returned descriptor must be released with closeFD.
func (d *Dir) openParent(rel string) (int, string, error) {
	clean := path.Clean(rel)
	if rel == "" || path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return -1, "", fmt.Errorf("path %q escapes the run directory", rel)
	}

	elems := strings.Split(clean, "/")
	fd := int(d.handle.Fd())
	for _, elem := range elems[:len(elems)-1] {
		if err := unix.Mkdirat(fd, elem, 0o755); err != nil && !errors.Is(err, unix.EEXIST) {
			d.closeFD(fd)
			return -1, "", fmt.Errorf("mkdir %s: %w", rel, err)
		}
		next, err := unix.Openat(fd, elem, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
		d.closeFD(fd)
		if err != nil {
			return -1, "", fmt.Errorf("open %s: %w", rel, err)
		}
		fd = next
	}
	return fd, elems[len(elems)-1], nil
}

func (d *Dir) closeFD(fd int) {
	if fd >= 0 && fd != int(d.handle.Fd()) {
		unix.Close(fd)
	}
}

func targetExists(err error) bool {
	return errors.Is(err, unix.EEXIST) || errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.ENOTDIR)
}
