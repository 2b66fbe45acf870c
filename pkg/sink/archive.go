package sink

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrNoArchive is returned when the stream announces a payload but none
// follows.
var ErrNoArchive = errors.New("attached archive is empty")

var gzipMagic = []byte{0x1f, 0x8b}

// reserved names are written by the sink itself.
var reserved = map[string]bool{"log": true, "status": true}

// ArchiveStore creates archive members inside the run directory.
type ArchiveStore interface {
	CreateFile(rel string, mode os.FileMode) (*os.File, error)
	MkdirAll(rel string, mode os.FileMode) error
}

// Extract unpacks a tar payload, gzip-compressed or not, into store.
// Links and device nodes are skipped.
func Extract(r io.Reader, store ArchiveStore, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(gzipMagic))
	switch {
	case len(magic) == 0 && errors.Is(err, io.EOF):
		return ErrNoArchive
	case err != nil && !errors.Is(err, io.EOF):
		return fmt.Errorf("read archive: %w", err)
	}

	var source io.Reader = br
	if bytes.Equal(magic, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("open gzip payload: %w", err)
		}
		defer gz.Close()
		source = gz
	}

	tr := tar.NewReader(source)
	count := 0
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		name, err := memberName(header.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		if reserved[name] {
			logger.Warn("skipping archive member that would replace run output", "name", name)
			continue
		}
		mode := header.FileInfo().Mode().Perm()

		switch header.Typeflag {
		case tar.TypeDir:
			if err := store.MkdirAll(name, mode|0o700); err != nil {
				return fmt.Errorf("extract %s: %w", name, err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, store, name, mode); err != nil {
				return fmt.Errorf("extract %s: %w", name, err)
			}
		default:
			logger.Warn("skipping archive member", "name", name, "type", string(header.Typeflag))
			continue
		}
		count++
	}
	logger.Info("archive extracted", "members", count)
	return nil
}

func extractFile(r io.Reader, store ArchiveStore, name string, mode os.FileMode) error {
	file, err := store.CreateFile(name, mode)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(file, r)
	if closeErr := file.Close(); copyErr == nil {
		copyErr = closeErr
	}
	return copyErr
}

// memberName cleans an archive path. It returns "" for the archive root
// and an error for paths leaving it.
func memberName(name string) (string, error) {
	clean := path.Clean(strings.TrimLeft(name, "/"))
	switch {
	case clean == ".":
		return "", nil
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return "", fmt.Errorf("archive member %q escapes the run directory", name)
	}
	return clean, nil
}
