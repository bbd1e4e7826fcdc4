package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

var ErrInvalidPath = errors.New("invalid storage path")

type SharedDiskStorage struct {
	basepath string
}

func NewSharedDisk(basepath string) Storage {
	slog.Info("creating new shared disk storage", "basepath", basepath)
	return &SharedDiskStorage{basepath: basepath}
}

// fullpath resolves path under the storage root, refusing anything that
// would escape it.
func (s *SharedDiskStorage) fullpath(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))
	if path == "" || filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, path)
	}
	return filepath.Join(s.basepath, cleaned), nil
}

func (s *SharedDiskStorage) Read(path string) (io.ReadCloser, error) {
	fullpath, err := s.fullpath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullpath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrFileNotFound, path)
		}
		slog.Error("error opening file for read", "path", fullpath, "error", err)
		return nil, fmt.Errorf("error reading file %v: %v", path, err)
	}

	return file, nil
}

// Write stores the data under path and returns the number of bytes written.
// The data is staged in a temporary file first so readers never observe a
// partially written file.
func (s *SharedDiskStorage) Write(path string, data io.Reader) (int64, error) {
	fullpath, err := s.fullpath(path)
	if err != nil {
		return 0, err
	}

	err = os.MkdirAll(filepath.Dir(fullpath), 0777)
	if err != nil {
		slog.Error("error creating parent directory", "path", fullpath, "error", err)
		return 0, fmt.Errorf("error creating parent directory %v: %v", path, err)
	}

	tmppath := filepath.Join(filepath.Dir(fullpath), ".tmp-"+uuid.NewString())
	file, err := os.OpenFile(tmppath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		slog.Error("error opening file for writing", "path", tmppath, "error", err)
		return 0, fmt.Errorf("error opening file %v: %v", path, err)
	}
	defer os.Remove(tmppath)

	n, err := io.Copy(file, data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		slog.Error("error writing to file", "path", tmppath, "error", err)
		return 0, fmt.Errorf("error writing to file %v: %v", path, err)
	}

	if err := os.Rename(tmppath, fullpath); err != nil {
		slog.Error("error moving file into place", "path", fullpath, "error", err)
		return 0, fmt.Errorf("error writing to file %v: %v", path, err)
	}

	return n, nil
}

func (s *SharedDiskStorage) Delete(path string) error {
	fullpath, err := s.fullpath(path)
	if err != nil {
		return err
	}

	err = os.RemoveAll(fullpath)
	if err != nil {
		slog.Error("error deleting file", "path", fullpath, "error", err)
		return fmt.Errorf("error deleting file %v: %v", path, err)
	}
	return nil
}

func (s *SharedDiskStorage) Exists(path string) (bool, error) {
	fullpath, err := s.fullpath(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(fullpath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	slog.Error("error checking if file exists", "path", fullpath, "error", err)
	return false, fmt.Errorf("error checking if file %v exists: %w", fullpath, err)
}

func (s *SharedDiskStorage) Usage() (UsageStats, error) {
	var stat unix.Statfs_t

	err := unix.Statfs(s.basepath, &stat)
	if err != nil {
		slog.Error("error getting disk usage for shared storage", "path", s.basepath, "error", err)
		return UsageStats{}, fmt.Errorf("error getting disk usage stats: %w", err)
	}

	return UsageStats{
		TotalBytes: stat.Blocks * uint64(stat.Bsize),
		FreeBytes:  stat.Bavail * uint64(stat.Bsize),
	}, nil
}

func (s *SharedDiskStorage) Location() string {
	return s.basepath
}
