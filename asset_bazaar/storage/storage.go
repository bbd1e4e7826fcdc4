package storage

import (
	"errors"
	"io"
)

var ErrFileNotFound = errors.New("file not found")

type UsageStats struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// Storage holds uploaded asset files and icons. Paths are relative to the
// storage root and always use forward slashes.
type Storage interface {
	Read(path string) (io.ReadCloser, error)
	Write(path string, data io.Reader) (int64, error)
	Delete(path string) error
	Exists(path string) (bool, error)
	Usage() (UsageStats, error)
	Location() string
}

const (
	AssetDir = "assets"
	IconDir  = "icons"
)
