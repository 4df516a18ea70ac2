package imagecache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"
)

// DefaultDirectoryName is the name of the image directory created under the platform cache directory
const DefaultDirectoryName = "Images"

// CacheDirFunc resolves the platform cache directory
type CacheDirFunc func() (string, error)

// DiskTier stores raw image bytes as one file per key in a single flat directory
type DiskTier struct {
	resolve      CacheDirFunc
	name         *Guarded[string]
	atomicWrites bool
}

// NewDiskTier returns a DiskTier rooted at resolve()/name. An empty or invalid name falls back to
// DefaultDirectoryName.
func NewDiskTier(resolve CacheDirFunc, name string, atomicWrites bool) *DiskTier {
	if resolve == nil {
		resolve = os.UserCacheDir
	}
	if err := validateDirectoryName(name); err != nil {
		if name != "" {
			log.WithFields(logrus.Fields{"event": "config", "directory_name": name}).Warnf("Invalid disk cache directory name, using '%s': %v", DefaultDirectoryName, err)
		}
		name = DefaultDirectoryName
	}
	return &DiskTier{
		resolve:      resolve,
		name:         NewGuarded(name),
		atomicWrites: atomicWrites,
	}
}

// Directory returns the absolute path of the configured cache directory
func (d *DiskTier) Directory() (string, error) {
	base, err := d.resolve()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDirectoryResolution, err)
	}
	if base == "" {
		return "", fmt.Errorf("%w: platform cache directory is empty", ErrDirectoryResolution)
	}
	return filepath.Join(base, d.name.Get()), nil
}

// path returns the file path for key inside the configured directory
func (d *DiskTier) path(key Key) (string, error) {
	dir, err := d.Directory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, string(key)), nil
}

// Exists reports whether a regular file is cached for key. Any filesystem error counts as a miss.
func (d *DiskTier) Exists(key Key) bool {
	path, err := d.path(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// Read returns the cached bytes for key
func (d *DiskTier) Read(key Key) ([]byte, error) {
	path, err := d.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read image from '%s': %v", ErrDiskRead, path, err)
	}
	return data, nil
}

// EnsureDirectory creates the cache directory, including parents, if it is not reachable yet
func (d *DiskTier) EnsureDirectory() error {
	dir, err := d.Directory()
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("%w: failed to create cache directory '%s': %v", ErrDiskWrite, dir, err)
	}
	return nil
}

// Write stores data for key, creating the cache directory when needed
func (d *DiskTier) Write(key Key, data []byte) error {
	dir, err := d.Directory()
	if err != nil {
		return err
	}

	// Create cache directory if not exists
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("%w: failed to create cache directory '%s': %v", ErrDiskWrite, dir, err)
	}

	// Write image
	path := filepath.Join(dir, string(key))
	if d.atomicWrites {
		err = atomic.WriteFile(path, bytes.NewReader(data))
	} else {
		err = os.WriteFile(path, data, 0644)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to write image to '%s': %v", ErrDiskWrite, path, err)
	}
	return nil
}

// Remove deletes the cached file for key
func (d *DiskTier) Remove(key Key) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Clear deletes every entry in the cache directory one at a time, skipping entries that fail to delete. Only files
// and empty directories are removed. It returns the number of entries removed.
func (d *DiskTier) Clear() int {
	dir, err := d.Directory()
	if err != nil {
		log.WithField("event", "clear").Warnf("Unable to clear disk cache: %v", err)
		return 0
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.WithFields(logrus.Fields{"event": "clear", "directory": dir}).Debugf("Nothing to clear: %v", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			log.WithFields(logrus.Fields{"event": "clear", "entry": entry.Name()}).Debugf("Unable to delete cache entry: %v", err)
			continue
		}
		removed++
	}
	return removed
}

// DirectoryName returns the name of the cache directory under the platform cache directory
func (d *DiskTier) DirectoryName() string { return d.name.Get() }

// SetDirectoryName changes the cache directory name used by every subsequent operation. Empty names and names that
// are not a single path element are rejected and the previous name stays active.
func (d *DiskTier) SetDirectoryName(name string) error {
	if err := validateDirectoryName(name); err != nil {
		log.WithFields(logrus.Fields{"event": "config", "directory_name": d.name.Get(), "rejected": name}).Warnf("Cannot set disk cache directory name: %v", err)
		return err
	}

	var previous string
	d.name.Update(func(current string) string {
		previous = current
		return name
	})
	log.WithFields(logrus.Fields{"event": "config", "directory_name": name}).Debugf("Disk cache directory name changed from '%s'", previous)
	return nil
}

// validateDirectoryName accepts only a single, non-empty path element
func validateDirectoryName(name string) error {
	switch {
	case name == "":
		return ErrEmptyDirectoryName
	case name == "." || name == "..",
		strings.ContainsRune(name, '/'),
		strings.ContainsRune(name, filepath.Separator),
		filepath.Base(name) != name,
		filepath.VolumeName(name) != "":
		return fmt.Errorf("%w %q", ErrInvalidDirectoryName, name)
	}
	return nil
}
