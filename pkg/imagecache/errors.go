package imagecache

import "errors"

var (
	ErrUnsupportedScheme    = errors.New("unsupported url scheme")
	ErrKeyDerivation        = errors.New("cannot derive cache key")
	ErrDirectoryResolution  = errors.New("cannot resolve cache directory")
	ErrNetwork              = errors.New("network fetch failed")
	ErrDiskRead             = errors.New("disk cache read failed")
	ErrDiskWrite            = errors.New("disk cache write failed")
	ErrDecode               = errors.New("image decode failed")
	ErrEmptyDirectoryName   = errors.New("disk cache directory name cannot be empty")
	ErrInvalidDirectoryName = errors.New("disk cache directory name must be a single path element")
	ErrInvalidURL           = errors.New("invalid url")
)
