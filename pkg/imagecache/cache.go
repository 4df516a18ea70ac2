// Package imagecache loads remote images through an in-memory tier, an on-disk tier and finally the network.
package imagecache

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Config holds the collaborators and policies of an ImageCache
type Config struct {
	// Fetcher downloads image bytes, defaults to an HTTPFetcher over http.DefaultClient
	Fetcher Fetcher
	// Decoder turns bytes into images, defaults to ImageDecoder
	Decoder Decoder
	// CacheDir resolves the platform cache directory, defaults to os.UserCacheDir
	CacheDir CacheDirFunc
	// DirectoryName is the disk tier directory under CacheDir, defaults to DefaultDirectoryName
	DirectoryName string
	// Pressure clears the memory tier when it fires
	Pressure PressureSource

	// AtomicWrites writes disk entries through a temporary file and a rename
	AtomicWrites bool
	// RefetchCorrupt deletes an undecodable disk entry and downloads the image again instead of failing
	RefetchCorrupt bool
	// Deduplicate collapses concurrent downloads of the same key into one
	Deduplicate bool
}

// Stats counts how fetches were satisfied
type Stats struct {
	MemoryHits      int64
	DiskHits        int64
	Downloads       int64
	DownloadedBytes int64
	Failures        int64
}

// ImageCache resolves image URLs to decoded images. A single instance is meant to be shared by every consumer in
// the process.
type ImageCache struct {
	memory  *MemoryTier
	disk    *DiskTier
	fetcher Fetcher
	decoder Decoder

	refetchCorrupt bool
	deduplicate    bool
	group          singleflight.Group

	memoryHits      atomic.Int64
	diskHits        atomic.Int64
	downloads       atomic.Int64
	downloadedBytes atomic.Int64
	failures        atomic.Int64
}

// New returns an ImageCache built from config
func New(config Config) *ImageCache {
	if config.Fetcher == nil {
		config.Fetcher = &HTTPFetcher{}
	}
	if config.Decoder == nil {
		config.Decoder = ImageDecoder{}
	}

	return &ImageCache{
		memory:         NewMemoryTier(config.Pressure),
		disk:           NewDiskTier(config.CacheDir, config.DirectoryName, config.AtomicWrites),
		fetcher:        config.Fetcher,
		decoder:        config.Decoder,
		refetchCorrupt: config.RefetchCorrupt,
		deduplicate:    config.Deduplicate,
	}
}

// Fetch returns the image behind rawURL, reading and populating the tiers selected by options. It never fails
// loudly: any error is logged and reported as a Result without an image.
func (c *ImageCache) Fetch(ctx context.Context, rawURL string, options Options) Result {
	result, err := c.fetch(ctx, rawURL, options)
	if err != nil {
		c.failures.Add(1)
		log.WithFields(logrus.Fields{"event": "failed", "url": rawURL, "options": options.String(), "error": err}).Warnf("Failed to load image: %v", err)
		return Result{}
	}
	return result
}

func (c *ImageCache) fetch(ctx context.Context, rawURL string, options Options) (Result, error) {
	// Check the url scheme
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return Result{}, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
	}

	// Create the key used for both tiers
	absoluteURL := u.String()
	key, err := DeriveKey(absoluteURL)
	if err != nil {
		return Result{}, err
	}
	requestLogger := log.WithFields(logrus.Fields{"url": absoluteURL, "key": key})

	// Return a cached image from memory immediately
	if options.Has(InMemory) {
		if img, ok := c.memory.Get(key); ok {
			requestLogger.WithField("event", "hit").Debug("Cache hit in memory")
			c.memoryHits.Add(1)
			return Result{Image: img, Tier: TierMemory}, nil
		}
	}

	// Resolve the disk directory, creating it when disk caching is requested
	if _, err := c.disk.Directory(); err != nil {
		return Result{}, err
	}
	if options.Has(OnDisk) {
		if err := c.disk.EnsureDirectory(); err != nil {
			return Result{}, err
		}
	}

	// Return a cached image from disk
	if c.disk.Exists(key) {
		img, err := c.readDisk(key)
		if err == nil {
			requestLogger.WithField("event", "hit").Debug("Cache hit on disk")
			c.remember(key, img, options)
			c.diskHits.Add(1)
			return Result{Image: img, Tier: TierDisk}, nil
		}
		if !c.refetchCorrupt || !errors.Is(err, ErrDecode) {
			return Result{}, err
		}

		// Drop the corrupt entry and download again
		requestLogger.WithFields(logrus.Fields{"event": "corrupted", "error": err}).Warn("Cached image is corrupt, downloading again")
		if err := c.disk.Remove(key); err != nil {
			requestLogger.WithField("event", "corrupted").Debugf("Unable to remove corrupt entry: %v", err)
		}
	}

	// Download the image
	requestLogger.WithField("event", "miss").Debug("Downloading image")
	data, err := c.download(ctx, key, absoluteURL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	c.downloads.Add(1)
	c.downloadedBytes.Add(int64(len(data)))

	// Cache the raw bytes on disk, failures only cost the next fetch a download
	if options.Has(OnDisk) {
		if err := c.disk.Write(key, data); err != nil {
			requestLogger.WithFields(logrus.Fields{"event": "failed", "error": err}).Warnf("Failed to cache image on disk: %v", err)
		} else {
			requestLogger.WithField("event", "stored").Trace("Cached image on disk")
		}
	}

	img, err := c.decoder.Decode(data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	c.remember(key, img, options)

	return Result{Image: img, Tier: TierNone}, nil
}

// readDisk reads and decodes the disk entry for key
func (c *ImageCache) readDisk(key Key) (image.Image, error) {
	data, err := c.disk.Read(key)
	if err != nil {
		return nil, err
	}
	img, err := c.decoder.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: cached file for key %s: %v", ErrDecode, key, err)
	}
	return img, nil
}

// remember stores img in the memory tier when options allow it
func (c *ImageCache) remember(key Key, img image.Image, options Options) {
	if !options.Has(InMemory) {
		return
	}
	log.WithFields(logrus.Fields{"event": "stored", "key": key}).Trace("Cached image in memory")
	c.memory.Put(key, img)
}

// download fetches rawURL, sharing one in-flight download per key when deduplication is enabled. A shared download is
// detached from the caller's context so cancelling one caller never fails the others.
func (c *ImageCache) download(ctx context.Context, key Key, rawURL string) ([]byte, error) {
	if !c.deduplicate {
		return c.fetcher.Fetch(ctx, rawURL)
	}

	ch := c.group.DoChan(string(key), func() (interface{}, error) {
		return c.fetcher.Fetch(context.WithoutCancel(ctx), rawURL)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// ClearMemoryCache drops every image held in memory
func (c *ImageCache) ClearMemoryCache() {
	c.memory.Clear()
}

// ClearDiskCache deletes every cached file, returning how many were removed
func (c *ImageCache) ClearDiskCache() int {
	return c.disk.Clear()
}

// SetDiskDirectoryName changes the disk tier directory name. Empty names and names that are not a single path
// element are rejected and the current name kept.
func (c *ImageCache) SetDiskDirectoryName(name string) error {
	return c.disk.SetDirectoryName(name)
}

// DiskDirectoryName returns the disk tier directory name
func (c *ImageCache) DiskDirectoryName() string {
	return c.disk.DirectoryName()
}

// DiskDirectory returns the absolute disk tier directory
func (c *ImageCache) DiskDirectory() (string, error) {
	return c.disk.Directory()
}

// MemoryLen returns the number of images held in memory
func (c *ImageCache) MemoryLen() int {
	return c.memory.Len()
}

// Stats returns a snapshot of the fetch counters
func (c *ImageCache) Stats() Stats {
	return Stats{
		MemoryHits:      c.memoryHits.Load(),
		DiskHits:        c.diskHits.Load(),
		Downloads:       c.downloads.Load(),
		DownloadedBytes: c.downloadedBytes.Load(),
		Failures:        c.failures.Load(),
	}
}

// Close releases the memory pressure subscription
func (c *ImageCache) Close() {
	c.memory.Close()
}
