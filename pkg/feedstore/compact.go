package feedstore

import (
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"
)

// Compact rewrites the database into a fresh file to reclaim free pages. The previous file is kept with a .bak
// suffix. The store stays usable afterwards.
func (s *Store) Compact() error {
	tmpPath := s.path + ".tmp"
	os.Remove(tmpPath)

	// Prepare new database location
	newDB, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open new database location: %v", err)
	}

	// Copy every bucket into the new database
	if err := copyBuckets(newDB, s.database); err != nil {
		newDB.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to compact database: %v", err)
	}

	// Close new database
	if err := newDB.Close(); err != nil {
		return fmt.Errorf("failed to close new database: %v", err)
	}

	// Close old database
	if err := s.database.Close(); err != nil {
		return fmt.Errorf("failed to close old database: %v", err)
	}

	// Rename database files
	if err := os.Rename(s.path, s.path+".bak"); err != nil {
		return fmt.Errorf("failed to backup database: %v", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to restore new database: %v", err)
	}
	log.Infof("Database compacted, previous copy kept at %s.bak", s.path)

	// Reopen
	return s.open()
}

// copyBuckets copies the top level buckets of src into dst in a single transaction
func copyBuckets(dst, src *bolt.DB) error {
	return src.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return fmt.Errorf("could not create bucket %s: %v", name, err)
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})
}
