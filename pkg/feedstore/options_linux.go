package feedstore

import (
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"
)

func getOptions() *bolt.Options {
	return &bolt.Options{
		Timeout:   5 * time.Second,
		MmapFlags: syscall.MAP_POPULATE,
	}
}
