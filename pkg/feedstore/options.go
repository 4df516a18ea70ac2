//go:build !linux
// +build !linux

package feedstore

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

func getOptions() *bolt.Options {
	// MAP_POPULATE is linux only
	return &bolt.Options{Timeout: 5 * time.Second}
}
