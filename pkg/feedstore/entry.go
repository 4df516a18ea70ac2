package feedstore

import (
	"encoding/json"
	"time"
)

// Entry describes a stored feed snapshot
type Entry struct {
	Key       string
	Timestamp int64
	Size      int
}

// UpdateTimestamp allows for updating of an Entry timestamp field
func (e *Entry) UpdateTimestamp() { e.Timestamp = time.Now().Unix() }

// Time returns the timestamp as a time.Time
func (e Entry) Time() time.Time { return time.Unix(e.Timestamp, 0) }

// ToJSON marshals an Entry into a JSON byte slice
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON unmarshals an Entry from a JSON byte slice
func (e *Entry) FromJSON(data []byte) error {
	return json.Unmarshal(data, e)
}

// ByTimestamp is a sortable slice of Entry based off timestamp
type ByTimestamp []Entry

func (a ByTimestamp) Len() int           { return len(a) }
func (a ByTimestamp) Less(i, j int) bool { return a[i].Timestamp < a[j].Timestamp }
func (a ByTimestamp) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
