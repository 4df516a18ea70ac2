package imagecache

import (
	"fmt"
	"image"
	"strings"
)

// Options selects which cache tiers a fetch may read from and populate
type Options int

const (
	// InMemory caches decoded images in the memory tier
	InMemory Options = 1 << iota
	// OnDisk caches raw image bytes in the disk tier
	OnDisk

	// DefaultOptions enables every tier
	DefaultOptions = InMemory | OnDisk
)

// Has reports whether every flag in o is set
func (opts Options) Has(o Options) bool { return opts&o == o }

func (opts Options) String() string {
	var parts []string
	if opts.Has(InMemory) {
		parts = append(parts, "memory")
	}
	if opts.Has(OnDisk) {
		parts = append(parts, "disk")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseOptions parses a comma separated list of "memory", "disk", "all" or "none"
func ParseOptions(s string) (Options, error) {
	var opts Options
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "memory":
			opts |= InMemory
		case "disk":
			opts |= OnDisk
		case "all":
			opts |= DefaultOptions
		case "none", "":
		default:
			return 0, fmt.Errorf("unknown cache option %q", part)
		}
	}
	return opts, nil
}

// Tier describes where a fetch was satisfied
type Tier int

const (
	// TierNone means no cache tier held the image, either because it was downloaded or because the fetch failed
	TierNone Tier = iota
	TierMemory
	TierDisk
)

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	default:
		return "none"
	}
}

// Result holds the decoded image of a fetch and the tier it came from. A nil Image means the fetch failed.
type Result struct {
	Image image.Image
	Tier  Tier
}

// OK reports whether the fetch produced an image
func (r Result) OK() bool { return r.Image != nil }
