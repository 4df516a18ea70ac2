package imagecache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// Key is the 40 character lowercase hexadecimal SHA-1 digest of an image URL. It is used both as the memory tier
// map key and as the file name in the disk tier.
type Key string

// DeriveKey hashes the absolute string of a URL into a Key
func DeriveKey(absoluteURL string) (Key, error) {
	// Refuse anything that has no UTF-8 byte representation
	if len(absoluteURL) == 0 {
		return "", fmt.Errorf("%w: empty url", ErrKeyDerivation)
	}
	if !utf8.ValidString(absoluteURL) {
		return "", fmt.Errorf("%w: url is not valid utf-8", ErrKeyDerivation)
	}

	// Hash and encode
	sum := sha1.Sum([]byte(absoluteURL))
	return Key(hex.EncodeToString(sum[:])), nil
}

func (k Key) String() string { return string(k) }
