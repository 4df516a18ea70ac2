package recipecache

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/nacl/box"
)

// tokenKey decodes the base64 shared key used to seal image tokens
func tokenKey(encoded string) (*[32]byte, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("cannot decode key - %v", err)
	}
	if len(keyBytes) < 32 {
		return nil, fmt.Errorf("key is %d bytes, need 32", len(keyBytes))
	}

	var key [32]byte
	copy(key[:], keyBytes[:32])
	return &key, nil
}

// issueToken seals a token granting access to the image with the given cache key until expires
func issueToken(encodedKey string, imageKey string, expires time.Time) (string, error) {
	key, err := tokenKey(encodedKey)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(Token{Expires: expires.UTC().Format(time.RFC3339), Hash: imageKey})
	if err != nil {
		return "", err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}

	sealed := box.SealAfterPrecomputation(nonce[:], data, &nonce, key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// verifyToken checks that tokenString grants access to imageKey, returning the HTTP status to answer with otherwise
func verifyToken(encodedKey string, tokenString string, imageKey string) (int, error) {
	// Check if given token string is empty
	if tokenString == "" {
		return http.StatusForbidden, fmt.Errorf("token is empty")
	}

	// Decode base64-encoded token & key
	tokenBytes, err := base64.RawURLEncoding.DecodeString(tokenString)
	if err != nil {
		return http.StatusForbidden, fmt.Errorf("cannot decode token - %v", err)
	}
	if len(tokenBytes) <= 24 {
		return http.StatusForbidden, fmt.Errorf("token too short")
	}
	key, err := tokenKey(encodedKey)
	if err != nil {
		return http.StatusForbidden, err
	}

	// Copy over nonce for decryption
	var nonce [24]byte
	copy(nonce[:], tokenBytes[:24])

	// Decrypt token
	data, ok := box.OpenAfterPrecomputation(nil, tokenBytes[24:], &nonce, key)
	if !ok {
		return http.StatusForbidden, fmt.Errorf("failed to decrypt token")
	}

	// Unmarshal to struct
	token := Token{}
	if err := json.Unmarshal(data, &token); err != nil {
		return http.StatusForbidden, fmt.Errorf("failed to unmarshal token - %v", err)
	}

	// Parse expiry time
	expires, err := time.Parse(time.RFC3339, token.Expires)
	if err != nil {
		return http.StatusForbidden, fmt.Errorf("failed to parse expiry from token - %v", err)
	}

	// Check token expiry timing
	if time.Now().After(expires) {
		return http.StatusGone, fmt.Errorf("token expired")
	}

	// Check that image hashes are the same
	if token.Hash != imageKey {
		return http.StatusForbidden, fmt.Errorf("token hash invalid")
	}

	// Token is valid
	return 0, nil
}
