package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// CacheDigest returns the lowercase hex MD5 of the given key material.
// Used only as a content address for cache files, not for integrity.
func CacheDigest(keyMaterial string) string {
	sum := md5.Sum([]byte(keyMaterial))
	return hex.EncodeToString(sum[:])
}
