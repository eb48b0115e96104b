// Package storage uploads reel media to durable object storage.
package storage

import (
	"fmt"
	"path"
	"strings"
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".json": "application/json",
}

func contentTypeFor(key string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// cleanKey rejects keys that would escape the bucket or root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("storage: empty key")
	}
	if k != strings.TrimPrefix(strings.TrimSpace(key), "/") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return k, nil
}
