package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// cacheEntry holds HTTP validator metadata for one GET URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// diskCache stores response bodies keyed by a hash of the request URL.
// It only serves 304 revalidation; it never stands in for a failed request.
type diskCache struct {
	dir string
}

func (c *diskCache) pathFor(url string) (string, error) {
	if url == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(url))
	// First 16 hex chars are plenty for a per-household cache.
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])), nil
}

func (c *diskCache) load(url string) (cacheEntry, []byte, bool) {
	p, err := c.pathFor(url)
	if err != nil {
		return cacheEntry{}, nil, false
	}
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(p, "meta.json"))
	if err != nil {
		return cacheEntry{}, nil, false
	}
	if err := json.Unmarshal(data, &meta); err != nil || meta.URL != url {
		return cacheEntry{}, nil, false
	}
	body, err := os.ReadFile(filepath.Join(p, "body.json"))
	if err != nil {
		return cacheEntry{}, nil, false
	}
	return meta, body, true
}

func (c *diskCache) save(meta cacheEntry, body []byte) error {
	p, err := c.pathFor(meta.URL)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0o700); err != nil {
		return err
	}

	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(p, "body.json"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p, "meta.json"), data, 0o600)
}
