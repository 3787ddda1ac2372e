// Package attachcache is a content-addressed local store for issue
// attachments. Content is fetched lazily, hashed on the way down, and
// deduplicated: identical bytes are stored exactly once no matter how many
// issues or attachment ids point at them.
package attachcache

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jirascope/jirascope/internal/types"
)

// Downloader fetches one attachment's content from the tracker.
type Downloader interface {
	DownloadAttachment(ctx context.Context, attachmentID string) (io.ReadCloser, error)
}

// Entry describes one cached attachment. Entries are immutable once written.
type Entry struct {
	Hash         string
	IssueKey     string
	AttachmentID string
	Path         string
	Size         int64
}

// Cache is a content-addressed attachment store on local disk.
type Cache struct {
	dir        string
	downloader Downloader

	group singleflight.Group

	mu     sync.Mutex
	byHash map[string]*Entry
}

// New creates a cache rooted at dir, recovering entries stored by earlier
// runs. Recovered entries carry only hash, path, and size.
func New(dir string, downloader Downloader) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{
		dir:        dir,
		downloader: downloader,
		byHash:     make(map[string]*Entry),
	}

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan cache dir: %w", err)
	}
	for _, d := range dirents {
		name := d.Name()
		// Content files are named by their sha256 hex digest; anything
		// else is a leftover temp file.
		if d.IsDir() || len(name) != 64 {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		c.byHash[name] = &Entry{
			Hash: name,
			Path: filepath.Join(dir, name),
			Size: info.Size(),
		}
	}
	return c, nil
}

// Fetch returns a handle for the attachment, downloading on miss. Concurrent
// fetches of the same attachment id share one download; concurrent downloads
// of distinct ids with identical content race on the hash write, and the
// loser discards its copy and adopts the winner's entry. A failed download
// leaves no cache state behind, so a retry is an independent attempt.
func (c *Cache) Fetch(ctx context.Context, issueKey, attachmentID string) (*Entry, error) {
	v, err, _ := c.group.Do(issueKey+"/"+attachmentID, func() (any, error) {
		return c.fetch(ctx, issueKey, attachmentID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// Has reports whether content with the given hash is already stored.
func (c *Cache) Has(contentHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byHash[contentHash]
	return ok
}

// Entries returns a snapshot of all cached entries.
func (c *Cache) Entries() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]*Entry, 0, len(c.byHash))
	for _, e := range c.byHash {
		entries = append(entries, e)
	}
	return entries
}

func (c *Cache) fetch(ctx context.Context, issueKey, attachmentID string) (*Entry, error) {
	body, err := c.downloader.DownloadAttachment(ctx, attachmentID)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment %s/%s: %w", issueKey, attachmentID, err)
	}
	defer func() { _ = body.Close() }()

	// Stream to a temp file, hashing as we go. The content hash is only
	// known once the transfer completes.
	tmp, err := os.CreateTemp(c.dir, "download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	removeTmp := true
	defer func() {
		_ = tmp.Close()
		if removeTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), body)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment %s/%s: %w", issueKey, attachmentID, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("flush temp file: %w", err)
	}

	hash := fmt.Sprintf("%x", h.Sum(nil))

	entry, err := c.commit(hash, issueKey, attachmentID, tmpPath, size)
	if err != nil {
		if errors.Is(err, types.ErrCacheConflict) {
			// Another download won the hash; its entry is just as good.
			c.mu.Lock()
			existing := c.byHash[hash]
			c.mu.Unlock()
			return existing, nil
		}
		return nil, err
	}
	removeTmp = false
	return entry, nil
}

// commit moves the downloaded temp file into its content-addressed location
// and registers the entry. The per-hash critical section lives here: exactly
// one concurrent download of identical content can win.
func (c *Cache) commit(hash, issueKey, attachmentID, tmpPath string, size int64) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byHash[hash]; exists {
		return nil, types.ErrCacheConflict
	}

	finalPath := filepath.Join(c.dir, hash)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("store attachment content: %w", err)
	}

	entry := &Entry{
		Hash:         hash,
		IssueKey:     issueKey,
		AttachmentID: attachmentID,
		Path:         finalPath,
		Size:         size,
	}
	c.byHash[hash] = entry
	return entry, nil
}
