// Package discovery reads the community nodes.json feed and keeps node
// names and addresses in the registry up to date.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-http-utils/headers"

	"github.com/doridoridoriand/keepitup/internal/log"
)

// ErrMalformed marks a feed entry or document that lacks required fields.
var ErrMalformed = errors.New("malformed nodes document")

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "keepitup-discovery"
)

// Entry is one node announced by the feed.
type Entry struct {
	ID      string
	Name    string
	Address string
}

type document struct {
	Nodes *[]struct {
		NodeInfo *struct {
			Hostname *string `json:"hostname"`
			NodeID   *string `json:"node_id"`
			Network  *struct {
				Addresses []string `json:"addresses"`
			} `json:"network"`
		} `json:"nodeinfo"`
	} `json:"nodes"`
}

// Feed caches the last good copy of the nodes document.
type Feed struct {
	url    string
	client *http.Client
	logger *log.Logger

	mu      sync.RWMutex
	entries map[string]Entry
	etag    string
}

// NewFeed returns a feed for url. A nil client uses a default client with
// timeout.
func NewFeed(url string, client *http.Client, timeout time.Duration, logger *log.Logger) *Feed {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Feed{
		url:     url,
		client:  client,
		logger:  logger,
		entries: map[string]Entry{},
	}
}

// Update downloads the document. On any error the previous cache is kept.
// It returns the number of entries skipped as malformed.
func (f *Feed) Update(ctx context.Context) (skipped int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set(headers.Accept, "application/json")
	req.Header.Set(headers.UserAgent, userAgent)
	f.mu.RLock()
	if f.etag != "" {
		req.Header.Set(headers.IfNoneMatch, f.etag)
	}
	f.mu.RUnlock()

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", f.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: unexpected status %s", f.url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", f.url, err)
	}
	entries, skipped, err := parse(body)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.entries = entries
	f.etag = resp.Header.Get(headers.ETag)
	f.mu.Unlock()

	if skipped > 0 {
		f.logger.Warn("skipped malformed nodes", map[string]interface{}{
			"url":     f.url,
			"skipped": skipped,
		})
	}
	return skipped, nil
}

func parse(body []byte) (map[string]Entry, int, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Nodes == nil {
		return nil, 0, fmt.Errorf("%w: missing nodes", ErrMalformed)
	}

	entries := make(map[string]Entry, len(*doc.Nodes))
	skipped := 0
	for _, n := range *doc.Nodes {
		info := n.NodeInfo
		if info == nil || info.NodeID == nil || info.Hostname == nil || info.Network == nil {
			skipped++
			continue
		}
		entry := Entry{ID: *info.NodeID, Name: *info.Hostname}
		if len(info.Network.Addresses) > 0 {
			entry.Address = info.Network.Addresses[0]
		}
		entries[entry.ID] = entry
	}
	return entries, skipped, nil
}

// Lookup returns the cached entry for a node id.
func (f *Feed) Lookup(id string) (Entry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[id]
	return e, ok
}

// Len returns the number of cached entries.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}
