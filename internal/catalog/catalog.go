// Package catalog talks to the patch catalog service: it checks the
// installed versions against the server and parses the tab-separated
// patch lists it answers with.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gaveloc/launcher/internal/httputil"
	"github.com/gaveloc/launcher/internal/logging"
	"github.com/gaveloc/launcher/internal/versions"
)

const (
	bootPath = "/http/win32/ffxivneo_release_boot"
	gamePath = "/http/win32/ffxivneo_release_game"

	maxListBytes = 8 << 20
)

// Entry is one patch the server says must be applied.
type Entry struct {
	VersionID     string              `json:"version_id"`
	URL           string              `json:"url"`
	Length        uint64              `json:"length"`
	HashType      string              `json:"hash_type,omitempty"`
	HashBlockSize uint64              `json:"hash_block_size,omitempty"`
	Hashes        []string            `json:"hashes,omitempty"`
	Repository    versions.Repository `json:"repository"`
}

// Session is the outcome of registering a game session: the patch
// unique id the daemon presents when downloading, plus any pending
// game patches.
type Session struct {
	UniqueID string  `json:"unique_id"`
	Patches  []Entry `json:"patches"`
}

// Client queries the catalog service.
type Client struct {
	baseURL string
	http    *http.Client
	retry   httputil.RetryConfig
	log     *slog.Logger
}

// NewClient creates a client for the catalog at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   httputil.DefaultRetryConfig(),
		log:     logging.L("catalog"),
	}
}

// CheckBoot asks whether boot patches are pending for the given version.
// An empty slice means the boot component is current.
func (c *Client) CheckBoot(ctx context.Context, bootVersion string) ([]Entry, error) {
	url := c.baseURL + bootPath + "/" + bootVersion
	c.log.Debug("checking boot version", "url", url)

	resp, err := httputil.Do(ctx, c.http, http.MethodGet, url, nil, nil, c.retry)
	if err != nil {
		return nil, fmt.Errorf("boot version check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("boot version check: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, fmt.Errorf("boot version check: read body: %w", err)
	}
	return parseList(string(body), versions.Boot)
}

// RegisterSession registers a login session against the current game
// version and returns the patch unique id along with pending game
// patches. The version report covers the base game and installed
// expansions.
func (c *Client) RegisterSession(ctx context.Context, sessionID, gameVersion, versionReport string) (*Session, error) {
	url := c.baseURL + gamePath + "/" + gameVersion + "/" + sessionID
	c.log.Debug("registering session", "version", gameVersion)

	headers := http.Header{"X-Hash-Check": []string{"enabled"}}
	resp, err := httputil.Do(ctx, c.http, http.MethodPost, url, []byte(versionReport), headers, c.retry)
	if err != nil {
		return nil, fmt.Errorf("session registration: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
	case http.StatusConflict:
		return nil, fmt.Errorf("session registration: game version %s is ahead of the server", gameVersion)
	default:
		return nil, fmt.Errorf("session registration: unexpected status %s", resp.Status)
	}

	session := &Session{UniqueID: resp.Header.Get("X-Patch-Unique-Id")}
	if resp.StatusCode == http.StatusNoContent {
		return session, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, fmt.Errorf("session registration: read body: %w", err)
	}
	session.Patches, err = parseList(string(body), versions.Game)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// parseList decodes a tab-separated patch list. Each line reads
// version_id, url and length; hash fields follow when the server
// provides them. Malformed lines are skipped.
func parseList(body string, repo versions.Repository) ([]Entry, error) {
	log := logging.L("catalog")
	var entries []Entry

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			log.Debug("skipping malformed patch line", "line", line)
			continue
		}

		length, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("catalog: invalid patch size %q", parts[2])
		}

		entry := Entry{
			VersionID:  parts[0],
			URL:        parts[1],
			Length:     length,
			Repository: repo,
		}

		// Hash info is optional; boot patches usually lack it.
		if len(parts) >= 5 {
			entry.HashType = parts[3]
			if size, err := strconv.ParseUint(parts[4], 10, 64); err == nil {
				entry.HashBlockSize = size
			}
			if len(parts) > 5 {
				entry.Hashes = parts[5:]
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// TotalLength sums the download size of a patch list.
func TotalLength(entries []Entry) uint64 {
	var total uint64
	for _, e := range entries {
		total += e.Length
	}
	return total
}
