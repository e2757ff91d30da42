// Package registry resolves the model artifact the service runs with: it
// asks the external model registry first and falls back to the local bundle
// shipped alongside the service. Neither source working is fatal; the
// service must never substitute a default model.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// VersionLatest is the registry alias for the newest registered version
const VersionLatest = "latest"

// ErrNotFound reports that the registry answered but has no such model
var ErrNotFound = errors.New("model not found in registry")

// ArtifactInfo identifies a resolvable artifact in the registry
type ArtifactInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	DownloadURI string `json:"download_uri"`
}

// Client is a narrow HTTP client for the model registry's resolve/fetch API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a registry client. baseURL is the registry root, e.g.
// "http://registry:5005".
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Resolve asks the registry for a model by name and version or alias.
// Returns ErrNotFound when the registry is healthy but has no match; any
// other failure means the registry is unavailable.
func (c *Client) Resolve(ctx context.Context, name, versionOrAlias string) (*ArtifactInfo, error) {
	endpoint := fmt.Sprintf("%s/api/models/%s/versions/%s",
		c.baseURL, url.PathEscape(name), url.PathEscape(versionOrAlias))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build resolve request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry resolve failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, name, versionOrAlias)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("registry resolve returned status %d", resp.StatusCode)
	}

	var info ArtifactInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode resolve response: %w", err)
	}
	if info.Name == "" || info.Version == "" {
		return nil, fmt.Errorf("registry resolve response is incomplete")
	}

	return &info, nil
}

// Fetch downloads the serialized artifact bytes for a resolved model
func (c *Client) Fetch(ctx context.Context, info *ArtifactInfo) ([]byte, error) {
	uri := info.DownloadURI
	if uri == "" {
		uri = fmt.Sprintf("%s/api/models/%s/versions/%s/artifact",
			c.baseURL, url.PathEscape(info.Name), url.PathEscape(info.Version))
	} else if strings.HasPrefix(uri, "/") {
		uri = c.baseURL + uri
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact body: %w", err)
	}

	return data, nil
}
