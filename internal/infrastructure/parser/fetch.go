package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"BookmarkScout/internal/errkind"
)

const userAgent = "BookmarkScout/1.0"

func defaultClient(client *http.Client) *http.Client {
	if client == nil {
		return &http.Client{Timeout: 20 * time.Second}
	}
	return client
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// open returns the contents behind location, which is either an http(s) URL
// or a local file path.
func open(ctx context.Context, client *http.Client, location string) (io.ReadCloser, error) {
	if location == "" {
		return nil, fmt.Errorf("source location is empty")
	}
	if !isRemote(location) {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", location, err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, errkind.New(errkind.KindOf(err), "fetch "+location, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errkind.New(errkind.FromStatus(resp.StatusCode), "fetch "+location, fmt.Errorf("source returned %s", resp.Status))
	}
	return resp.Body, nil
}
