// Package assets opens the bytes behind an asset's byte location.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// Opener returns a reader over an asset's bytes and its size in bytes.
// Size is -1 when unknown.
type Opener interface {
	Open(ctx context.Context, a models.Asset) (io.ReadCloser, int64, error)
}

// LocationOpener opens local paths, file:// URLs and http(s) URLs.
type LocationOpener struct {
	client *http.Client
}

// NewLocationOpener creates an opener whose remote fetches give up when
// connecting or waiting for response headers takes longer than timeout.
// Reading the body is bounded only by the caller's context, since adapters
// stream it at the pace of their own upload.
func NewLocationOpener(timeout time.Duration) *LocationOpener {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = timeout
	tr.ResponseHeaderTimeout = timeout
	return &LocationOpener{client: &http.Client{Transport: tr}}
}

func (o *LocationOpener) Open(ctx context.Context, a models.Asset) (io.ReadCloser, int64, error) {
	loc := strings.TrimSpace(a.ByteLocation)
	if loc == "" {
		return nil, 0, platform.Permanent("asset has no byte location", nil)
	}
	switch {
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		return o.openHTTP(ctx, loc)
	case strings.HasPrefix(loc, "file://"):
		u, err := url.Parse(loc)
		if err != nil {
			return nil, 0, platform.Permanent("invalid asset location", err)
		}
		return openFile(u.Path)
	default:
		return openFile(loc)
	}
}

func openFile(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, platform.Permanent("asset file missing", err)
		}
		return nil, 0, platform.Transient("open asset file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, platform.Transient("stat asset file", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, platform.Permanent(fmt.Sprintf("asset location %s is a directory", path), nil)
	}
	return f, info.Size(), nil
}

func (o *LocationOpener) openHTTP(ctx context.Context, loc string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, 0, platform.Permanent("invalid asset location", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, 0, platform.Transient("fetch asset", err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, resp.ContentLength, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, 0, platform.Transient(fmt.Sprintf("fetch asset: status %d", resp.StatusCode), nil)
	default:
		resp.Body.Close()
		return nil, 0, platform.Permanent(fmt.Sprintf("fetch asset: status %d", resp.StatusCode), nil)
	}
}

var _ Opener = (*LocationOpener)(nil)
