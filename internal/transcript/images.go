package transcript

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-relay/internal/domain"
)

// DefaultInlineImageMaxBytes bounds a single embedded image.
const DefaultInlineImageMaxBytes = 1 << 20

const inlineFetchConcurrency = 4

// ImageFetcher downloads attachment bytes so they can be embedded in a transcript.
// Implementations must not return more than limit bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string, limit int64) ([]byte, error)
}

// ErrImageTooLarge is returned when an image exceeds the inline limit.
var ErrImageTooLarge = errors.New("image exceeds inline limit")

// HTTPImageFetcher fetches attachments over HTTP.
type HTTPImageFetcher struct {
	client *http.Client
}

// NewHTTPImageFetcher returns a fetcher with the given per-request timeout.
func NewHTTPImageFetcher(timeout time.Duration) *HTTPImageFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPImageFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads url, failing with ErrImageTooLarge past limit bytes.
func (f *HTTPImageFetcher) Fetch(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch attachment: %s", resp.Status)
	}
	if resp.ContentLength > limit {
		return nil, ErrImageTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrImageTooLarge
	}
	return data, nil
}

// RendererOption customizes a Renderer.
type RendererOption func(*Renderer)

// WithInlineImages embeds image attachments up to maxBytes as data: URIs so the
// transcript survives CDN link expiry. Larger images, and any that fail to
// download, keep their original URL.
func WithInlineImages(fetcher ImageFetcher, maxBytes int64) RendererOption {
	return func(r *Renderer) {
		if fetcher == nil || maxBytes <= 0 {
			return
		}
		r.fetcher = fetcher
		r.inlineMax = maxBytes
	}
}

// inlineImages downloads every embeddable image in history, keyed by URL.
func (r *Renderer) inlineImages(ctx context.Context, history []domain.Message) map[string]template.URL {
	if r.fetcher == nil {
		return nil
	}
	var pending []string
	seen := make(map[string]struct{})
	for _, msg := range history {
		for _, att := range msg.Attachments {
			if !att.IsImage() || att.URL == "" || att.SizeBytes > r.inlineMax {
				continue
			}
			if _, ok := seen[att.URL]; ok {
				continue
			}
			seen[att.URL] = struct{}{}
			pending = append(pending, att.URL)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	var mu sync.Mutex
	inlined := make(map[string]template.URL, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inlineFetchConcurrency)
	for _, url := range pending {
		url := url
		g.Go(func() error {
			data, err := r.fetcher.Fetch(gctx, url, r.inlineMax)
			if err != nil {
				return nil
			}
			uri, ok := dataURI(data)
			if !ok {
				return nil
			}
			mu.Lock()
			inlined[url] = uri
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return inlined
}

// dataURI encodes data when it sniffs as an image.
func dataURI(data []byte) (template.URL, bool) {
	if len(data) == 0 {
		return "", false
	}
	mime := mimetype.Detect(data)
	kind := strings.SplitN(mime.String(), ";", 2)[0]
	if !strings.HasPrefix(kind, "image/") {
		return "", false
	}
	return template.URL("data:" + kind + ";base64," + base64.StdEncoding.EncodeToString(data)), true
}
