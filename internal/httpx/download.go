package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shaiso/postmill/internal/domain"
)

// DefaultMaxDownload — предел размера скачиваемого изображения.
const DefaultMaxDownload = 20 << 20

// Downloader скачивает изображения по URL, который вернул генератор.
type Downloader struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxBytes int64
}

// NewDownloader создаёт Downloader с таймаутом 30s и пределом 20 MiB.
func NewDownloader(client *http.Client) *Downloader {
	return &Downloader{Client: client, Timeout: DefaultTimeout, MaxBytes: DefaultMaxDownload}
}

// Fetch возвращает тело ответа и Content-Type.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, "", fmt.Errorf("%w: bad image url %q", domain.ErrValidation, rawURL)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: create request: %v", domain.ErrValidation, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", transportError(http.MethodGet, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	limit := d.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxDownload
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read image: %w", domain.ErrTransient, err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("%w: image exceeds %d bytes", domain.ErrValidation, limit)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image", domain.ErrValidation)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
