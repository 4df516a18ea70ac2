package imagecache

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Fetcher downloads the raw bytes behind a URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Decoder turns raw bytes into a displayable image
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// HTTPFetcher fetches over HTTP(S) with the wrapped client. Any non-2xx status is an error.
type HTTPFetcher struct {
	Client *http.Client

	// MaxBytes caps the accepted body size, 0 for no limit
	MaxBytes int64
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	// If not 2xx
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("received non-2xx status code %d", res.StatusCode)
	}

	var body io.Reader = res.Body
	if f.MaxBytes > 0 {
		body = io.LimitReader(res.Body, f.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", f.MaxBytes)
	}
	return data, nil
}

// ImageDecoder decodes every format registered with the image package: jpeg, png, gif, bmp and webp
type ImageDecoder struct{}

func (ImageDecoder) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}
