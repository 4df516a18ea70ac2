package imagecache

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestHTTPFetcher(t *testing.T) {
	payload := []byte("image bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write(payload)
		case "/created":
			w.WriteHeader(http.StatusCreated)
			w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fetcher := &HTTPFetcher{Client: server.Client()}

	data, err := fetcher.Fetch(context.Background(), server.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	data, err = fetcher.Fetch(context.Background(), server.URL+"/created")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	_, err = fetcher.Fetch(context.Background(), server.URL+"/missing")
	assert.ErrorContains(t, err, "404")
}

func TestHTTPFetcherMaxBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer server.Close()

	_, err := (&HTTPFetcher{MaxBytes: 32}).Fetch(context.Background(), server.URL)
	assert.Error(t, err)

	data, err := (&HTTPFetcher{MaxBytes: 64}).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, data, 64)
}

func TestHTTPFetcherCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&HTTPFetcher{}).Fetch(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImageDecoder(t *testing.T) {
	img, err := ImageDecoder{}.Decode(pngBytes(t, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())

	// Formats registered from x/image
	src := image.NewRGBA(image.Rect(0, 0, 5, 5))
	src.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, src))
	img, err = ImageDecoder{}.Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 5, img.Bounds().Dx())

	_, err = ImageDecoder{}.Decode(nil)
	assert.Error(t, err)
	_, err = ImageDecoder{}.Decode([]byte("definitely not an image"))
	assert.Error(t, err)
}
