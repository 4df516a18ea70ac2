package recipecache

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lflare/recipecache-golang/pkg/feedstore"
	"github.com/lflare/recipecache-golang/pkg/recipes"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// upstream serves a recipe feed and the photos it links to
type upstream struct {
	*httptest.Server
	photo []byte
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()

	u := &upstream{photo: testPNG(t, 640, 480)}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/recipes.json":
			w.Write([]byte(strings.ReplaceAll(testFeed, "{{host}}", u.URL)))
		case "/recipes-empty.json":
			w.Write([]byte(`{"recipes": []}`))
		case "/recipes-malformed.json":
			w.Write([]byte(`{"recipes": [{"uuid": "1", "cuisine": "British"}]}`))
		case "/photos/large.png", "/photos/small.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(u.photo)
		case "/photos/broken.png":
			w.Write([]byte("not a png"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.Close)
	return u
}

const testFeed = `{
	"recipes": [
		{
			"cuisine": "British",
			"name": "Bakewell Tart",
			"photo_url_small": "{{host}}/photos/small.png",
			"photo_url_large": "{{host}}/photos/large.png",
			"source_url": "https://www.bbcgoodfood.com/recipes/2106/bakewell-tart",
			"uuid": "eed6005f-f8c8-451f-98d0-4088e2b40eb6",
			"youtube_url": "https://www.youtube.com/watch?v=1ahpSTf_Pvk"
		},
		{
			"cuisine": "Malaysian",
			"name": "Apam Balik",
			"photo_url_small": "{{host}}/photos/missing.png",
			"uuid": "0c6ca6e7-e32a-4053-b824-1dbf749910d8"
		},
		{
			"cuisine": "British",
			"name": "Apple Frangipan Tart",
			"uuid": "599344f4-3c5c-4cca-b914-2210e3b3312f"
		}
	]
}`

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// resetConfiguration restores the default configuration with the disk cache inside a temporary directory
func resetConfiguration(t *testing.T) string {
	t.Helper()

	viper.Reset()
	setDefaultConfiguration()
	dir := t.TempDir()
	viper.Set(KeyCacheDirectory, dir)
	t.Cleanup(viper.Reset)
	return dir
}

// newTestServer wires a Server against u, reading the feed at feedPath
func newTestServer(t *testing.T, u *upstream, feedPath string) (*Server, http.Handler) {
	t.Helper()

	cache, client := buildImageCache(nil)
	t.Cleanup(cache.Close)

	store, err := feedstore.Open(filepath.Join(t.TempDir(), "feeds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	feed := newFeedService(&recipes.Client{HTTP: client, URL: u.URL + feedPath}, store)
	s := newServer(cache, feed, store)
	return s, s.router()
}

func imagePath(u *upstream, path string, query ...string) string {
	values := url.Values{"url": {u.URL + path}}
	for i := 0; i+1 < len(query); i += 2 {
		values.Set(query[i], query[i+1])
	}
	return "/image?" + values.Encode()
}

func serve(handler http.Handler, method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
