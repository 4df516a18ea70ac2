package recipecache

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lflare/recipecache-golang/pkg/imagecache"
	"github.com/lflare/recipecache-golang/pkg/recipes"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recipesBody struct {
	Recipes []struct {
		ID    string            `json:"uuid"`
		Name  string            `json:"name"`
		Links []recipes.LinkURL `json:"links"`
	} `json:"recipes"`
}

func decodeRecipes(t *testing.T, body []byte) recipesBody {
	t.Helper()
	var out recipesBody
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestRecipesHandler(t *testing.T) {
	resetConfiguration(t)
	u := newUpstream(t)
	_, handler := newTestServer(t, u, "/recipes.json")

	rec := serve(handler, http.MethodGet, "/recipes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Header().Get("X-Feed-Status"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	fetchedAt, err := http.ParseTime(rec.Header().Get("Last-Modified"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), fetchedAt, 5*time.Second)

	// Recipes keep feed order
	body := decodeRecipes(t, rec.Body.Bytes())
	require.Len(t, body.Recipes, 3)
	assert.Equal(t, "Bakewell Tart", body.Recipes[0].Name)
	assert.Equal(t, "Apam Balik", body.Recipes[1].Name)
	assert.Equal(t, "Apple Frangipan Tart", body.Recipes[2].Name)
	assert.Len(t, body.Recipes[0].Links, 2)
	assert.NotNil(t, body.Recipes[1].Links)

	rec = serve(handler, http.MethodGet, "/recipes?search=TART")
	body = decodeRecipes(t, rec.Body.Bytes())
	require.Len(t, body.Recipes, 2)
	assert.Equal(t, "Bakewell Tart", body.Recipes[0].Name)
	assert.Equal(t, "Apple Frangipan Tart", body.Recipes[1].Name)
}

func TestRecipesHandlerEmptyFeed(t *testing.T) {
	resetConfiguration(t)
	u := newUpstream(t)
	_, handler := newTestServer(t, u, "/recipes-empty.json")

	rec := serve(handler, http.MethodGet, "/recipes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Header().Get("X-Feed-Status"))
	assert.JSONEq(t, `{"recipes": []}`, rec.Body.String())
}

func TestRecipesHandlerMalformedFeed(t *testing.T) {
	resetConfiguration(t)
	u := newUpstream(t)
	_, handler := newTestServer(t, u, "/recipes-malformed.json")

	rec := serve(handler, http.MethodGet, "/recipes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", rec.Header().Get("X-Feed-Status"))
	assert.Empty(t, rec.Header().Get("Last-Modified"))
	assert.JSONEq(t, `{"recipes": []}`, rec.Body.String())
}

func TestRecipesHandlerServesStoredSnapshot(t *testing.T) {
	resetConfiguration(t)
	u := newUpstream(t)
	s, handler := newTestServer(t, u, "/unavailable.json")
	require.NoError(t, s.store.Put(u.URL+"/unavailable.json", []byte(strings.ReplaceAll(testFeed, "{{host}}", u.URL))))

	rec := serve(handler, http.MethodGet, "/recipes?search=apam")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Header().Get("X-Feed-Status"))
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
	body := decodeRecipes(t, rec.Body.Bytes())
	require.Len(t, body.Recipes, 1)
	assert.Equal(t, "0c6ca6e7-e32a-4053-b824-1dbf749910d8", body.Recipes[0].ID)
}

func TestImageHandlerTiers(t *testing.T) {
	resetConfiguration(t)
	u := newUpstream(t)
	s, handler := newTestServer(t, u, "/recipes.json")

	rec := serve(handler, http.MethodGet, imagePath(u, "/photos/large.png"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	img, err := jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())

	rec = serve(handler, http.MethodGet, imagePath(u, "/photos/large.png"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT-MEMORY", rec.Header().Get("X-Cache"))

	s.cache.ClearMemoryCache()
	rec = serve(handler, http.MethodGet, imagePath(u, "/photos/large.png"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT-DISK", rec.Header().Get("X-Cache"))

	dir, err := s.cache.DiskDirectory()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(viper.GetString(KeyCacheDirectory), imagecache.DefaultDirectoryName), dir)
}

func TestImageHandlerCacheOptions(t *testing.T) {
	resetConfiguration(t)
	u := newUpstream(t)
	s, handler := newTestServer(t, u, "/recipes.json")

	rec := serve(handler, http.MethodGet, imagePath(u, "/photos/small.png", "cache", "none"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 0, s.cache.MemoryLen())

	rec = serve(handler, http.MethodGet, imagePath(u, "/photos/small.png", "cache", "disk"))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	rec = serve(handler, http.MethodGet, imagePath(u, "/photos/small.png", "cache", "disk"))
	assert.Equal(t, "HIT-DISK", rec.Header().Get("X-Cache"))
	assert.Equal(t, 0, s.cache.MemoryLen())
}

func TestImageHandlerWidth(t *testing.T) {
	resetConfiguration(t)
	u := newUpstream(t)
	_, handler := newTestServer(t, u, "/recipes.json")

	rec := serve(handler, http.MethodGet, imagePath(u, "/photos/large.png", "w", "100"))
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 75, img.Bounds().Dy())

	// Never upscaled
	rec = serve(handler, http.MethodGet, imagePath(u, "/photos/large.png", "w", "2048"))
	require.Equal(t, http.StatusOK, rec.Code)
	img, err = jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
}

func TestImageHandlerRejectsBadRequests(t *testing.T) {
	resetConfiguration(t)
	u := newUpstream(t)
	_, handler := newTestServer(t, u, "/recipes.json")

	tests := map[string]struct {
		target string
		code   int
	}{
		"missing url":       {"/image", http.StatusBadRequest},
		"zero width":        {imagePath(u, "/photos/large.png", "w", "0"), http.StatusBadRequest},
		"huge width":        {imagePath(u, "/photos/large.png", "w", "4096"), http.StatusBadRequest},
		"non numeric width": {imagePath(u, "/photos/large.png", "w", "wide"), http.StatusBadRequest},
		"bad cache options": {imagePath(u, "/photos/large.png", "cache", "tape"), http.StatusBadRequest},
		"file scheme":       {"/image?url=" + url.QueryEscape("file:///etc/passwd"), http.StatusNotFound},
		"missing upstream":  {imagePath(u, "/photos/missing.png"), http.StatusNotFound},
		"not an image":      {imagePath(u, "/photos/broken.png"), http.StatusNotFound},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			rec := serve(handler, http.MethodGet, test.target)
			assert.Equal(t, test.code, rec.Code)
			assert.Empty(t, rec.Header().Get("X-Cache"))
		})
	}
}

func TestImageHandlerTokens(t *testing.T) {
	resetConfiguration(t)
	secret := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	viper.Set(KeySecurityRejectTokens, true)
	viper.Set(KeySecurityTokenKey, secret)

	u := newUpstream(t)
	_, handler := newTestServer(t, u, "/recipes.json")

	key, err := imagecache.DeriveKey(u.URL + "/photos/large.png")
	require.NoError(t, err)
	valid, err := issueToken(secret, string(key), time.Now().Add(time.Hour))
	require.NoError(t, err)
	expired, err := issueToken(secret, string(key), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	otherKey, err := imagecache.DeriveKey(u.URL + "/photos/small.png")
	require.NoError(t, err)
	other, err := issueToken(secret, string(otherKey), time.Now().Add(time.Hour))
	require.NoError(t, err)

	rec := serve(handler, http.MethodGet, imagePath(u, "/photos/large.png"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(handler, http.MethodGet, "/"+valid+imagePath(u, "/photos/large.png"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(handler, http.MethodGet, imagePath(u, "/photos/large.png", "token", valid))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(handler, http.MethodGet, "/"+expired+imagePath(u, "/photos/large.png"))
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = serve(handler, http.MethodGet, "/"+other+imagePath(u, "/photos/large.png"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestClearHandler(t *testing.T) {
	resetConfiguration(t)
	viper.Set(KeyClientAdminSecret, "hunter2")
	u := newUpstream(t)
	s, handler := newTestServer(t, u, "/recipes.json")

	require.Equal(t, http.StatusOK, serve(handler, http.MethodGet, imagePath(u, "/photos/large.png")).Code)
	require.Equal(t, http.StatusOK, serve(handler, http.MethodGet, imagePath(u, "/photos/small.png")).Code)
	require.Equal(t, 2, s.cache.MemoryLen())

	rec := serve(handler, http.MethodPost, "/cache/clear")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = serve(handler, http.MethodPost, "/cache/clear", "X-Admin-Secret", "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 2, s.cache.MemoryLen())

	rec = serve(handler, http.MethodPost, "/cache/clear?tier=tape", "X-Admin-Secret", "hunter2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(handler, http.MethodPost, "/cache/clear?tier=memory", "X-Admin-Secret", "hunter2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tier": "memory", "disk_removed": 0}`, rec.Body.String())
	assert.Equal(t, 0, s.cache.MemoryLen())

	rec = serve(handler, http.MethodPost, "/cache/clear", "X-Admin-Secret", "hunter2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tier": "all", "disk_removed": 2}`, rec.Body.String())

	rec = serve(handler, http.MethodGet, imagePath(u, "/photos/large.png"))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
}

func TestMetricsEndpoint(t *testing.T) {
	resetConfiguration(t)
	u := newUpstream(t)

	_, handler := newTestServer(t, u, "/recipes.json")
	assert.Equal(t, http.StatusNotFound, serve(handler, http.MethodGet, "/metrics").Code)

	viper.Set(KeyMetricPrometheus, true)
	_, handler = newTestServer(t, u, "/recipes.json")
	serve(handler, http.MethodGet, imagePath(u, "/photos/large.png"))
	rec := serve(handler, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "client_requests_total")
	assert.Contains(t, rec.Body.String(), "image_missed_total")
}

func TestApplyConfiguration(t *testing.T) {
	resetConfiguration(t)
	u := newUpstream(t)
	s, _ := newTestServer(t, u, "/recipes.json")

	viper.Set(KeyCacheDirectoryName, "Thumbnails")
	viper.Set(KeyLogLevel, "debug")
	s.applyConfiguration()
	assert.Equal(t, "Thumbnails", s.cache.DiskDirectoryName())
	assert.Equal(t, "debug", log.GetLevel().String())

	// Empty names are ignored
	viper.Set(KeyCacheDirectoryName, "")
	s.applyConfiguration()
	assert.Equal(t, "Thumbnails", s.cache.DiskDirectoryName())

	// Names escaping the cache directory are ignored
	for _, name := range []string{"..", "../..", "Thumbnails/../.."} {
		viper.Set(KeyCacheDirectoryName, name)
		s.applyConfiguration()
		assert.Equal(t, "Thumbnails", s.cache.DiskDirectoryName(), name)
	}

	viper.Set(KeyLogLevel, "info")
	s.applyConfiguration()
}
