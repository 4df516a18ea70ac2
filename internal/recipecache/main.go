package recipecache

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/lflare/recipecache-golang/pkg/feedstore"
	"github.com/lflare/recipecache-golang/pkg/imagecache"
	"github.com/lflare/recipecache-golang/pkg/pressure"
	"github.com/lflare/recipecache-golang/pkg/recipes"
	"github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Server serves the recipe feed and recipe thumbnails
type Server struct {
	cache        *imagecache.ImageCache
	feed         *feedService
	store        *feedstore.Store
	geodb        *geoip2.Reader
	certificates *certificateHandler
}

func newServer(cache *imagecache.ImageCache, feed *feedService, store *feedstore.Store) *Server {
	return &Server{cache: cache, feed: feed, store: store}
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/recipes", handlers.CompressHandler(http.HandlerFunc(s.recipesHandler))).Methods(http.MethodGet)
	r.HandleFunc("/image", s.imageHandler).Methods(http.MethodGet)
	r.HandleFunc("/{token}/image", s.imageHandler).Methods(http.MethodGet)
	r.HandleFunc("/cache/clear", s.clearHandler).Methods(http.MethodPost)
	if viper.GetBool(KeyMetricPrometheus) {
		r.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.WritePrometheus(w, true)
		})
	}

	var handler http.Handler = r
	if viper.GetBool(KeySecurityForwardedFor) {
		handler = handlers.ProxyHeaders(handler)
	}
	return handler
}

func (s *Server) imageHandler(w http.ResponseWriter, r *http.Request) {
	// Start timer
	startTime := time.Now()
	clientRequestsTotal.Inc()
	defer clientRequestDurationSeconds.UpdateDuration(startTime)

	// Prepare logger for request
	remoteAddr := r.RemoteAddr
	query := r.URL.Query()
	imageURL := query.Get("url")
	requestLogger := log.WithFields(logrus.Fields{"url": imageURL, "remote_addr": remoteAddr})

	// Count country
	if s.geodb != nil {
		countCountry(lookupCountry(s.geodb, remoteAddr))
	}

	// Sanitize url
	u, err := url.Parse(imageURL)
	if imageURL == "" || err != nil {
		s.drop(w, requestLogger, http.StatusBadRequest, "invalid url")
		return
	}
	key, err := imagecache.DeriveKey(u.String())
	if err != nil {
		s.drop(w, requestLogger, http.StatusBadRequest, "invalid url")
		return
	}

	// Check if token is valid
	if viper.GetBool(KeySecurityRejectTokens) {
		token := mux.Vars(r)["token"]
		if token == "" {
			token = query.Get("token")
		}
		if code, err := verifyToken(viper.GetString(KeySecurityTokenKey), token, string(key)); err != nil {
			requestLogger.WithField("error", err).Debug("Token rejected")
			s.drop(w, requestLogger, code, "invalid token")
			return
		}
	}

	// Parse thumbnail width
	width := viper.GetInt(KeyPerformanceThumbWidth)
	if raw := query.Get("w"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxThumbnailWidth {
			s.drop(w, requestLogger, http.StatusBadRequest, "invalid width")
			return
		}
		width = parsed
	}

	// Parse cache options
	options := cacheOptions()
	if raw := query.Get("cache"); raw != "" {
		if options, err = imagecache.ParseOptions(raw); err != nil {
			s.drop(w, requestLogger, http.StatusBadRequest, "invalid cache options")
			return
		}
	}

	// Add server headers
	if viper.GetBool(KeySecurityServerHeader) {
		w.Header().Set("Server", fmt.Sprintf("recipecache-golang %s", ClientVersion))
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")

	requestLogger.WithField("event", "received").Debugf("Request from %s received", remoteAddr)

	// Load image
	result := s.cache.Fetch(r.Context(), imageURL, options)
	if !result.OK() {
		clientFailedTotal.Inc()
		requestLogger.WithField("event", "failed").Warnf("Request from %s failed to load image", remoteAddr)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	countTier(result.Tier)

	// Encode thumbnail
	data, err := encodeThumbnail(result.Image, width, viper.GetInt(KeyPerformanceThumbQuality))
	if err != nil {
		clientFailedTotal.Inc()
		requestLogger.WithFields(logrus.Fields{"event": "failed", "error": err}).Warnf("Request from %s failed to encode: %v", remoteAddr, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("X-Cache", cacheHeader(result.Tier))
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=1209600")
	w.Header().Set("X-Time-Taken", strconv.Itoa(int(time.Since(startTime).Milliseconds())))
	if _, err := w.Write(data); err != nil {
		requestLogger.WithFields(logrus.Fields{"event": "failed", "error": err}).Warnf("Request from %s failed to stream: %v", remoteAddr, err)
		return
	}
	imageServedBytes.Add(len(data))

	requestLogger.WithFields(logrus.Fields{"event": "completed", "tier": result.Tier.String(), "time_taken": time.Since(startTime).Milliseconds()}).Tracef("Request from %s completed", remoteAddr)
}

func (s *Server) drop(w http.ResponseWriter, requestLogger *logrus.Entry, code int, reason string) {
	clientDroppedTotal.Inc()
	requestLogger.WithFields(logrus.Fields{"event": "dropped", "reason": reason}).Warnf("Request dropped due to %s", reason)
	w.WriteHeader(code)
}

func cacheHeader(tier imagecache.Tier) string {
	switch tier {
	case imagecache.TierMemory:
		return "HIT-MEMORY"
	case imagecache.TierDisk:
		return "HIT-DISK"
	default:
		return "MISS"
	}
}

func (s *Server) recipesHandler(w http.ResponseWriter, r *http.Request) {
	response, ok := s.feed.Current(r.Context())

	// A missing feed is an empty list, not an error
	if ok {
		w.Header().Set("X-Feed-Status", "ok")
		if fetchedAt := s.feed.FetchedAt(); !fetchedAt.IsZero() {
			w.Header().Set("Last-Modified", fetchedAt.UTC().Format(http.TimeFormat))
		}
	} else {
		w.Header().Set("X-Feed-Status", "error")
	}

	view := newRecipesView(recipes.Filter(response.Recipes, r.URL.Query().Get("search")))
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		log.WithField("event", "failed").Warnf("Failed to write recipes: %v", err)
	}
}

func (s *Server) clearHandler(w http.ResponseWriter, r *http.Request) {
	// Check admin secret if configured
	if secret := viper.GetString(KeyClientAdminSecret); secret != "" {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Secret")), []byte(secret)) != 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	response := ClearResponse{Tier: r.URL.Query().Get("tier")}
	if response.Tier == "" {
		response.Tier = "all"
	}

	switch response.Tier {
	case "memory":
		s.cache.ClearMemoryCache()
	case "disk":
		response.DiskRemoved = s.cache.ClearDiskCache()
	case "all":
		s.cache.ClearMemoryCache()
		response.DiskRemoved = s.cache.ClearDiskCache()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	log.WithFields(logrus.Fields{"event": "cleared", "tier": response.Tier, "removed": response.DiskRemoved}).Info("Cache cleared")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// applyConfiguration pushes reloadable settings into the running server
func (s *Server) applyConfiguration() {
	// Update log level
	if level, err := logrus.ParseLevel(viper.GetString(KeyLogLevel)); err == nil {
		log.SetLevel(level)
	}

	// Update disk cache directory name
	if name := viper.GetString(KeyCacheDirectoryName); name != s.cache.DiskDirectoryName() {
		if err := s.cache.SetDiskDirectoryName(name); err == nil {
			log.Infof("Disk cache directory name changed to '%s'", name)
		}
	}

	// Reload TLS certificate
	if s.certificates != nil {
		if err := s.certificates.reload(viper.GetString(KeySecurityCertificate), viper.GetString(KeySecurityPrivateKey)); err != nil {
			log.Errorf("Failed to reload TLS certificate: %v", err)
		}
	}
}

// buildImageCache prepares the upstream client and the image cache from configuration
func buildImageCache(source imagecache.PressureSource) (*imagecache.ImageCache, *http.Client) {
	// Prepare upstream client
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		MaxIdleConns:      10,
		IdleConnTimeout:   60 * time.Second,
		DisableKeepAlives: !viper.GetBool(KeyPerformanceReuse),
		ForceAttemptHTTP2: viper.GetBool(KeyPerformanceAllowHTTP2),
	}
	client := &http.Client{
		Transport: tr,
		Timeout:   time.Duration(viper.GetInt(KeyPerformanceTimeout)) * time.Second,
	}

	cache := imagecache.New(imagecache.Config{
		Fetcher: &imagecache.HTTPFetcher{
			Client:   client,
			MaxBytes: int64(viper.GetInt(KeyPerformanceMaxImageSize)) * 1024 * 1024,
		},
		CacheDir:       cacheDirectory,
		DirectoryName:  viper.GetString(KeyCacheDirectoryName),
		Pressure:       source,
		AtomicWrites:   viper.GetBool(KeyCacheAtomicWrites),
		RefetchCorrupt: viper.GetBool(KeyCacheRefetchCorrupt),
		Deduplicate:    viper.GetBool(KeyCacheDeduplicate),
	})
	return cache, client
}

// StartServer starts the recipe cache server
func StartServer() {
	// Load & prepare client settings
	prepareConfiguration()

	// Initialise logger
	initLogger(viper.GetString(KeyLogLevel), viper.GetInt(KeyLogMaxSize), viper.GetInt(KeyLogMaxBackups), viper.GetInt(KeyLogMaxAge))

	// Check client version
	checkClientVersion()

	// Register shutdown handler
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	registerShutdownHandler(stop)

	// Watch memory pressure
	notifier := pressure.NewNotifier()
	limit := uint64(viper.GetInt(KeyCacheMemoryLimit)) * 1024 * 1024
	go pressure.Watch(ctx, notifier, pressure.HeapAlloc, limit, time.Duration(viper.GetInt(KeyCachePressureInterval))*time.Second)
	pressure.NotifyOnSignal(ctx, notifier)

	// Prepare image cache
	cache, client := buildImageCache(notifier)
	defer cache.Close()
	registerCacheGauges(cache)

	// Prepare feed
	store, err := feedstore.Open(viper.GetString(KeyCacheFeedDatabase))
	if err != nil {
		log.Fatalf("Failed to open feed database: %v", err)
	}
	defer store.Close()
	feed := newFeedService(&recipes.Client{HTTP: client, URL: viper.GetString(KeyClientFeedURL)}, store)

	s := newServer(cache, feed, store)

	// Prepare geolocation
	if licenseKey := viper.GetString(KeyMetricMaxmindKey); licenseKey != "" {
		if s.geodb, err = prepareGeoIPDatabase(licenseKey); err != nil {
			log.Warnf("Geolocation disabled: %v", err)
		} else {
			defer s.geodb.Close()
		}
	}

	// Prepare certificates
	if certFile := viper.GetString(KeySecurityCertificate); certFile != "" {
		if s.certificates, err = loadCertificateHandler(certFile, viper.GetString(KeySecurityPrivateKey)); err != nil {
			log.Fatalf("Cannot load TLS certificate: %v", err)
		}
	}

	// Configure auto-reload
	prepareConfigurationReload(s)

	// Start background worker
	go func() {
		_ = feed.Refresh(ctx)
		s.startBackgroundWorker(ctx)
	}()

	// Prepare server
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(viper.GetInt(KeyClientPort)),
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 1 * time.Minute,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(viper.GetInt(KeyClientGracefulShutdown))*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Graceful shutdown failed: %v", err)
		}
	}()

	// Start server
	sniHostname := ""
	if viper.GetBool(KeySecurityRejectSNI) {
		sniHostname = viper.GetString(KeySecurityHostname)
	}
	log.Infof("Listening on %s", server.Addr)
	if err := listenAndServe(server, viper.GetBool(KeyPerformanceAllowHTTP2), s.certificates, sniHostname); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Cannot start server: %v", err)
	}
	log.Info("Server stopped")
}

// ShrinkDatabase compacts the feed database
func ShrinkDatabase() {
	prepareConfiguration()

	log.Println("Preparing database...")
	store, err := feedstore.Open(viper.GetString(KeyCacheFeedDatabase))
	if err != nil {
		log.Fatalf("Failed to open feed database: %v", err)
	}
	defer store.Close()

	log.Println("Shrinking database...")
	if err := store.Compact(); err != nil {
		log.Fatalf("Failed to shrink database: %v", err)
	}
}

// ClearCache deletes every image cached on disk
func ClearCache() {
	prepareConfiguration()

	cache, _ := buildImageCache(nil)
	defer cache.Close()

	dir, err := cache.DiskDirectory()
	if err != nil {
		log.Fatalf("Failed to resolve disk cache: %v", err)
	}
	log.Infof("Removed %d entries from %s", cache.ClearDiskCache(), dir)
}

// IssueToken prints an access token for imageURL valid for validity
func IssueToken(imageURL string, validity time.Duration) {
	prepareConfiguration()

	u, err := url.Parse(imageURL)
	if err != nil {
		log.Fatalf("Invalid url: %v", err)
	}
	key, err := imagecache.DeriveKey(u.String())
	if err != nil {
		log.Fatalf("Invalid url: %v", err)
	}

	token, err := issueToken(viper.GetString(KeySecurityTokenKey), string(key), time.Now().Add(validity))
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
