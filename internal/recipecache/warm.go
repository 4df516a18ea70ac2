package recipecache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lflare/recipecache-golang/pkg/imagecache"
	"github.com/lflare/recipecache-golang/pkg/recipes"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// warmResult summarises a warm-up run
type warmResult struct {
	Total  int
	Loaded int64
	Failed int64
}

// warm fetches the small photo of every recipe with at most concurrency fetches in flight
func warm(ctx context.Context, cache *imagecache.ImageCache, list []recipes.Recipe, options imagecache.Options, concurrency int) warmResult {
	if concurrency < 1 {
		concurrency = 1
	}

	var result warmResult
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, recipe := range list {
		if recipe.PhotoURLSmall == "" {
			continue
		}
		result.Total++

		photoURL := recipe.PhotoURLSmall
		g.Go(func() error {
			if cache.Fetch(ctx, photoURL, options).OK() {
				atomic.AddInt64(&result.Loaded, 1)
			} else {
				atomic.AddInt64(&result.Failed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return result
}

// WarmCache downloads the feed and prefetches every recipe thumbnail into the configured tiers
func WarmCache() {
	prepareConfiguration()
	initLogger(viper.GetString(KeyLogLevel), viper.GetInt(KeyLogMaxSize), viper.GetInt(KeyLogMaxBackups), viper.GetInt(KeyLogMaxAge))

	cache, client := buildImageCache(nil)
	defer cache.Close()

	// Download feed
	feedClient := &recipes.Client{HTTP: client, URL: viper.GetString(KeyClientFeedURL)}
	_, response, err := feedClient.Get(context.Background())
	if err != nil {
		log.Fatalf("Failed to download feed: %v", err)
	}

	// Prefetch thumbnails
	startTime := time.Now()
	result := warm(context.Background(), cache, response.Recipes, cacheOptions(), viper.GetInt(KeyPerformanceWarmWorkers))

	stats := cache.Stats()
	log.WithFields(logrus.Fields{
		"event":      "warmed",
		"total":      result.Total,
		"loaded":     result.Loaded,
		"failed":     result.Failed,
		"downloaded": ByteCountIEC(int(stats.DownloadedBytes)),
		"time_taken": time.Since(startTime).Milliseconds(),
	}).Infof("Warmed %d of %d thumbnails", result.Loaded, result.Total)
}
