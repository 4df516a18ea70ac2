package recipecache

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lflare/recipecache-golang/pkg/imagecache"
)

var (
	clientRequestsTotal = metrics.NewCounter("client_requests_total")
	clientDroppedTotal  = metrics.NewCounter("client_dropped_total")
	clientFailedTotal   = metrics.NewCounter("client_failed_total")

	imageHitsMemoryTotal = metrics.NewCounter("image_hits_memory_total")
	imageHitsDiskTotal   = metrics.NewCounter("image_hits_disk_total")
	imageMissedTotal     = metrics.NewCounter("image_missed_total")
	imageServedBytes     = metrics.NewCounter("image_served_bytes_total")

	feedRefreshedTotal = metrics.NewCounter("feed_refreshed_total")
	feedFailedTotal    = metrics.NewCounter("feed_failed_total")
	feedFallbackTotal  = metrics.NewCounter("feed_fallback_total")

	clientRequestDurationSeconds = metrics.NewHistogram("client_request_duration_seconds")
)

// registerCacheGauges exposes the image cache counters as gauges
func registerCacheGauges(cache *imagecache.ImageCache) {
	metrics.GetOrCreateGauge("image_cache_memory_entries", func() float64 { return float64(cache.MemoryLen()) })
	metrics.GetOrCreateGauge("image_downloaded_bytes", func() float64 { return float64(cache.Stats().DownloadedBytes) })
	metrics.GetOrCreateGauge("image_downloads", func() float64 { return float64(cache.Stats().Downloads) })
}

// countTier increments the counter matching where an image came from
func countTier(tier imagecache.Tier) {
	switch tier {
	case imagecache.TierMemory:
		imageHitsMemoryTotal.Inc()
	case imagecache.TierDisk:
		imageHitsDiskTotal.Inc()
	default:
		imageMissedTotal.Inc()
	}
}

// countCountry increments the per-country request counter
func countCountry(country string) {
	if country == "" {
		country = "unknown"
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`client_requests_by_country_total{country=%q}`, country)).Inc()
}
