package recipecache

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/lflare/recipecache-golang/pkg/imagecache"
	"github.com/lflare/recipecache-golang/pkg/recipes"
	"github.com/spf13/viper"
)

// Configuration keys
const (
	KeyClientPort              = "client.port"
	KeyClientFeedURL           = "client.feed_url"
	KeyClientGracefulShutdown  = "client.graceful_shutdown_seconds"
	KeyClientRefreshInterval   = "client.refresh_interval_seconds"
	KeyClientAdminSecret       = "client.admin_secret"
	KeyCacheDirectory          = "cache.directory"
	KeyCacheDirectoryName      = "cache.directory_name"
	KeyCacheInMemory           = "cache.in_memory"
	KeyCacheOnDisk             = "cache.on_disk"
	KeyCacheAtomicWrites       = "cache.atomic_writes"
	KeyCacheRefetchCorrupt     = "cache.refetch_corrupt_files"
	KeyCacheDeduplicate        = "cache.deduplicate_fetches"
	KeyCacheMemoryLimit        = "cache.memory_limit_mebibytes"
	KeyCachePressureInterval   = "cache.pressure_check_interval_seconds"
	KeyCacheFeedDatabase       = "cache.feed_database"
	KeyCacheFeedMaxAge         = "cache.feed_max_age_days"
	KeyPerformanceAllowHTTP2   = "performance.allow_http2"
	KeyPerformanceTimeout      = "performance.client_timeout_seconds"
	KeyPerformanceReuse        = "performance.upstream_connection_reuse"
	KeyPerformanceMaxImageSize = "performance.max_image_size_mebibytes"
	KeyPerformanceThumbWidth   = "performance.thumbnail_width"
	KeyPerformanceThumbQuality = "performance.thumbnail_quality"
	KeyPerformanceWarmWorkers  = "performance.warm_concurrency"
	KeySecurityRejectTokens    = "security.reject_invalid_tokens"
	KeySecurityTokenKey        = "security.token_key"
	KeySecurityRejectSNI       = "security.reject_invalid_sni"
	KeySecurityHostname        = "security.hostname"
	KeySecurityCertificate     = "security.tls_certificate_file"
	KeySecurityPrivateKey      = "security.tls_private_key_file"
	KeySecurityForwardedFor    = "security.use_forwarded_for_headers"
	KeySecurityServerHeader    = "security.send_server_header"
	KeyMetricPrometheus        = "metric.enable_prometheus"
	KeyMetricMaxmindKey        = "metric.maxmind_license_key"
	KeyLogDirectory            = "log.directory"
	KeyLogLevel                = "log.level"
	KeyLogMaxAge               = "log.max_age_days"
	KeyLogMaxBackups           = "log.max_backups"
	KeyLogMaxSize              = "log.max_size_mebibytes"
)

func setDefaultConfiguration() {
	// [version]
	viper.SetDefault("version", 1)

	// [client]
	viper.SetDefault(KeyClientPort, 8080)
	viper.SetDefault(KeyClientFeedURL, recipes.FeedURL)
	viper.SetDefault(KeyClientGracefulShutdown, 30)
	viper.SetDefault(KeyClientRefreshInterval, 300)
	viper.SetDefault(KeyClientAdminSecret, "")

	// [cache]
	viper.SetDefault(KeyCacheDirectory, "")
	viper.SetDefault(KeyCacheDirectoryName, imagecache.DefaultDirectoryName)
	viper.SetDefault(KeyCacheInMemory, true)
	viper.SetDefault(KeyCacheOnDisk, true)
	viper.SetDefault(KeyCacheAtomicWrites, true)
	viper.SetDefault(KeyCacheRefetchCorrupt, false)
	viper.SetDefault(KeyCacheDeduplicate, false)
	viper.SetDefault(KeyCacheMemoryLimit, 512)
	viper.SetDefault(KeyCachePressureInterval, 10)
	viper.SetDefault(KeyCacheFeedDatabase, "cache/feeds.db")
	viper.SetDefault(KeyCacheFeedMaxAge, 30)

	// [performance]
	viper.SetDefault(KeyPerformanceAllowHTTP2, true)
	viper.SetDefault(KeyPerformanceTimeout, 60)
	viper.SetDefault(KeyPerformanceReuse, true)
	viper.SetDefault(KeyPerformanceMaxImageSize, 20)
	viper.SetDefault(KeyPerformanceThumbWidth, 320)
	viper.SetDefault(KeyPerformanceThumbQuality, 80)
	viper.SetDefault(KeyPerformanceWarmWorkers, 8)

	// [security]
	viper.SetDefault(KeySecurityRejectTokens, false)
	viper.SetDefault(KeySecurityTokenKey, "")
	viper.SetDefault(KeySecurityRejectSNI, false)
	viper.SetDefault(KeySecurityHostname, "")
	viper.SetDefault(KeySecurityCertificate, "")
	viper.SetDefault(KeySecurityPrivateKey, "")
	viper.SetDefault(KeySecurityForwardedFor, false)
	viper.SetDefault(KeySecurityServerHeader, false)

	// [metric]
	viper.SetDefault(KeyMetricPrometheus, false)
	viper.SetDefault(KeyMetricMaxmindKey, "")

	// [log]
	viper.SetDefault(KeyLogDirectory, "log/")
	viper.SetDefault(KeyLogLevel, "info")
	viper.SetDefault(KeyLogMaxAge, 7)
	viper.SetDefault(KeyLogMaxBackups, 3)
	viper.SetDefault(KeyLogMaxSize, 64)
}

func prepareConfiguration() {
	// Configure Viper
	dir, name := filepath.Split(ConfigFilePath)
	if dir == "" {
		dir = "."
	}
	viper.AddConfigPath(dir)
	viper.SetConfigName(strings.TrimSuffix(name, ".toml"))
	viper.SetConfigType("toml")

	// Set default configuration
	setDefaultConfiguration()

	// Load in configuration
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Write default configuration file if not exists
			log.Info("Configuration not found, creating!")
			if err := viper.SafeWriteConfig(); err != nil {
				log.Fatalf("Failed to write default configuration to '%s.toml'!", ConfigFilePath)
			}
			log.Infof("Default configuration written to '%s.toml'", ConfigFilePath)
		} else {
			// Config file was found but another error was produced
			log.Errorf("Failed to read configuration: %v", err)
		}
	}

	// Update configuration file with any new defaults
	if err := viper.WriteConfig(); err != nil {
		log.Errorf("Failed to update configuration file: '%v'. Please check permissions!", err)
	}
}

// cacheDirectory resolves the base directory the disk tier lives under
func cacheDirectory() (string, error) {
	if dir := viper.GetString(KeyCacheDirectory); dir != "" {
		return filepath.Abs(dir)
	}
	return os.UserCacheDir()
}

// cacheOptions returns the configured tier options
func cacheOptions() imagecache.Options {
	var options imagecache.Options
	if viper.GetBool(KeyCacheInMemory) {
		options |= imagecache.InMemory
	}
	if viper.GetBool(KeyCacheOnDisk) {
		options |= imagecache.OnDisk
	}
	return options
}
