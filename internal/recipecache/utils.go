package recipecache

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-latest"
)

func checkClientVersion() {
	// Prepare version check
	githubTag := &latest.GithubTag{
		Owner:             RepositoryOwner,
		Repository:        RepositoryName,
		FixVersionStrFunc: latest.DeleteFrontV(),
	}

	// Check if client is latest
	res, err := latest.Check(githubTag, ClientVersion)
	if err != nil {
		log.Warnf("Failed to check client version %s? Proceed with caution!", ClientVersion)
		return
	}
	if res.Outdated {
		log.Warnf("Client %s is not the latest! You should update to the latest version %s now!", ClientVersion, res.Current)
	} else {
		log.Infof("Client %s is latest! Starting client!", ClientVersion)
	}
}

// startBackgroundWorker refreshes the feed and prunes old snapshots until ctx is done
func (s *Server) startBackgroundWorker(ctx context.Context) {
	log.Println("Starting background jobs!")

	interval := time.Duration(viper.GetInt(KeyClientRefreshInterval)) * time.Second
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Update log level if need be
		if newLogLevel, err := logrus.ParseLevel(viper.GetString(KeyLogLevel)); err == nil {
			log.SetLevel(newLogLevel)
		}

		// Refresh feed
		_ = s.feed.Refresh(ctx)

		// Prune old feed snapshots
		if s.store != nil {
			maxAge := time.Duration(viper.GetInt(KeyCacheFeedMaxAge)) * 24 * time.Hour
			if deleted, err := s.store.Prune(maxAge); err != nil {
				log.Warnf("Failed to prune feed snapshots: %v", err)
			} else if deleted > 0 {
				log.Infof("Pruned %d feed snapshots", deleted)
			}
		}

		stats := s.cache.Stats()
		log.WithField("type", "stats").Debugf("Memory hits: %d, disk hits: %d, downloads: %d (%s), failures: %d",
			stats.MemoryHits, stats.DiskHits, stats.Downloads, ByteCountIEC(int(stats.DownloadedBytes)), stats.Failures)
	}
}

// registerShutdownHandler cancels stop on SIGTERM or interrupt
func registerShutdownHandler(stop context.CancelFunc) {
	// Hook on to SIGTERM
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		fmt.Println("Shutting down server gracefully!")
		stop()
	}()
}

// ByteCountIEC returns a human-readable string describing the size of bytes in int
func ByteCountIEC(b int) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB",
		float64(b)/float64(div), "KMGTPE"[exp])
}
