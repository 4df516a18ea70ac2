package recipecache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lflare/recipecache-golang/pkg/feedstore"
	"github.com/lflare/recipecache-golang/pkg/recipes"
	"github.com/sirupsen/logrus"
)

// feedService holds the latest decoded recipe feed, refreshing it from upstream and falling back to the last
// stored snapshot when upstream is unavailable
type feedService struct {
	client *recipes.Client
	store  *feedstore.Store

	mu        sync.RWMutex
	current   *recipes.Response
	fetchedAt time.Time
}

func newFeedService(client *recipes.Client, store *feedstore.Store) *feedService {
	return &feedService{client: client, store: store}
}

// Refresh downloads the feed and replaces the current one on success
func (f *feedService) Refresh(ctx context.Context) error {
	feedLogger := log.WithFields(logrus.Fields{"type": "feed", "url": f.client.URL})

	body, response, err := f.client.Get(ctx)
	if err != nil {
		feedFailedTotal.Inc()
		feedLogger.WithField("event", "failed").Warnf("Failed to refresh feed: %v", err)
		f.fallback(feedLogger)
		return err
	}

	// Persist last good body
	if f.store != nil {
		if err := f.store.Put(f.client.URL, body); err != nil {
			feedLogger.WithField("event", "failed").Warnf("Failed to store feed snapshot: %v", err)
		}
	}

	f.mu.Lock()
	f.current = &response
	f.fetchedAt = time.Now()
	f.mu.Unlock()

	feedRefreshedTotal.Inc()
	feedLogger.WithFields(logrus.Fields{"event": "refreshed", "recipes": len(response.Recipes)}).Debug("Feed refreshed")
	return nil
}

// fallback loads the stored snapshot when no feed is loaded yet
func (f *feedService) fallback(feedLogger *logrus.Entry) {
	if f.store == nil {
		return
	}

	f.mu.RLock()
	loaded := f.current != nil
	f.mu.RUnlock()
	if loaded {
		return
	}

	body, entry, err := f.store.Get(f.client.URL)
	if err != nil {
		if !errors.Is(err, feedstore.ErrNotFound) {
			feedLogger.WithField("event", "failed").Warnf("Failed to load feed snapshot: %v", err)
		}
		return
	}
	response, err := recipes.Decode(body)
	if err != nil {
		feedLogger.WithField("event", "failed").Warnf("Stored feed snapshot is invalid: %v", err)
		return
	}

	f.mu.Lock()
	f.current = &response
	f.fetchedAt = entry.Time()
	f.mu.Unlock()

	feedFallbackTotal.Inc()
	feedLogger.WithFields(logrus.Fields{"event": "fallback", "stored_at": entry.Time()}).Infof("Serving stored feed snapshot")
}

// Current returns the loaded feed, downloading it first if nothing is loaded. ok is false when no feed could be
// loaded at all, in which case the response is empty.
func (f *feedService) Current(ctx context.Context) (recipes.Response, bool) {
	f.mu.RLock()
	current := f.current
	f.mu.RUnlock()

	if current == nil {
		_ = f.Refresh(ctx)

		f.mu.RLock()
		current = f.current
		f.mu.RUnlock()
	}

	if current == nil {
		return recipes.Response{Recipes: []recipes.Recipe{}}, false
	}
	return *current, true
}

// FetchedAt returns when the loaded feed was downloaded
func (f *feedService) FetchedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fetchedAt
}
