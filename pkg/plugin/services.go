package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/savedobjects"
)

// ErrServiceNotSet indicates a capability read before the lifecycle stage that sets it.
var ErrServiceNotSet = errors.New("plugin: service not set")

// Services holds the capabilities the plugin receives during Setup and Start.
// Each one is set once and read many times, from any goroutine.
type Services struct {
	mu     sync.RWMutex
	client overlay.Fetcher
	search adclient.Doer
	loader *savedobjects.Loader
}

// SetClient stores the anomaly results client.
func (s *Services) SetClient(c overlay.Fetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.client = c
}

// Client returns the anomaly results client.
func (s *Services) Client() (overlay.Fetcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return nil, fmt.Errorf("%w: client", ErrServiceNotSet)
	}

	return s.client, nil
}

// SetSearch stores the raw search transport.
func (s *Services) SetSearch(d adclient.Doer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.search = d
}

// Search returns the raw search transport.
func (s *Services) Search() (adclient.Doer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.search == nil {
		return nil, fmt.Errorf("%w: search", ErrServiceNotSet)
	}

	return s.search, nil
}

// SetSavedObjectLoader stores the augment-vis loader.
func (s *Services) SetSavedObjectLoader(l *savedobjects.Loader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loader = l
}

// SavedObjectLoader returns the augment-vis loader.
func (s *Services) SavedObjectLoader() (*savedobjects.Loader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.loader == nil {
		return nil, fmt.Errorf("%w: saved object loader", ErrServiceNotSet)
	}

	return s.loader, nil
}

// servicesFetcher resolves the client on every call so the function can be
// registered during Setup before the client is usable.
type servicesFetcher struct {
	services *Services
}

func (f servicesFetcher) Fetch(ctx context.Context, detectorID string, startMs, endMs int64) ([]adclient.Record, error) {
	client, err := f.services.Client()
	if err != nil {
		return nil, err
	}

	return client.Fetch(ctx, detectorID, startMs, endMs)
}
