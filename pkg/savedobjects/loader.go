// Package savedobjects stores augment-vis objects: links saying which anomaly
// detectors are overlaid on which visualizations.
package savedobjects

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/persist"
)

// Loader errors.
var (
	ErrNotFound     = errors.New("savedobjects: not found")
	ErrMissingField = errors.New("savedobjects: missing field")
	ErrDuplicate    = errors.New("savedobjects: detector already linked to visualization")
)

// AugmentVis links one detector to one visualization.
type AugmentVis struct {
	ID         string    `json:"id"`
	VisID      string    `json:"visId"`
	DetectorID string    `json:"detectorId"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Loader is a file-backed augment-vis store, safe for concurrent use.
type Loader struct {
	mu     sync.RWMutex
	store  *persist.Persister[AugmentVis]
	logger *slog.Logger
	now    func() time.Time
}

// NewLoader creates a loader over dir with the named codec ("json", "gob" or
// "lz4"). maxFileSize of zero means unlimited. A nil logger uses slog default.
func NewLoader(dir, codec string, maxFileSize int64, logger *slog.Logger) (*Loader, error) {
	c, err := persist.CodecByName(codec)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Loader{
		store:  persist.NewPersister[AugmentVis](dir, c, maxFileSize),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Save stores obj. An empty ID is generated and an empty CreatedAt is set to
// now. The same detector cannot be linked to one visualization twice.
func (l *Loader) Save(obj AugmentVis) (AugmentVis, error) {
	if obj.VisID == "" {
		return AugmentVis{}, fmt.Errorf("%w: visId", ErrMissingField)
	}

	if obj.DetectorID == "" {
		return AugmentVis{}, fmt.Errorf("%w: detectorId", ErrMissingField)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.findByVisLocked(obj.VisID)
	if err != nil {
		return AugmentVis{}, err
	}

	for _, other := range existing {
		if other.DetectorID == obj.DetectorID && other.ID != obj.ID {
			return AugmentVis{}, fmt.Errorf("%w: %s on %s", ErrDuplicate, obj.DetectorID, obj.VisID)
		}
	}

	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}

	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = l.now().UTC()
	}

	err = l.store.Save(obj.ID, &obj)
	if err != nil {
		return AugmentVis{}, fmt.Errorf("save augment-vis %s: %w", obj.ID, err)
	}

	l.logger.Debug("augment-vis saved", "id", obj.ID, "vis_id", obj.VisID, "detector_id", obj.DetectorID)

	return obj, nil
}

// Get returns the object with the given id.
func (l *Loader) Get(id string) (AugmentVis, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.getLocked(id)
}

func (l *Loader) getLocked(id string) (AugmentVis, error) {
	obj, err := l.store.Load(id)
	if errors.Is(err, persist.ErrNotFound) {
		return AugmentVis{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return AugmentVis{}, fmt.Errorf("load augment-vis %s: %w", id, err)
	}

	return *obj, nil
}

// FindByVis returns the objects attached to visID, oldest first.
func (l *Loader) FindByVis(visID string) ([]AugmentVis, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.findByVisLocked(visID)
}

func (l *Loader) findByVisLocked(visID string) ([]AugmentVis, error) {
	keys, err := l.store.Keys()
	if err != nil {
		return nil, err
	}

	var out []AugmentVis

	for _, key := range keys {
		obj, loadErr := l.getLocked(key)
		if loadErr != nil {
			l.logger.Warn("skipping unreadable augment-vis", "id", key, "error", loadErr)

			continue
		}

		if obj.VisID == visID {
			out = append(out, obj)
		}
	}

	slices.SortFunc(out, func(a, b AugmentVis) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return out, nil
}

// Delete removes the object with the given id.
func (l *Loader) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.store.Delete(id)
	if errors.Is(err, persist.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return fmt.Errorf("delete augment-vis %s: %w", id, err)
	}

	return nil
}
