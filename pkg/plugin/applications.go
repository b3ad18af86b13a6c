package plugin

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"sync"
)

// Application registry errors.
var (
	ErrDuplicateApp = errors.New("plugin: application already registered")
	ErrUnknownApp   = errors.New("plugin: unknown application")
	ErrInvalidApp   = errors.New("plugin: invalid application")
)

// Category groups applications in navigation.
type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Order int    `json:"order"`
}

// MountParams describe one navigation to an application.
type MountParams struct {
	Path  string
	Query url.Values
}

// Page is a loaded application.
type Page interface {
	Render(ctx context.Context, w io.Writer, params MountParams) error
}

// App is a navigable application. Load runs on first mount only.
type App struct {
	ID       string                                 `json:"id"`
	Title    string                                 `json:"title"`
	Category Category                               `json:"category"`
	Order    int                                    `json:"order"`
	Load     func(ctx context.Context) (Page, error) `json:"-"`
}

type appEntry struct {
	app App

	mu   sync.Mutex
	page Page
}

// loadPage returns the loaded page, loading it when no earlier load succeeded.
func (e *appEntry) loadPage(ctx context.Context) (Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.page != nil {
		return e.page, nil
	}

	page, err := e.app.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", e.app.ID, err)
	}

	e.page = page

	return page, nil
}

// Applications is the registry of navigable applications.
type Applications struct {
	mu   sync.RWMutex
	apps map[string]*appEntry
}

// NewApplications returns an empty registry.
func NewApplications() *Applications {
	return &Applications{apps: make(map[string]*appEntry)}
}

// Register adds app. Ids are unique.
func (a *Applications) Register(app App) error {
	if app.ID == "" || app.Load == nil {
		return fmt.Errorf("%w: %q needs an id and a loader", ErrInvalidApp, app.ID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.apps[app.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateApp, app.ID)
	}

	a.apps[app.ID] = &appEntry{app: app}

	return nil
}

// Unregister removes the application registered under id, if any.
func (a *Applications) Unregister(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.apps, id)
}

// Get returns the application registered under id.
func (a *Applications) Get(id string) (App, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entry, ok := a.apps[id]
	if !ok {
		return App{}, false
	}

	return entry.app, true
}

// List returns applications in navigation order: by category order, then app order, then id.
func (a *Applications) List() []App {
	a.mu.RLock()
	defer a.mu.RUnlock()

	apps := make([]App, 0, len(a.apps))
	for _, entry := range a.apps {
		apps = append(apps, entry.app)
	}

	slices.SortFunc(apps, func(x, y App) int {
		return cmp.Or(
			cmp.Compare(x.Category.Order, y.Category.Order),
			cmp.Compare(x.Order, y.Order),
			cmp.Compare(x.ID, y.ID),
		)
	})

	return apps
}

// Mount renders application id into w, loading its page on first use.
func (a *Applications) Mount(ctx context.Context, id string, w io.Writer, params MountParams) error {
	a.mu.RLock()
	entry, ok := a.apps[id]
	a.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApp, id)
	}

	page, err := entry.loadPage(ctx)
	if err != nil {
		return err
	}

	return page.Render(ctx, w, params)
}
