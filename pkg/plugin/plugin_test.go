package plugin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/expressions"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/plugin"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/savedobjects"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/timerange"
)

type stubFetcher struct {
	calls atomic.Int32
}

func (s *stubFetcher) Fetch(_ context.Context, _ string, _, _ int64) ([]adclient.Record, error) {
	s.calls.Add(1)

	return []adclient.Record{{StartTime: 40, EndTime: 60}}, nil
}

type stubDoer struct{}

func (stubDoer) Post(_ context.Context, _ string, _ []byte) ([]byte, error) {
	return []byte(`{}`), nil
}

func setUp(t *testing.T) (*plugin.Plugin, *plugin.Applications, *expressions.Registry, *stubFetcher) {
	t.Helper()

	p := plugin.New(plugin.Deps{})
	apps := plugin.NewApplications()
	reg := expressions.NewRegistry()
	fetcher := &stubFetcher{}

	require.NoError(t, p.Setup(
		plugin.CoreSetup{Applications: apps, HTTP: fetcher},
		plugin.SetupDeps{Expressions: reg},
	))

	return p, apps, reg, fetcher
}

func TestSetup_RegistersApplication(t *testing.T) {
	t.Parallel()

	_, apps, _, _ := setUp(t)

	app, ok := apps.Get(plugin.AppID)
	require.True(t, ok)
	assert.Equal(t, "Anomaly Detection", app.Title)
	assert.Equal(t, 5000, app.Order)
	assert.Equal(t, plugin.Category{ID: "opensearch", Label: "OpenSearch Plugins", Order: 2000}, app.Category)
}

func TestSetup_RegistersOverlayFunction(t *testing.T) {
	t.Parallel()

	p, _, reg, fetcher := setUp(t)

	assert.Equal(t, []string{overlay.FunctionName}, reg.Names())

	client, err := p.Services().Client()
	require.NoError(t, err)
	assert.Same(t, fetcher, client)

	input := `{"type":"vis_data",
		"table":{"type":"opensearch_dashboards_datatable",
			"columns":[{"id":"t","name":"t"},{"id":"v","name":"v"}],
			"rows":[{"t":0,"v":1},{"t":100,"v":2}]},
		"config":{"dimensions":{"y":[{"accessor":1,"format":{},"params":{},"label":"v"}]}}}`

	got, err := reg.Execute(context.Background(), overlay.FunctionName, json.RawMessage(input),
		map[string]any{"detectorId": "det-1"},
		expressions.Execution{TimeRange: &timerange.TimeRange{From: "now-1h", To: "now"}})
	require.NoError(t, err)

	out, ok := got.(overlay.VisData)
	require.True(t, ok)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.InDelta(t, 1.0, out.Table.Rows[0][overlay.ColumnID], 0)
}

func TestSetup_MissingDependencies(t *testing.T) {
	t.Parallel()

	p := plugin.New(plugin.Deps{})

	err := p.Setup(plugin.CoreSetup{HTTP: &stubFetcher{}}, plugin.SetupDeps{Expressions: expressions.NewRegistry()})
	require.ErrorIs(t, err, plugin.ErrMissingDependency)

	err = p.Setup(plugin.CoreSetup{Applications: plugin.NewApplications(), HTTP: &stubFetcher{}}, plugin.SetupDeps{})
	require.ErrorIs(t, err, plugin.ErrMissingDependency)
}

func TestSetup_Twice(t *testing.T) {
	t.Parallel()

	p, apps, reg, fetcher := setUp(t)

	err := p.Setup(plugin.CoreSetup{Applications: apps, HTTP: fetcher}, plugin.SetupDeps{Expressions: reg})
	require.ErrorIs(t, err, plugin.ErrDuplicateApp)
}

func TestSetup_FailedFunctionRegistrationRollsBackApp(t *testing.T) {
	t.Parallel()

	apps := plugin.NewApplications()
	taken := expressions.NewRegistry()
	require.NoError(t, taken.Register(overlay.NewFunction(overlay.FunctionDeps{Fetcher: &stubFetcher{}}).Definition()))

	p := plugin.New(plugin.Deps{})

	err := p.Setup(plugin.CoreSetup{Applications: apps, HTTP: &stubFetcher{}}, plugin.SetupDeps{Expressions: taken})
	require.ErrorIs(t, err, expressions.ErrDuplicateFunction)

	_, ok := apps.Get(plugin.AppID)
	assert.False(t, ok)

	err = p.Setup(plugin.CoreSetup{Applications: apps, HTTP: &stubFetcher{}}, plugin.SetupDeps{Expressions: expressions.NewRegistry()})
	require.NoError(t, err)

	_, ok = apps.Get(plugin.AppID)
	assert.True(t, ok)
}

func TestServices_NotSetBeforeStart(t *testing.T) {
	t.Parallel()

	p, _, _, _ := setUp(t)

	_, err := p.Services().Search()
	require.ErrorIs(t, err, plugin.ErrServiceNotSet)

	_, err = p.Services().SavedObjectLoader()
	require.ErrorIs(t, err, plugin.ErrServiceNotSet)

	_, err = (&plugin.Services{}).Client()
	require.ErrorIs(t, err, plugin.ErrServiceNotSet)
}

func TestStart_SetsServices(t *testing.T) {
	t.Parallel()

	p, _, _, _ := setUp(t)

	loader, err := savedobjects.NewLoader(t.TempDir(), "json", 0, nil)
	require.NoError(t, err)

	require.ErrorIs(t, p.Start(plugin.CoreStart{}, plugin.StartDeps{VisAugmenter: loader}), plugin.ErrMissingDependency)
	require.NoError(t, p.Start(plugin.CoreStart{Search: stubDoer{}}, plugin.StartDeps{VisAugmenter: loader}))

	search, err := p.Services().Search()
	require.NoError(t, err)
	assert.Equal(t, stubDoer{}, search)

	got, err := p.Services().SavedObjectLoader()
	require.NoError(t, err)
	assert.Same(t, loader, got)
}

func TestOverlayFunction_FailsBeforeClientIsSet(t *testing.T) {
	t.Parallel()

	reg := expressions.NewRegistry()
	apps := plugin.NewApplications()

	p := plugin.New(plugin.Deps{})
	require.NoError(t, p.Setup(plugin.CoreSetup{Applications: apps, HTTP: &stubFetcher{}}, plugin.SetupDeps{Expressions: reg}))

	p.Services().SetClient(nil)

	input := `{"type":"vis_data","table":{"columns":[{"id":"t"},{"id":"v"}],"rows":[]},
		"config":{"dimensions":{"y":[]}}}`

	_, err := reg.Execute(context.Background(), overlay.FunctionName, json.RawMessage(input),
		map[string]any{"detectorId": "det-1"},
		expressions.Execution{TimeRange: &timerange.TimeRange{From: "now-1h", To: "now"}})
	require.ErrorIs(t, err, plugin.ErrServiceNotSet)
}

func TestDashboard_ListsLinkedDetectors(t *testing.T) {
	t.Parallel()

	p, apps, _, _ := setUp(t)

	loader, err := savedobjects.NewLoader(t.TempDir(), "json", 0, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start(plugin.CoreStart{Search: stubDoer{}}, plugin.StartDeps{VisAugmenter: loader}))

	_, err = loader.Save(savedobjects.AugmentVis{
		VisID: "vis-1", DetectorID: "det-<a>", Title: "CPU", CreatedAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	var buf bytes.Buffer

	err = apps.Mount(context.Background(), plugin.AppID, &buf, plugin.MountParams{Query: url.Values{"vis": {"vis-1"}}})
	require.NoError(t, err)

	html := buf.String()
	assert.Contains(t, html, "Detectors overlaid on vis-1.")
	assert.Contains(t, html, "det-&lt;a&gt;")
	assert.Contains(t, html, "CPU")
	assert.Contains(t, html, "1 hour ago")
	assert.Contains(t, strings.ToLower(html), "1 detectors")
}

func TestDashboard_WithoutVisShowsUsage(t *testing.T) {
	t.Parallel()

	_, apps, _, _ := setUp(t)

	var buf bytes.Buffer

	require.NoError(t, apps.Mount(context.Background(), plugin.AppID, &buf, plugin.MountParams{}))
	assert.Contains(t, buf.String(), "Add ?vis=")
}

func TestDashboard_RequiresLoader(t *testing.T) {
	t.Parallel()

	_, apps, _, _ := setUp(t)

	err := apps.Mount(context.Background(), plugin.AppID, &bytes.Buffer{}, plugin.MountParams{Query: url.Values{"vis": {"vis-1"}}})
	require.ErrorIs(t, err, plugin.ErrServiceNotSet)
}

type echoPage struct{ id string }

func (e echoPage) Render(_ context.Context, w io.Writer, params plugin.MountParams) error {
	_, err := io.WriteString(w, e.id+":"+params.Path)

	return err
}

func TestApplications_LazyMountLoadsOnce(t *testing.T) {
	t.Parallel()

	apps := plugin.NewApplications()

	var loads atomic.Int32

	require.NoError(t, apps.Register(plugin.App{
		ID: "app",
		Load: func(context.Context) (plugin.Page, error) {
			loads.Add(1)

			return echoPage{id: "app"}, nil
		},
	}))

	assert.Equal(t, int32(0), loads.Load())

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			var buf bytes.Buffer

			assert.NoError(t, apps.Mount(context.Background(), "app", &buf, plugin.MountParams{Path: "/x"}))
			assert.Equal(t, "app:/x", buf.String())
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
}

func TestApplications_FailedLoadIsRetried(t *testing.T) {
	t.Parallel()

	apps := plugin.NewApplications()
	errBoom := errors.New("boom")

	var loads atomic.Int32

	require.NoError(t, apps.Register(plugin.App{
		ID: "flaky",
		Load: func(context.Context) (plugin.Page, error) {
			if loads.Add(1) == 1 {
				return nil, errBoom
			}

			return echoPage{id: "flaky"}, nil
		},
	}))

	require.ErrorIs(t, apps.Mount(context.Background(), "flaky", &bytes.Buffer{}, plugin.MountParams{}), errBoom)
	require.NoError(t, apps.Mount(context.Background(), "flaky", &bytes.Buffer{}, plugin.MountParams{}))
	require.NoError(t, apps.Mount(context.Background(), "flaky", &bytes.Buffer{}, plugin.MountParams{}))
	assert.Equal(t, int32(2), loads.Load())
}

func TestApplications_Errors(t *testing.T) {
	t.Parallel()

	apps := plugin.NewApplications()
	load := func(context.Context) (plugin.Page, error) { return echoPage{}, nil }

	require.ErrorIs(t, apps.Register(plugin.App{ID: "x"}), plugin.ErrInvalidApp)
	require.ErrorIs(t, apps.Register(plugin.App{Load: load}), plugin.ErrInvalidApp)
	require.NoError(t, apps.Register(plugin.App{ID: "x", Load: load}))
	require.ErrorIs(t, apps.Register(plugin.App{ID: "x", Load: load}), plugin.ErrDuplicateApp)
	require.ErrorIs(t, apps.Mount(context.Background(), "y", &bytes.Buffer{}, plugin.MountParams{}), plugin.ErrUnknownApp)
}

func TestApplications_ListOrder(t *testing.T) {
	t.Parallel()

	apps := plugin.NewApplications()
	load := func(context.Context) (plugin.Page, error) { return echoPage{}, nil }

	require.NoError(t, apps.Register(plugin.App{ID: "c", Order: 1, Category: plugin.Category{Order: 10}, Load: load}))
	require.NoError(t, apps.Register(plugin.App{ID: "b", Order: 2, Category: plugin.Category{Order: 1}, Load: load}))
	require.NoError(t, apps.Register(plugin.App{ID: "a", Order: 2, Category: plugin.Category{Order: 1}, Load: load}))
	require.NoError(t, apps.Register(plugin.App{ID: "d", Order: 1, Category: plugin.Category{Order: 1}, Load: load}))

	ids := make([]string, 0, 4)
	for _, app := range apps.List() {
		ids = append(ids, app.ID)
	}

	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)
}
