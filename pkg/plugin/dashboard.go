package plugin

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/render"
)

const visParam = "vis"

// dashboardPage lists the detectors overlaid on a visualization.
type dashboardPage struct {
	services *Services
}

func (d *dashboardPage) Render(_ context.Context, w io.Writer, params MountParams) error {
	page := &render.Page{
		Title:    AppTitle,
		Subtitle: "Detectors overlaid on visualizations.",
		Hint: render.Hint{
			Title: "Usage:",
			Items: []string{
				"Add ?vis=<visualization id> to list its detectors",
				"Link detectors with `adplugin overlay --save`",
			},
		},
	}

	visID := params.Query.Get(visParam)
	if visID == "" {
		return page.Render(w)
	}

	loader, err := d.services.SavedObjectLoader()
	if err != nil {
		return err
	}

	links, err := loader.FindByVis(visID)
	if err != nil {
		return fmt.Errorf("find detectors of %s: %w", visID, err)
	}

	now := time.Now()

	tbl := table.NewWriter()
	tbl.AppendHeader(table.Row{"Detector", "Title", "Linked"})

	for _, link := range links {
		tbl.AppendRow(table.Row{link.DetectorID, link.Title, humanize.RelTime(link.CreatedAt, now, "ago", "from now")})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%d detectors", len(links))})

	page.Subtitle = "Detectors overlaid on " + visID + "."
	page.Body = template.HTML(tbl.RenderHTML()) //nolint:gosec // go-pretty escapes cell text.

	return page.Render(w)
}
