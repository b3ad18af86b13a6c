package render

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
)

//go:embed templates/page.html
var pageTemplateText string

var pageTemplate = template.Must(template.New("page").Parse(pageTemplateText))

const styleTagLen = len("</style>")

// Renderable is anything that writes itself as HTML, such as a go-echarts chart.
type Renderable interface {
	Render(w io.Writer) error
}

// Hint is interpretive guidance shown below the chart.
type Hint struct {
	Title string
	Items []string
}

// Stat is one headline number.
type Stat struct {
	Label string
	Value string
}

// Page is a standalone HTML document around one chart.
type Page struct {
	Title    string
	Subtitle string
	Stats    []Stat
	Hint     Hint
	// Chart is rendered without its own page wrapper. Optional.
	Chart Renderable
	// Body is trusted HTML placed after the chart. Optional.
	Body template.HTML
}

type pageData struct {
	Title    string
	Subtitle string
	Stats    []Stat
	Hint     Hint
	Chart    template.HTML
	Body     template.HTML
}

// OverlayPage builds the page for an augmented vis: the chart, match counts
// and how to read it.
func OverlayPage(detectorID string, data overlay.VisData) (*Page, error) {
	chart, err := BuildChart(data)
	if err != nil {
		return nil, err
	}

	rows := len(data.Table.Rows)
	flagged := 0

	for _, row := range data.Table.Rows {
		if _, ok := row[overlay.ColumnID]; ok {
			flagged++
		}
	}

	return &Page{
		Title:    "Anomalies of " + detectorID,
		Subtitle: "Detector results overlaid on the visualization's primary series.",
		Stats: []Stat{
			{Label: "Buckets", Value: humanize.Comma(int64(rows))},
			{Label: "Anomalous buckets", Value: humanize.Comma(int64(flagged))},
		},
		Hint: Hint{
			Title: "How to interpret:",
			Items: []string{
				"Lines show the visualization's own series",
				"Red markers sit on buckets containing at least one anomaly's midpoint",
				"The last bucket has no upper edge and never carries a marker",
			},
		},
		Chart: chart,
	}, nil
}

// Render writes the page as HTML.
func (p *Page) Render(w io.Writer) error {
	chartHTML, err := chartFragment(p.Chart)
	if err != nil {
		return err
	}

	data := pageData{
		Title:    p.Title,
		Subtitle: p.Subtitle,
		Stats:    p.Stats,
		Hint:     p.Hint,
		Chart:    chartHTML,
		Body:     p.Body,
	}

	err = pageTemplate.Execute(w, data)
	if err != nil {
		return fmt.Errorf("render page: %w", err)
	}

	return nil
}

// chartFragment renders chart and keeps only its container div and script.
func chartFragment(chart Renderable) (template.HTML, error) {
	if chart == nil {
		return "", nil
	}

	var buf bytes.Buffer

	err := chart.Render(&buf)
	if err != nil {
		return "", fmt.Errorf("rendering chart: %w", err)
	}

	return template.HTML(extractChartContent(buf.String())), nil //nolint:gosec // echarts output.
}

func extractChartContent(html string) string {
	trimmed := strings.TrimSpace(html)
	if !strings.HasPrefix(trimmed, "<!DOCTYPE") && !strings.HasPrefix(trimmed, "<html") {
		return html
	}

	start := strings.Index(html, `<div class="container">`)
	if start == -1 {
		return html
	}

	end := strings.Index(html, `</body>`)
	if end == -1 {
		return html
	}

	content := html[start:end]
	content = strings.ReplaceAll(content, `class="container"`, `class="echart-box"`)

	return removeStyleTags(content)
}

func removeStyleTags(content string) string {
	for {
		i := strings.Index(content, `<style>`)
		if i == -1 {
			return content
		}

		j := strings.Index(content[i:], `</style>`)
		if j == -1 {
			return content
		}

		content = content[:i] + content[i+j+styleTagLen:]
	}
}
