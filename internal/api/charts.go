package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/twin.bridge/internal/anglemap"
	"github.com/banshee-data/twin.bridge/internal/db"
	"github.com/banshee-data/twin.bridge/internal/httputil"
)

// echartsAssetsHost serves the ECharts JS; override to host assets locally.
var echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// jointChart renders recent joint angles as an HTML line chart.
// Query params:
//   - limit (optional; default 300) number of most recent readings
func (s *Server) jointChart(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyRequest(w, r, 300)
	if !ok {
		return
	}
	rows, err := s.db.RecentReadings(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return
	}

	var buf bytes.Buffer
	if err := renderJointChart(&buf, rows); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// renderJointChart plots rows oldest first; RecentReadings returns them
// newest first.
func renderJointChart(buf *bytes.Buffer, rows []db.ReadingRow) error {
	n := len(rows)
	xs := make([]string, n)
	series := make(map[anglemap.Joint][]opts.LineData, len(anglemap.Joints))
	for i := range rows {
		row := rows[n-1-i]
		xs[i] = row.UpdatedAt.Format("15:04:05.000")
		for _, j := range anglemap.Joints {
			series[j] = append(series[j], opts.LineData{Value: row.Joint(j)})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Joint angles", Theme: "dark", Width: "1000px", Height: "500px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Joint angles", Subtitle: fmt.Sprintf("%d readings", n)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "degrees", Min: -180, Max: 180}),
	)
	line.SetXAxis(xs)
	for _, j := range anglemap.Joints {
		line.AddSeries("joint "+j.String(), series[j], charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line.Render(buf)
}
