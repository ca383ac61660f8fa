// Command twin-plot renders recorded arm telemetry to PNG charts. Readings
// come from a bridge database file or from a running bridge's history API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/twin.bridge/internal/db"
	"github.com/banshee-data/twin.bridge/internal/httputil"
	"github.com/banshee-data/twin.bridge/internal/monitoring"
)

var (
	dbPath   = flag.String("db-path", "", "Bridge database to read")
	apiURL   = flag.String("url", "", "Base URL of a running bridge, e.g. http://localhost:8080")
	limit    = flag.Int("limit", 1000, "Number of recent readings to plot")
	since    = flag.Duration("since", 0, "Plot readings from this long ago (database only; overrides -limit)")
	outDir   = flag.String("out", "plots", "Output directory")
	logLevel = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()
	monitoring.Configure(*logLevel)

	rows, source, err := loadRows()
	if err != nil {
		monitoring.Logger().Fatalf("Failed to load readings: %v", err)
	}
	if len(rows) == 0 {
		monitoring.Logger().Fatalf("No readings in %s", source)
	}

	files, err := render(rows, source, *outDir)
	if err != nil {
		monitoring.Logger().Fatalf("Failed to render plots: %v", err)
	}
	for _, f := range files {
		monitoring.Infof("Wrote %s", f)
	}
}

func loadRows() ([]db.ReadingRow, string, error) {
	switch {
	case *dbPath != "" && *apiURL != "":
		return nil, "", fmt.Errorf("-db-path and -url are mutually exclusive")
	case *dbPath != "":
		d, err := db.NewDB(*dbPath)
		if err != nil {
			return nil, "", err
		}
		defer d.Close()
		if *since > 0 {
			rows, err := d.ReadingsSince(time.Now().Add(-*since))
			return rows, *dbPath, err
		}
		rows, err := d.RecentReadings(*limit)
		return rows, *dbPath, err
	case *apiURL != "":
		client, err := httputil.NewBridgeClient(*apiURL, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			return nil, "", err
		}
		rows, err := fetchHistory(context.Background(), client, *limit)
		return rows, *apiURL, err
	}
	return nil, "", fmt.Errorf("one of -db-path or -url is required")
}

// fetchHistory reads the n most recent readings from a bridge's /api/history.
func fetchHistory(ctx context.Context, client *httputil.BridgeClient, n int) ([]db.ReadingRow, error) {
	var rows []db.ReadingRow
	q := url.Values{"limit": {strconv.Itoa(n)}}
	if err := client.GetJSON(ctx, "/api/history", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// render writes the joint and distance charts into dir and returns their paths.
func render(rows []db.ReadingRow, source, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	s := buildSeries(rows)

	joints := filepath.Join(dir, "joints.png")
	if err := renderJoints(s, fmt.Sprintf("Joint angles (%s)", source), joints); err != nil {
		return nil, err
	}
	distance := filepath.Join(dir, "distance.png")
	if err := renderDistance(s, fmt.Sprintf("Distance (%s)", source), distance); err != nil {
		return nil, err
	}
	return []string{joints, distance}, nil
}
