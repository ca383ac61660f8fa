package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/twin.bridge/internal/anglemap"
	"github.com/banshee-data/twin.bridge/internal/db"
	"github.com/banshee-data/twin.bridge/internal/httputil"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 5000
)

// parseLimit reads ?limit=, defaulting to def and capping at maxHistoryLimit.
func parseLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter")
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

// historyRequest validates the method, store and limit shared by the
// history endpoints. It writes the error response itself.
func (s *Server) historyRequest(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return 0, false
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "history is not being recorded")
		return 0, false
	}
	limit, err := parseLimit(r, def)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return 0, false
	}
	return limit, true
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyRequest(w, r, defaultHistoryLimit)
	if !ok {
		return
	}
	rows, err := s.db.RecentReadings(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return
	}
	if rows == nil {
		rows = []db.ReadingRow{}
	}
	httputil.WriteJSONOK(w, rows)
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyRequest(w, r, defaultHistoryLimit)
	if !ok {
		return
	}
	cmds, err := s.db.RecentCommands(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve commands: %v", err))
		return
	}
	if cmds == nil {
		cmds = []db.CommandRecord{}
	}
	httputil.WriteJSONOK(w, cmds)
}

// JointStats summarises one joint's presentation angle over a window.
type JointStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
}

// Stats is the /api/stats response.
type Stats struct {
	Samples  int                   `json:"samples"`
	Joints   map[string]JointStats `json:"joints"`
	Distance *JointStats           `json:"distance,omitempty"`
}

func summarise(x []float64) JointStats {
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 {
		std = 0
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	return JointStats{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(x),
		Max:    floats.Max(x),
		P50:    stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
}

// ComputeStats summarises rows per joint and for distance. Empty input
// yields zero samples and no joints.
func ComputeStats(rows []db.ReadingRow) Stats {
	out := Stats{Samples: len(rows), Joints: map[string]JointStats{}}
	if len(rows) == 0 {
		return out
	}
	series := make(map[anglemap.Joint][]float64, len(anglemap.Joints))
	dist := make([]float64, 0, len(rows))
	for _, row := range rows {
		for _, j := range anglemap.Joints {
			series[j] = append(series[j], float64(row.Joint(j)))
		}
		dist = append(dist, float64(row.Distance))
	}
	for _, j := range anglemap.Joints {
		out.Joints[j.String()] = summarise(series[j])
	}
	d := summarise(dist)
	out.Distance = &d
	return out
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyRequest(w, r, 500)
	if !ok {
		return
	}
	rows, err := s.db.RecentReadings(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return
	}
	httputil.WriteJSONOK(w, ComputeStats(rows))
}
