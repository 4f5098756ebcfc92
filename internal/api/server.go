// Package api serves the sweeper's HTTP surface: the live status of the
// running sweep, an interactive chart of its data, and read access to the
// dataset vault.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/labsweep/internal/chart"
	"github.com/banshee-data/labsweep/internal/db"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/sweep"
	"github.com/banshee-data/labsweep/internal/sweeperr"
	"github.com/banshee-data/labsweep/internal/version"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	board *Board
	db    *db.DB
}

// NewServer serves board and, when vault is non-nil, the stored datasets.
func NewServer(board *Board, vault *db.DB) *Server {
	return &Server{board: board, db: vault}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.HandleFunc("GET /api/sweep/status", s.showStatus)
	mux.HandleFunc("GET /api/sweep/chart", s.showLiveChart)
	mux.HandleFunc("GET /api/datasets", s.listDatasets)
	mux.HandleFunc("GET /api/datasets/{id}", s.showDataset)
	mux.HandleFunc("GET /api/datasets/{id}/csv", s.downloadCSV)
	mux.HandleFunc("GET /api/datasets/{id}/chart", s.showDatasetChart)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("[api] failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no dataset vault configured")
		return false
	}
	return true
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.board.Status()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "no sweep running")
		return
	}
	s.writeJSON(w, st)
}

// columns resolves the x, y and split query parameters against header.
// Each may be a column number or name; y may be comma separated. Missing
// parameters fall back to the given defaults.
// resolveColumn accepts a column index or a column name.
func resolveColumn(header []string, v string) (int, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	return chart.ColumnIndex(header, v)
}

func columns(r *http.Request, header []string, defX int, defY []int, defSplit int) (int, []int, int, error) {
	resolve := func(v string) (int, error) { return resolveColumn(header, v) }

	x := defX
	if v := r.URL.Query().Get("x"); v != "" {
		n, err := resolve(v)
		if err != nil {
			return 0, nil, 0, err
		}
		x = n
	}
	y := defY
	if v := r.URL.Query().Get("y"); v != "" {
		y = nil
		for _, part := range strings.Split(v, ",") {
			n, err := resolve(part)
			if err != nil {
				return 0, nil, 0, err
			}
			y = append(y, n)
		}
	}
	split := defSplit
	if v := r.URL.Query().Get("split"); v != "" {
		if v == "none" {
			split = -1
		} else {
			n, err := resolve(v)
			if err != nil {
				return 0, nil, 0, err
			}
			split = n
		}
	}
	return x, y, split, nil
}

func (s *Server) renderChart(w http.ResponseWriter, r *http.Request, title, subtitle string, header []string, rows [][]float64, nAxes, nIndependents int) {
	if r.URL.Query().Get("kind") == "map" {
		s.renderMap(w, r, title, header, rows, nAxes, nIndependents)
		return
	}
	defX, defY, defSplit := chart.DefaultColumns(nAxes, nIndependents, len(header))
	x, y, split, err := columns(r, header, defX, defY, defSplit)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	series, err := chart.Lines(header, rows, x, y, split)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	yLabel := ""
	if len(y) == 1 {
		yLabel = header[y[0]]
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := chart.RenderLinesHTML(w, chart.Labels{Title: title, X: header[x], Y: yLabel}, subtitle, series); err != nil {
		monitoring.Logf("[api] failed to render chart: %v", err)
	}
}

// renderMap draws a colour map of one dependent column over two swept
// columns. By default x and y are the channels of the first two axes and z
// is the first dependent; x, y and z may be overridden by index or name.
func (s *Server) renderMap(w http.ResponseWriter, r *http.Request, title string, header []string, rows [][]float64, nAxes, nIndependents int) {
	q := r.URL.Query()
	if nAxes < 2 && q.Get("y") == "" {
		s.writeJSONError(w, http.StatusBadRequest, "a colour map needs two axes or an explicit y column")
		return
	}
	x, _, _ := chart.DefaultColumns(nAxes, nIndependents, len(header))
	y, z := x+1, nIndependents
	for _, p := range []struct {
		key string
		dst *int
	}{{"x", &x}, {"y", &y}, {"z", &z}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := resolveColumn(header, v)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		*p.dst = n
	}

	var buf bytes.Buffer
	if err := chart.RenderMapHTML(&buf, chart.Labels{Title: title}, header, rows, x, y, z); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		monitoring.Logf("[api] failed to write colour map: %v", err)
	}
}

func (s *Server) showLiveChart(w http.ResponseWriter, r *http.Request) {
	st, ok := s.board.Status()
	if !ok || len(st.Header) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no sweep data yet")
		return
	}
	title := st.DatasetName
	if title == "" {
		title = "sweep " + st.RunID
	}
	subtitle := fmt.Sprintf("%s, %d of %d points", st.Mode, st.Rows, st.TotalSteps+1)
	s.renderChart(w, r, title, subtitle, st.Header, s.board.Rows(), len(st.Axes), len(st.Axes)+len(st.Swept))
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	list, err := s.db.ListDatasets()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list datasets: %v", err))
		return
	}
	s.writeJSON(w, list)
}

// datasetView is the JSON form of a stored dataset without its rows.
type datasetView struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Location     []string           `json:"location"`
	Independents []string           `json:"independents"`
	Dependents   []string           `json:"dependents"`
	Comments     []datasetComment   `json:"comments"`
	Parameters   []datasetParameter `json:"parameters"`
	Rows         int                `json:"rows"`
}

type datasetComment struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

type datasetParameter struct {
	Name  string       `json:"name"`
	Units string       `json:"units,omitempty"`
	Value sweep.Sample `json:"value"`
}

func (s *Server) dataset(w http.ResponseWriter, r *http.Request) (datasetView, [][]float64, bool) {
	if !s.requireDB(w) {
		return datasetView{}, nil, false
	}
	rec, err := s.db.Dataset(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sweeperr.ErrInvalidArgument) {
			s.writeJSONError(w, http.StatusNotFound, err.Error())
		} else {
			s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		}
		return datasetView{}, nil, false
	}
	view := datasetView{
		ID:           rec.ID,
		Name:         rec.Name,
		Location:     rec.Location,
		Independents: rec.Independents,
		Dependents:   rec.Dependents,
		Comments:     []datasetComment{},
		Parameters:   []datasetParameter{},
		Rows:         len(rec.Rows),
	}
	for _, c := range rec.Comments {
		view.Comments = append(view.Comments, datasetComment{Text: c.Text, Author: c.Author})
	}
	for _, p := range rec.Parameters {
		view.Parameters = append(view.Parameters, datasetParameter{Name: p.Name, Units: p.Units, Value: sweep.Sample(p.Value)})
	}
	return view, rec.Rows, true
}

func (s *Server) showDataset(w http.ResponseWriter, r *http.Request) {
	view, _, ok := s.dataset(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, view)
}

func (s *Server) downloadCSV(w http.ResponseWriter, r *http.Request) {
	view, _, ok := s.dataset(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", csvFilename(view.Name, view.ID)))
	if err := s.db.ExportCSV(w, view.ID); err != nil {
		monitoring.Logf("[api] CSV export of %s failed: %v", view.ID, err)
	}
}

// csvFilename builds a download name from the dataset name, keeping only
// characters that are safe in a filename.
func csvFilename(name, id string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		b.WriteString(id)
	}
	return b.String() + ".csv"
}

func (s *Server) showDatasetChart(w http.ResponseWriter, r *http.Request) {
	view, rows, ok := s.dataset(w, r)
	if !ok {
		return
	}
	header := append(append([]string(nil), view.Independents...), view.Dependents...)
	nAxes := indexColumns(rows, len(view.Independents))
	subtitle := strings.Join(view.Location, "/")
	s.renderChart(w, r, view.Name, subtitle, header, rows, nAxes, len(view.Independents))
}

// indexColumns counts the leading columns that hold grid indices: every
// value a non-negative integer. At least one independent column is left
// for the x axis.
func indexColumns(rows [][]float64, nIndependents int) int {
	n := 0
	for c := 0; c < nIndependents-1; c++ {
		for _, row := range rows {
			v := row[c]
			if v < 0 || v != math.Trunc(v) {
				return n
			}
		}
		n++
	}
	return n
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.db.ListRuns(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	s.writeJSON(w, runs)
}
