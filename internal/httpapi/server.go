// Package httpapi serves the read-only query interface over the history
// store plus the websocket notification endpoint.
package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ts826848/stellaris-dashboard/internal/derive"
	"github.com/ts826848/stellaris-dashboard/internal/game"
	"github.com/ts826848/stellaris-dashboard/internal/history"
	"github.com/ts826848/stellaris-dashboard/internal/ingest"
	"github.com/ts826848/stellaris-dashboard/internal/notify"
)

// Version is reported by /api/status and compared by /api/checkversion.
const Version = "v0.1.5"

type Server struct {
	store *history.Store
	hub   *notify.Hub
	stats func() ingest.Stats
	log   *log.Logger

	started time.Time
}

func NewServer(store *history.Store, hub *notify.Hub, stats func() ingest.Stats, logger *log.Logger) *Server {
	return &Server{
		store:   store,
		hub:     hub,
		stats:   stats,
		log:     logger,
		started: time.Now(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/latest", s.handleLatest)
		r.Get("/checkversion/{version}", s.handleCheckVersion)
		r.Get("/playthroughs", s.handlePlaythroughs)
		r.Route("/playthroughs/{id}", func(r chi.Router) {
			r.Get("/snapshots", s.handleSnapshots)
			r.Get("/series", s.handleSeries)
			r.Get("/timeseries", s.handleTimeseries)
			r.Get("/events", s.handleEvents)
			r.Get("/ownership", s.handleOwnership)
		})
	})
	r.Get("/ws", s.hub.Handler())
	return r
}

type statusResponse struct {
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Ingest        ingest.Stats    `json:"ingest"`
	Subscribers   int             `json:"subscribers"`
	LastCommit    *notify.Message `json:"last_commit,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Ingest:        s.stats(),
		Subscribers:   s.hub.Subscribers(),
		LastCommit:    s.hub.Latest(),
	})
}

type checkVersionResponse struct {
	Current   string `json:"current"`
	Requested string `json:"requested"`
	Outdated  bool   `json:"outdated"`
}

func (s *Server) handleCheckVersion(w http.ResponseWriter, r *http.Request) {
	requested := chi.URLParam(r, "version")
	writeJSON(w, http.StatusOK, checkVersionResponse{
		Current:   Version,
		Requested: requested,
		Outdated:  requested != Version,
	})
}

func (s *Server) handlePlaythroughs(w http.ResponseWriter, r *http.Request) {
	pts, err := s.store.Playthroughs(r.Context())
	if err != nil {
		s.log.Printf("playthroughs: %v", err)
		internal(w, "query failed")
		return
	}
	if pts == nil {
		pts = []history.Playthrough{}
	}
	writeJSON(w, http.StatusOK, pts)
}

type latestResponse struct {
	Playthrough history.Playthrough `json:"playthrough"`
	IngestedAt  time.Time           `json:"ingested_at"`
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Latest(r.Context())
	if err != nil {
		s.log.Printf("latest: %v", err)
		internal(w, "query failed")
		return
	}
	if p == nil {
		notFound(w, "no playthroughs ingested yet")
		return
	}
	writeJSON(w, http.StatusOK, latestResponse{Playthrough: *p, IngestedAt: p.LastIngestAt})
}

// playthrough resolves {id} or writes the 404 itself.
func (s *Server) playthrough(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	p, err := s.store.Playthrough(r.Context(), id)
	if err != nil {
		s.log.Printf("playthrough %s: %v", id, err)
		internal(w, "query failed")
		return "", false
	}
	if p == nil {
		notFound(w, "unknown playthrough")
		return "", false
	}
	return id, true
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playthrough(w, r)
	if !ok {
		return
	}
	snaps, err := s.store.Snapshots(r.Context(), id)
	if err != nil {
		s.log.Printf("snapshots %s: %v", id, err)
		internal(w, "query failed")
		return
	}
	if snaps == nil {
		snaps = []history.SnapshotRecord{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playthrough(w, r)
	if !ok {
		return
	}
	names, err := s.store.SeriesNames(r.Context(), id)
	if err != nil {
		s.log.Printf("series %s: %v", id, err)
		internal(w, "query failed")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// dateRange parses optional from/to query params as in-game dates.
func dateRange(r *http.Request) (from, to game.Date, err error) {
	from, to = 0, -1
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = game.ParseDate(v); err != nil {
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = game.ParseDate(v); err != nil {
			return
		}
	}
	return
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playthrough(w, r)
	if !ok {
		return
	}
	series := r.URL.Query().Get("series")
	if series == "" {
		badRequest(w, "missing series parameter")
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		badRequest(w, "bad date: "+err.Error())
		return
	}
	points, err := s.store.Timeseries(r.Context(), id, series, from, to)
	if err != nil {
		s.log.Printf("timeseries %s/%s: %v", id, series, err)
		internal(w, "query failed")
		return
	}
	if points == nil {
		points = []derive.Point{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playthrough(w, r)
	if !ok {
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		badRequest(w, "bad date: "+err.Error())
		return
	}
	var categories []derive.Category
	for _, c := range r.URL.Query()["category"] {
		cat := derive.Category(c)
		if !derive.KnownCategory(cat) {
			badRequest(w, "unknown category: "+c)
			return
		}
		categories = append(categories, cat)
	}
	events, err := s.store.Events(r.Context(), id, from, to, categories)
	if err != nil {
		s.log.Printf("events %s: %v", id, err)
		internal(w, "query failed")
		return
	}
	if events == nil {
		events = []history.EventRecord{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleOwnership(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playthrough(w, r)
	if !ok {
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		badRequest(w, "bad date: "+err.Error())
		return
	}
	ivs, err := s.store.Ownership(r.Context(), id, from, to)
	if err != nil {
		s.log.Printf("ownership %s: %v", id, err)
		internal(w, "query failed")
		return
	}
	if ivs == nil {
		ivs = []history.OwnershipInterval{}
	}
	writeJSON(w, http.StatusOK, ivs)
}
