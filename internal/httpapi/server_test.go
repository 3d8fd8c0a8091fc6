package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ts826848/stellaris-dashboard/internal/derive"
	"github.com/ts826848/stellaris-dashboard/internal/game"
	"github.com/ts826848/stellaris-dashboard/internal/history"
	"github.com/ts826848/stellaris-dashboard/internal/ingest"
	"github.com/ts826848/stellaris-dashboard/internal/notify"
)

func newTestServer(t *testing.T) (*httptest.Server, *history.Store, *notify.Hub) {
	t.Helper()
	dir := t.TempDir()
	store, err := history.Open(filepath.Join(dir, "history.sqlite"), filepath.Join(dir, "archives"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := log.New(io.Discard, "", 0)
	hub := notify.NewHub(logger)
	s := NewServer(store, hub, func() ingest.Stats { return ingest.Stats{OK: 5, Failed: 1} }, logger)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, store, hub
}

func seedPlaythrough(t *testing.T, store *history.Store) string {
	t.Helper()
	date, _ := game.ParseDate("2245.01.01")
	err := store.CommitSnapshot(context.Background(), history.Commit{
		PlaythroughID:   "pt1",
		PlaythroughName: "UNE",
		PlayerCountry:   "United Nations of Earth",
		Snapshot: history.SnapshotRecord{
			PlaythroughID: "pt1", Date: date, SourcePath: "/saves/a.sav",
			Countries: 2, Systems: 1,
		},
		Events: []derive.Event{
			{Category: derive.CatPlaythroughStarted, Date: date, EntityID: game.NoneID, CountryID: 0, TargetID: game.NoneID},
			{Category: derive.CatOwnershipGained, Date: date, EntityID: 7, CountryID: 0, TargetID: game.NoneID, Detail: map[string]any{"system": "Sol"}},
		},
		Ownership: []derive.OwnershipChange{{SystemID: 7, NewOwner: 0}},
		Points:    []derive.Point{{Series: "country.0.budget.energy.net", Date: date, Value: 7.5}},
		File:      history.FileRecord{Path: "/saves/a.sav", Status: history.StatusOK, Attempts: 1},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return "pt1"
}

func getJSON(t *testing.T, url string, wantStatus int, into any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s: status %d, want %d (%s)", url, resp.StatusCode, wantStatus, body)
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestStatusAndCheckVersion(t *testing.T) {
	srv, _, hub := newTestServer(t)

	var st statusResponse
	getJSON(t, srv.URL+"/api/status", http.StatusOK, &st)
	if st.Version != Version || st.Ingest.OK != 5 {
		t.Fatalf("status = %+v", st)
	}
	if st.LastCommit != nil {
		t.Fatalf("last_commit before any ingest = %+v", st.LastCommit)
	}

	date, _ := game.ParseDate("2245.01.01")
	hub.SnapshotCommitted("pt1", date)
	getJSON(t, srv.URL+"/api/status", http.StatusOK, &st)
	if st.LastCommit == nil || st.LastCommit.PlaythroughID != "pt1" || st.LastCommit.Date != "2245.01.01" {
		t.Fatalf("last_commit after ingest = %+v", st.LastCommit)
	}

	var cv checkVersionResponse
	getJSON(t, srv.URL+"/api/checkversion/"+Version, http.StatusOK, &cv)
	if cv.Outdated {
		t.Fatalf("current version flagged outdated: %+v", cv)
	}
	getJSON(t, srv.URL+"/api/checkversion/v0.0.1", http.StatusOK, &cv)
	if !cv.Outdated || cv.Current != Version || cv.Requested != "v0.0.1" {
		t.Fatalf("old version not flagged: %+v", cv)
	}
}

func TestPlaythroughEndpoints(t *testing.T) {
	srv, store, _ := newTestServer(t)
	pt := seedPlaythrough(t, store)

	var pts []history.Playthrough
	getJSON(t, srv.URL+"/api/playthroughs", http.StatusOK, &pts)
	if len(pts) != 1 || pts[0].ID != pt || pts[0].Name != "UNE" {
		t.Fatalf("playthroughs = %+v", pts)
	}

	var latest latestResponse
	getJSON(t, srv.URL+"/api/latest", http.StatusOK, &latest)
	if latest.Playthrough.ID != pt {
		t.Fatalf("latest = %+v", latest)
	}

	var snaps []history.SnapshotRecord
	getJSON(t, srv.URL+"/api/playthroughs/"+pt+"/snapshots", http.StatusOK, &snaps)
	if len(snaps) != 1 || snaps[0].Status != history.StatusOK {
		t.Fatalf("snapshots = %+v", snaps)
	}

	var names []string
	getJSON(t, srv.URL+"/api/playthroughs/"+pt+"/series", http.StatusOK, &names)
	if len(names) != 1 || names[0] != "country.0.budget.energy.net" {
		t.Fatalf("series = %v", names)
	}

	var points []derive.Point
	getJSON(t, srv.URL+"/api/playthroughs/"+pt+"/timeseries?series=country.0.budget.energy.net", http.StatusOK, &points)
	if len(points) != 1 || points[0].Value != 7.5 {
		t.Fatalf("points = %+v", points)
	}

	var events []history.EventRecord
	getJSON(t, srv.URL+"/api/playthroughs/"+pt+"/events", http.StatusOK, &events)
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	getJSON(t, srv.URL+"/api/playthroughs/"+pt+"/events?category=system_ownership_gained", http.StatusOK, &events)
	if len(events) != 1 || events[0].Category != derive.CatOwnershipGained {
		t.Fatalf("filtered events = %+v", events)
	}

	var ivs []history.OwnershipInterval
	getJSON(t, srv.URL+"/api/playthroughs/"+pt+"/ownership", http.StatusOK, &ivs)
	if len(ivs) != 1 || ivs[0].SystemID != 7 {
		t.Fatalf("ownership = %+v", ivs)
	}
}

func TestErrorResponses(t *testing.T) {
	srv, store, _ := newTestServer(t)

	var e apiError
	getJSON(t, srv.URL+"/api/latest", http.StatusNotFound, &e)
	if e.Code != CodeNotFound {
		t.Fatalf("latest on empty store = %+v", e)
	}

	getJSON(t, srv.URL+"/api/playthroughs/nope/snapshots", http.StatusNotFound, &e)
	if e.Code != CodeNotFound {
		t.Fatalf("unknown playthrough = %+v", e)
	}

	pt := seedPlaythrough(t, store)
	getJSON(t, srv.URL+"/api/playthroughs/"+pt+"/timeseries", http.StatusBadRequest, &e)
	if e.Code != CodeBadRequest {
		t.Fatalf("missing series param = %+v", e)
	}
	getJSON(t, srv.URL+"/api/playthroughs/"+pt+"/events?from=2245.99.99", http.StatusBadRequest, &e)
	if e.Code != CodeBadRequest {
		t.Fatalf("bad date = %+v", e)
	}
	getJSON(t, srv.URL+"/api/playthroughs/"+pt+"/events?category=nonsense", http.StatusBadRequest, &e)
	if e.Code != CodeBadRequest {
		t.Fatalf("unknown category = %+v", e)
	}
}

func TestEmptyCollectionsAreArrays(t *testing.T) {
	srv, store, _ := newTestServer(t)
	pt := seedPlaythrough(t, store)

	resp, err := http.Get(srv.URL + "/api/playthroughs/" + pt + "/timeseries?series=unknown.series")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "[]\n" {
		t.Fatalf("empty result = %q, want JSON array", body)
	}
}
