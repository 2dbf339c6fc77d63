package admin

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/event"
	"github.com/strata-world/strata/server/game"
	"github.com/strata-world/strata/server/snapshot"
)

func newServer(t *testing.T) (*game.Game, *httptest.Server) {
	t.Helper()
	g := game.New(game.Config{TickRateDisabled: true})
	snaps, err := snapshot.Open(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	h := NewHandler(Config{Game: g, Snapshots: snaps, ServerVersion: "test"})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		snaps.Close()
		g.Close()
	})
	return g, srv
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func get(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d", url, resp.StatusCode)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

func TestHealth(t *testing.T) {
	_, srv := newServer(t)
	var body map[string]string
	get(t, srv.URL+"/healthz", &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health %v", body)
	}
}

func TestLayerLifecycle(t *testing.T) {
	_, srv := newServer(t)

	resp := post(t, srv.URL+"/layers", map[string]any{"id": "cave", "chunkSize": 16})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create layer: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Duplicate id conflicts.
	resp = post(t, srv.URL+"/layers", map[string]any{"id": "cave"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate layer: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	var layers []map[string]any
	get(t, srv.URL+"/layers", &layers)
	if len(layers) != 2 {
		t.Fatalf("expected default+cave, got %v", layers)
	}
}

func TestArchetypeAndSpawn(t *testing.T) {
	g, srv := newServer(t)

	resp := post(t, srv.URL+"/archetypes", map[string]any{
		"id": "crate",
		"contracts": []map[string]any{
			{"kind": "identity", "id": "t", "name": "crate"},
			{"kind": "mobility", "position": map[string]float64{"x": 0, "y": 0, "z": 0}},
			{"kind": "portable", "canPickup": true, "weight": 2},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("define: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post(t, srv.URL+"/spawn", map[string]any{
		"archetypeId": "crate",
		"position":    map[string]float64{"x": 5, "y": 1, "z": 5},
		"overrides":   map[string]any{"portable": map[string]any{"weight": 9}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("spawn: status %d", resp.StatusCode)
	}
	var spawned map[string]string
	json.NewDecoder(resp.Body).Decode(&spawned)
	resp.Body.Close()
	id := spawned["entityId"]
	if id == "" {
		t.Fatal("spawn returned no entity id")
	}

	<-g.Exec(func() {
		c, ok := g.Store().Get(id, contract.KindPortable)
		if !ok || c.(contract.Portable).Weight != 9 {
			t.Errorf("override not applied: %+v", c)
		}
	})

	// Invalid contract kind rejected.
	resp = post(t, srv.URL+"/archetypes", map[string]any{
		"id":        "bad",
		"contracts": []map[string]any{{"kind": "nope"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad archetype: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g, srv := newServer(t)

	<-g.Exec(func() {
		if err := g.Store().Create("rock",
			contract.Identity{ID: "rock"},
			contract.Mobility{Position: contract.Vec3{X: 1, Y: 1, Z: 1}},
		); err != nil {
			t.Errorf("create: %v", err)
		}
	})

	resp := post(t, srv.URL+"/save", map[string]string{"name": "w1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	<-g.Exec(func() { g.Store().Remove("rock") })

	resp = post(t, srv.URL+"/load", map[string]string{"name": "w1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	<-g.Exec(func() {
		if !g.Store().Has("rock") {
			t.Error("entity not restored")
		}
	})

	resp = post(t, srv.URL+"/load", map[string]string{"name": "missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing snapshot: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStats(t *testing.T) {
	_, srv := newServer(t)
	var stats map[string]any
	get(t, srv.URL+"/stats", &stats)
	for _, key := range []string{"entities", "chunksLoaded", "layers", "uptimeSeconds"} {
		if _, ok := stats[key]; !ok {
			t.Fatalf("stats missing %q: %v", key, stats)
		}
	}
}

func TestMetricsExposed(t *testing.T) {
	_, srv := newServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "strata_entities") {
		t.Fatalf("metrics output missing gauges: %s", buf.String()[:min(200, buf.Len())])
	}
}

func TestEventStream(t *testing.T) {
	g, srv := newServer(t)

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(100 * time.Millisecond)
	g.Hub().Publish(event.Event{Type: "test_event", Entity: "e"})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev event.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if ev.Type != "test_event" || ev.Entity != "e" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
