// Package admin exposes the operational HTTP surface: layer and archetype
// management, spawning, save/load, stats, health, metrics and the
// development event stream. Every touch of simulation state goes through the
// game executor.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/strata-world/strata/server/archetype"
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/game"
	"github.com/strata-world/strata/server/snapshot"
	"github.com/strata-world/strata/server/world"
)

// Config configures the admin Handler.
type Config struct {
	// Log is the logger. Defaults to slog.Default().
	Log *slog.Logger
	// Game is the simulation. Required.
	Game *game.Game
	// Snapshots persists save/load documents. Optional; without it the
	// save and load endpoints report 503.
	Snapshots *snapshot.Store
	// SessionCount reports connected sessions for /stats. Optional.
	SessionCount func() int
	// ServerVersion is reported by /stats.
	ServerVersion string
}

// Handler is the admin HTTP handler.
type Handler struct {
	conf    Config
	log     *slog.Logger
	router  *mux.Router
	started time.Time
}

// NewHandler builds the admin router.
func NewHandler(conf Config) *Handler {
	if conf.Game == nil {
		panic("admin: handler requires a game")
	}
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	h := &Handler{conf: conf, log: conf.Log, started: time.Now()}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(conf.Game.Metrics().Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/layers", h.handleListLayers).Methods(http.MethodGet)
	r.HandleFunc("/layers", h.handleCreateLayer).Methods(http.MethodPost)
	r.HandleFunc("/archetypes", h.handleListArchetypes).Methods(http.MethodGet)
	r.HandleFunc("/archetypes", h.handleDefineArchetype).Methods(http.MethodPost)
	r.HandleFunc("/spawn", h.handleSpawn).Methods(http.MethodPost)
	r.HandleFunc("/save", h.handleSave).Methods(http.MethodPost)
	r.HandleFunc("/load", h.handleLoad).Methods(http.MethodPost)
	r.HandleFunc("/events", h.handleEvents).Methods(http.MethodGet)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	var stats map[string]any
	g := h.conf.Game
	<-g.Exec(func() {
		stats = map[string]any{
			"entities":       g.Store().Count(),
			"chunksLoaded":   g.Chunks().LoadedCount(),
			"chunksRetained": g.Chunks().RetainedCount(),
			"layers":         len(g.Layers().All()),
			"archetypes":     len(g.Archetypes().List()),
			"players":        g.Archetypes().PlayerCounter(),
		}
	})
	stats["tps"] = g.TPS()
	stats["uptimeSeconds"] = int(time.Since(h.started).Seconds())
	stats["serverVersion"] = h.conf.ServerVersion
	if h.conf.SessionCount != nil {
		stats["sessions"] = h.conf.SessionCount()
	}
	writeJSON(w, http.StatusOK, stats)
}

type layerPayload struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	ChunkSize  float64        `json:"chunkSize,omitempty"`
	Gravity    float64        `json:"gravity,omitempty"`
	Spawn      contract.Vec3  `json:"spawn"`
	Properties map[string]any `json:"properties,omitempty"`
}

func (h *Handler) handleListLayers(w http.ResponseWriter, _ *http.Request) {
	var out []layerPayload
	g := h.conf.Game
	<-g.Exec(func() {
		for _, l := range g.Layers().All() {
			out = append(out, layerPayload{
				ID: l.ID, Name: l.Name, ChunkSize: l.ChunkSize, Gravity: l.Gravity,
				Spawn: contract.Vec3From(l.Spawn), Properties: l.Properties,
			})
		}
	})
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateLayer(w http.ResponseWriter, r *http.Request) {
	var p layerPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if p.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("layer id must not be empty"))
		return
	}
	if p.ChunkSize == 0 {
		p.ChunkSize = 32
	}
	if p.Gravity == 0 {
		p.Gravity = -9.81
	}
	var err error
	g := h.conf.Game
	<-g.Exec(func() {
		err = g.Layers().Create(world.Layer{
			ID: p.ID, Name: p.Name, ChunkSize: p.ChunkSize, Gravity: p.Gravity,
			Spawn: p.Spawn.Mgl(), Properties: p.Properties,
		})
	})
	if errors.Is(err, world.ErrLayerExists) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type archetypePayload struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Contracts []json.RawMessage `json:"contracts"`
}

func (h *Handler) handleListArchetypes(w http.ResponseWriter, _ *http.Request) {
	var out []archetypePayload
	var encodeErr error
	g := h.conf.Game
	<-g.Exec(func() {
		for _, a := range g.Archetypes().List() {
			raws, err := contract.MarshalAll(a.Contracts)
			if err != nil {
				encodeErr = err
				return
			}
			out = append(out, archetypePayload{ID: a.ID, Name: a.Name, Tags: a.Tags, Contracts: raws})
		}
	})
	if encodeErr != nil {
		writeError(w, http.StatusInternalServerError, encodeErr)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDefineArchetype(w http.ResponseWriter, r *http.Request) {
	var p archetypePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	comps := make([]contract.Contract, 0, len(p.Contracts))
	for _, raw := range p.Contracts {
		c, err := contract.Unmarshal(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		comps = append(comps, c)
	}
	var err error
	g := h.conf.Game
	<-g.Exec(func() {
		err = g.Archetypes().Define(archetype.Archetype{ID: p.ID, Name: p.Name, Tags: p.Tags, Contracts: comps})
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type spawnPayload struct {
	ArchetypeID string                    `json:"archetypeId"`
	LayerID     string                    `json:"layerId,omitempty"`
	Position    contract.Vec3             `json:"position"`
	Overrides   map[string]map[string]any `json:"overrides,omitempty"`
}

func (h *Handler) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var p spawnPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	overrides := make(archetype.Overrides, len(p.Overrides))
	for k, v := range p.Overrides {
		overrides[contract.Kind(k)] = v
	}
	var (
		id  string
		err error
	)
	g := h.conf.Game
	<-g.Exec(func() {
		id, err = g.Archetypes().Spawn(p.ArchetypeID, p.LayerID, p.Position, overrides)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"entityId": id})
}

type savePayload struct {
	Name string `json:"name"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	if h.conf.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("persistence disabled"))
		return
	}
	var p savePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if p.Name == "" {
		p.Name = time.Now().UTC().Format("20060102-150405")
	}
	var (
		doc snapshot.Document
		err error
	)
	g := h.conf.Game
	<-g.Exec(func() {
		doc, err = snapshot.Capture(g.Store(), g.Layers(), g.Archetypes())
	})
	if err == nil {
		err = h.conf.Snapshots.Save(p.Name, doc)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.log.Info("snapshot saved", "name", p.Name, "entities", len(doc.Entities))
	writeJSON(w, http.StatusOK, map[string]any{"name": p.Name, "entities": len(doc.Entities)})
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	if h.conf.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("persistence disabled"))
		return
	}
	var p savePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	doc, err := h.conf.Snapshots.Load(p.Name)
	if errors.Is(err, snapshot.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	g := h.conf.Game
	<-g.Exec(func() {
		err = snapshot.Restore(doc, g.Store(), g.Layers(), g.Archetypes())
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.log.Info("snapshot loaded", "name", p.Name, "entities", len(doc.Entities))
	writeJSON(w, http.StatusOK, map[string]any{"entities": len(doc.Entities)})
}

// handleEvents streams development events as newline-delimited JSON until
// the client disconnects.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	ch, cancel := h.conf.Game.Hub().Subscribe(256)
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
