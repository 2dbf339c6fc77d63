// Package game wires the simulation together: the entity store, chunk
// manager, movement and durability systems and the archetype catalog, all
// owned by a single executor goroutine that serialises every mutation.
package game

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strata-world/strata/server/archetype"
	"github.com/strata-world/strata/server/durability"
	"github.com/strata-world/strata/server/entity"
	"github.com/strata-world/strata/server/event"
	"github.com/strata-world/strata/server/physics"
	"github.com/strata-world/strata/server/world"
)

const (
	tpsSampleSize       = 20
	tpsWarningThreshold = 0.9
)

// Config configures a Game.
type Config struct {
	// Log is the logger used by the game and every subsystem. Defaults to
	// slog.Default().
	Log *slog.Logger
	// TargetTPS is the tick frequency. Defaults to 60.
	TargetTPS int
	// MaxDeltaTime clamps the per-tick dt. Defaults to 100ms.
	MaxDeltaTime time.Duration
	// TickRateDisabled disables the tick loop entirely; systems only run
	// when invoked synchronously.
	TickRateDisabled bool
	// SweepInterval is how often the chunk eviction sweep runs. Defaults to
	// 30s.
	SweepInterval time.Duration

	// MaxLoadedChunks, MaxRetainedChunks, ChunkUnloadDelay and
	// GridResolution are passed through to the chunk manager.
	MaxLoadedChunks   int
	MaxRetainedChunks int
	ChunkUnloadDelay  time.Duration
	GridResolution    int

	// TerminalVelocity, GroundFriction, AirFriction and CollisionEpsilon
	// are passed through to the movement system.
	TerminalVelocity            float64
	GroundFriction, AirFriction float64
	CollisionEpsilon            float64

	// Generator populates newly loaded chunks. Defaults to the terrain
	// generator.
	Generator world.Generator
	// Hub receives development events. Created if nil.
	Hub *event.Hub
	// Clock returns the current time, replaceable in tests. Defaults to
	// time.Now.
	Clock func() time.Time
}

// Game owns all simulation state. Every mutation goes through Exec so that
// state is only ever touched by the executor goroutine.
type Game struct {
	conf    Config
	log     *slog.Logger
	metrics *Metrics

	store      *entity.Store
	layers     *world.Layers
	chunks     *world.Manager
	movement   *physics.System
	durability *durability.System
	archetypes *archetype.Catalog
	hub        *event.Hub

	// lastChunk remembers the chunk each entity was last a member of, so
	// despawn broadcasts can name it after removal.
	lastChunk map[string]world.ChunkKey

	queue        chan transaction
	closing      chan struct{}
	queueClosing chan struct{}
	running      sync.WaitGroup
	closeOnce    sync.Once

	tick uint64
	tps  atomic.Uint64
}

type transaction struct {
	c chan struct{}
	f func()
}

// New creates a Game, wiring every subsystem, and starts the executor
// goroutine plus the tick loop unless disabled.
func New(conf Config) *Game {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.TargetTPS <= 0 {
		conf.TargetTPS = 60
	}
	if conf.MaxDeltaTime <= 0 {
		conf.MaxDeltaTime = 100 * time.Millisecond
	}
	if conf.SweepInterval <= 0 {
		conf.SweepInterval = 30 * time.Second
	}
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	if conf.Hub == nil {
		conf.Hub = event.NewHub()
	}

	g := &Game{
		conf:         conf,
		log:          conf.Log,
		metrics:      newMetrics(),
		hub:          conf.Hub,
		lastChunk:    make(map[string]world.ChunkKey),
		queue:        make(chan transaction, 128),
		closing:      make(chan struct{}),
		queueClosing: make(chan struct{}),
	}
	g.store = entity.NewStore(entity.StoreConfig{Log: conf.Log})
	g.layers = world.NewLayers(conf.Log)

	gen := conf.Generator
	if gen == nil {
		gen = TerrainGenerator{Store: g.store, Layers: g.layers}
	}
	g.chunks = world.NewManager(world.ManagerConfig{
		Log:            conf.Log,
		Source:         g.store,
		Layers:         g.layers,
		Generator:      gen,
		MaxLoaded:      conf.MaxLoadedChunks,
		MaxRetained:    conf.MaxRetainedChunks,
		UnloadDelay:    conf.ChunkUnloadDelay,
		GridResolution: conf.GridResolution,
		Clock:          conf.Clock,
	})
	g.movement = physics.NewSystem(physics.Config{
		Log:              conf.Log,
		Store:            g.store,
		Layers:           g.layers,
		Chunks:           g.chunks,
		TerminalVelocity: conf.TerminalVelocity,
		GroundFriction:   conf.GroundFriction,
		AirFriction:      conf.AirFriction,
		Epsilon:          conf.CollisionEpsilon,
	})
	g.durability = durability.NewSystem(durability.Config{
		Log:   conf.Log,
		Store: g.store,
		Hub:   g.hub,
		Clock: conf.Clock,
	})
	g.archetypes = archetype.NewCatalog(archetype.Config{
		Log:    conf.Log,
		Store:  g.store,
		Layers: g.layers,
		Clock:  conf.Clock,
	})
	g.wireHooks()

	g.running.Add(1)
	go g.handleTransactions()
	if !conf.TickRateDisabled {
		g.running.Add(1)
		go g.tickLoop()
	}
	return g
}

// Exec posts a transaction to the executor goroutine. The returned channel
// is closed once the transaction has run.
func (g *Game) Exec(f func()) <-chan struct{} {
	c := make(chan struct{})
	g.queue <- transaction{c: c, f: f}
	return c
}

func (g *Game) handleTransactions() {
	defer g.running.Done()
	for {
		select {
		case tx := <-g.queue:
			tx.f()
			close(tx.c)
		case <-g.queueClosing:
			return
		}
	}
}

// tickLoop drives the simulation at the target tick rate, sampling the
// achieved rate and warning once when it drops.
func (g *Game) tickLoop() {
	defer g.running.Done()
	interval := time.Second / time.Duration(g.conf.TargetTPS)
	tc := time.NewTicker(interval)
	defer tc.Stop()

	lastTick := g.conf.Clock()
	var (
		durationSum time.Duration
		ticksCount  int
		warned      bool
	)
	target := float64(g.conf.TargetTPS)
	for {
		select {
		case <-tc.C:
			tickStart := g.conf.Clock()
			duration := tickStart.Sub(lastTick)
			lastTick = tickStart
			if duration > 0 {
				durationSum += duration
				ticksCount++
				if ticksCount >= tpsSampleSize {
					avg := durationSum / time.Duration(ticksCount)
					if avg > 0 {
						tps := 1.0 / avg.Seconds()
						g.tps.Store(math.Float64bits(tps))
						g.metrics.TPS.Set(tps)
						if tps < target*tpsWarningThreshold {
							if !warned {
								g.log.Warn("tick rate dropped below threshold", "tps", tps, "target", target)
								warned = true
							}
						} else if warned {
							warned = false
						}
					}
					durationSum = 0
					ticksCount = 0
				}
			}
			dt := duration
			if dt > g.conf.MaxDeltaTime {
				dt = g.conf.MaxDeltaTime
			}
			g.metrics.TickLag.Set(duration.Seconds() - interval.Seconds())
			<-g.Exec(func() { g.Tick(dt.Seconds()) })
		case <-g.closing:
			return
		}
	}
}

// Tick advances every system by dt seconds. It must run on the executor.
func (g *Game) Tick(dt float64) {
	start := g.conf.Clock()
	g.tick++
	g.movement.Update(dt)
	g.durability.Tick()
	if g.conf.SweepInterval > 0 {
		ticksPerSweep := uint64(g.conf.SweepInterval.Seconds() * float64(g.conf.TargetTPS))
		if ticksPerSweep > 0 && g.tick%ticksPerSweep == 0 {
			g.chunks.Sweep(start)
		}
	}
	g.metrics.TicksTotal.Inc()
	g.metrics.TickDuration.Observe(g.conf.Clock().Sub(start).Seconds())
	g.metrics.Entities.Set(float64(g.store.Count()))
	g.metrics.ChunksLoaded.Set(float64(g.chunks.LoadedCount()))
}

// TPS returns the most recently sampled tick rate, or 0 before the first
// sample.
func (g *Game) TPS() float64 {
	return math.Float64frombits(g.tps.Load())
}

// Close stops the tick loop and the executor. Pending transactions in the
// queue are abandoned.
func (g *Game) Close() {
	g.closeOnce.Do(func() {
		close(g.closing)
		close(g.queueClosing)
		g.running.Wait()
		g.hub.Close()
	})
}

// Store returns the entity store. Access outside Exec is unsafe.
func (g *Game) Store() *entity.Store { return g.store }

// Layers returns the layer registry. Access outside Exec is unsafe.
func (g *Game) Layers() *world.Layers { return g.layers }

// Chunks returns the chunk manager. Access outside Exec is unsafe.
func (g *Game) Chunks() *world.Manager { return g.chunks }

// Movement returns the movement system. Access outside Exec is unsafe.
func (g *Game) Movement() *physics.System { return g.movement }

// Durability returns the durability system. Access outside Exec is unsafe.
func (g *Game) Durability() *durability.System { return g.durability }

// Archetypes returns the archetype catalog. Access outside Exec is unsafe.
func (g *Game) Archetypes() *archetype.Catalog { return g.archetypes }

// Hub returns the development event hub. The hub itself is safe for
// concurrent use.
func (g *Game) Hub() *event.Hub { return g.hub }

// Metrics returns the game's prometheus collectors.
func (g *Game) Metrics() *Metrics { return g.metrics }
