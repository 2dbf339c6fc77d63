// Package server ties the simulation, the session layer and the network
// surfaces together into a runnable Strata server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/strata-world/strata/server/admin"
	"github.com/strata-world/strata/server/game"
	"github.com/strata-world/strata/server/session"
	"github.com/strata-world/strata/server/snapshot"
	"github.com/strata-world/strata/server/transport"
	"github.com/strata-world/strata/server/world"
)

// Version is the server version advertised to clients and the admin surface.
const Version = "0.1.0"

// Config contains options for starting a Strata server.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set
	// to slog.Default().
	Log *slog.Logger
	// Name is the server identifier sent to clients on connect. Defaults to
	// "Strata Server".
	Name string
	// Addr is the address the game WebSocket endpoint listens on. Defaults
	// to ":8080".
	Addr string
	// AdminAddr is the address the admin HTTP endpoint listens on. If
	// empty, the admin surface is not served.
	AdminAddr string

	// ChunkSize and Gravity configure the default layer. Zero values leave
	// the layer's own defaults in place.
	ChunkSize float64
	Gravity   float64

	// TargetTPS, MaxDeltaTime, TickRateDisabled, MaxLoadedChunks,
	// MaxRetainedChunks and ChunkUnloadDelay are passed to the simulation.
	TargetTPS         int
	MaxDeltaTime      time.Duration
	TickRateDisabled  bool
	MaxLoadedChunks   int
	MaxRetainedChunks int
	ChunkUnloadDelay  time.Duration

	// TerminalVelocity, GroundFriction, AirFriction and CollisionEpsilon
	// are passed to the movement system.
	TerminalVelocity float64
	GroundFriction   float64
	AirFriction      float64
	CollisionEpsilon float64

	// Heartbeat, ConnectionTimeout, MaxMessageSize, MaxMessagesPerSecond
	// and MaxConnections are passed to the WebSocket listener.
	Heartbeat            time.Duration
	ConnectionTimeout    time.Duration
	MaxMessageSize       int64
	MaxMessagesPerSecond int
	MaxConnections       int
	// MaxSubscriptions caps the chunk subscriptions of one session.
	MaxSubscriptions int

	// Snapshots is the snapshot store used for persistence. If nil, the
	// world is not saved and the admin save/load endpoints are disabled.
	Snapshots *snapshot.Store
	// AutoSaveInterval is the interval between automatic snapshots. 0
	// disables auto-saving. Ignored when Snapshots is nil.
	AutoSaveInterval time.Duration
}

// New creates a Server using fields of conf. Connections are accepted once
// Server.Listen() is called.
func (conf Config) New() *Server {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Name == "" {
		conf.Name = "Strata Server"
	}
	if conf.Addr == "" {
		conf.Addr = ":8080"
	}

	g := game.New(game.Config{
		Log:               conf.Log,
		TargetTPS:         conf.TargetTPS,
		MaxDeltaTime:      conf.MaxDeltaTime,
		TickRateDisabled:  conf.TickRateDisabled,
		MaxLoadedChunks:   conf.MaxLoadedChunks,
		MaxRetainedChunks: conf.MaxRetainedChunks,
		ChunkUnloadDelay:  conf.ChunkUnloadDelay,
		TerminalVelocity:  conf.TerminalVelocity,
		GroundFriction:    conf.GroundFriction,
		AirFriction:       conf.AirFriction,
		CollisionEpsilon:  conf.CollisionEpsilon,
	})
	if conf.ChunkSize > 0 || conf.Gravity != 0 {
		<-g.Exec(func() {
			if l, ok := g.Layers().Get(world.DefaultLayer); ok {
				if conf.ChunkSize > 0 {
					l.ChunkSize = conf.ChunkSize
				}
				if conf.Gravity != 0 {
					l.Gravity = conf.Gravity
				}
			}
		})
	}

	sessions := session.NewManager(session.Config{
		Log:              conf.Log,
		Game:             g,
		ServerID:         conf.Name,
		ServerVersion:    Version,
		MaxSubscriptions: conf.MaxSubscriptions,
	})
	listener := transport.NewListener(transport.Config{
		Log:                  conf.Log,
		Handler:              sessions.Handle,
		Heartbeat:            conf.Heartbeat,
		ConnectionTimeout:    conf.ConnectionTimeout,
		MaxMessageSize:       conf.MaxMessageSize,
		MaxMessagesPerSecond: conf.MaxMessagesPerSecond,
		MaxConnections:       conf.MaxConnections,
	})

	srv := &Server{
		conf:     conf,
		log:      conf.Log,
		game:     g,
		sessions: sessions,
		listener: listener,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	if conf.AdminAddr != "" {
		srv.admin = admin.NewHandler(admin.Config{
			Log:           conf.Log,
			Game:          g,
			Snapshots:     conf.Snapshots,
			SessionCount:  sessions.Count,
			ServerVersion: Version,
		})
	}
	return srv
}

// Server is a Strata world server. It runs the simulation, accepts WebSocket
// client connections and serves the admin HTTP surface.
type Server struct {
	conf Config
	log  *slog.Logger

	game     *game.Game
	sessions *session.Manager
	listener *transport.Listener
	admin    *admin.Handler

	gameSrv  *http.Server
	adminSrv *http.Server

	closing   chan struct{}
	done      chan struct{}
	running   sync.WaitGroup
	closeOnce sync.Once
}

// Game exposes the underlying simulation, mainly for tests and embedding
// servers. State access must go through Game.Exec.
func (srv *Server) Game() *game.Game { return srv.game }

// Listen binds the network endpoints and starts serving. It returns once the
// listeners are bound; serving continues on background goroutines until Close
// is called.
func (srv *Server) Listen() error {
	r := mux.NewRouter()
	r.Handle("/ws", srv.listener)
	srv.gameSrv = &http.Server{Handler: r}

	ln, err := net.Listen("tcp", srv.conf.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.conf.Addr, err)
	}
	srv.running.Add(1)
	go func() {
		defer srv.running.Done()
		if err := srv.gameSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("game endpoint: " + err.Error())
		}
	}()
	srv.log.Info("listening for connections", "addr", srv.conf.Addr)

	if srv.admin != nil {
		srv.adminSrv = &http.Server{Handler: srv.admin}
		aln, err := net.Listen("tcp", srv.conf.AdminAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", srv.conf.AdminAddr, err)
		}
		srv.running.Add(1)
		go func() {
			defer srv.running.Done()
			if err := srv.adminSrv.Serve(aln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("admin endpoint: " + err.Error())
			}
		}()
		srv.log.Info("admin surface up", "addr", srv.conf.AdminAddr)
	}

	if srv.conf.Snapshots != nil && srv.conf.AutoSaveInterval > 0 {
		srv.running.Add(1)
		go srv.autoSave()
	}
	return nil
}

// CloseOnProgramEnd closes the server right before the program ends, so that
// world state is always saved on an interrupt.
func (srv *Server) CloseOnProgramEnd() {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		if err := srv.Close(); err != nil {
			srv.log.Error("close server: " + err.Error())
		}
	}()
}

// Wait blocks until the server has been closed, either by a call to Close or
// by an interrupt registered through CloseOnProgramEnd.
func (srv *Server) Wait() {
	<-srv.done
}

// Close shuts the server down: it stops accepting connections, disconnects
// clients, saves a final snapshot when persistence is enabled and stops the
// simulation. Close blocks until done and may be called only once.
func (srv *Server) Close() error {
	var err error
	srv.closeOnce.Do(func() {
		srv.log.Info("server shutting down")
		close(srv.closing)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if srv.gameSrv != nil {
			_ = srv.gameSrv.Shutdown(ctx)
		}
		if srv.adminSrv != nil {
			_ = srv.adminSrv.Shutdown(ctx)
		}
		srv.listener.Close()
		srv.running.Wait()

		if srv.conf.Snapshots != nil {
			if saveErr := srv.save("shutdown"); saveErr != nil {
				err = saveErr
			}
			if closeErr := srv.conf.Snapshots.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
		srv.game.Close()
		close(srv.done)
	})
	return err
}

func (srv *Server) autoSave() {
	defer srv.running.Done()
	t := time.NewTicker(srv.conf.AutoSaveInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := srv.save("autosave"); err != nil {
				srv.log.Error("auto-save: " + err.Error())
			}
		case <-srv.closing:
			return
		}
	}
}

// save captures a snapshot on the executor and persists it under the name
// passed.
func (srv *Server) save(name string) error {
	var (
		doc snapshot.Document
		err error
	)
	g := srv.game
	<-g.Exec(func() {
		doc, err = snapshot.Capture(g.Store(), g.Layers(), g.Archetypes())
	})
	if err != nil {
		return fmt.Errorf("capture snapshot: %w", err)
	}
	if err := srv.conf.Snapshots.Save(name, doc); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	srv.log.Info("snapshot saved", "name", name, "entities", len(doc.Entities))
	return nil
}

// LoadLatest restores the most recent snapshot if one exists. Missing data is
// not an error; a fresh world starts empty.
func (srv *Server) LoadLatest() error {
	if srv.conf.Snapshots == nil {
		return nil
	}
	doc, err := srv.conf.Snapshots.Load("")
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	g := srv.game
	<-g.Exec(func() {
		err = snapshot.Restore(doc, g.Store(), g.Layers(), g.Archetypes())
	})
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	srv.log.Info("snapshot restored", "entities", len(doc.Entities))
	return nil
}
