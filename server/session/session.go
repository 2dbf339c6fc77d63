// Package session binds transport connections to player entities: message
// dispatch, capability gating and view-based chunk subscriptions.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/entity"
	"github.com/strata-world/strata/server/game"
	"github.com/strata-world/strata/server/protocol"
	"github.com/strata-world/strata/server/transport"
	"github.com/strata-world/strata/server/world"
)

// Session is the binding of a connection to an optional player entity, a
// subscription set and a view radius. All fields except the atomics are
// owned by the game executor.
type Session struct {
	id      string
	conn    transport.Conn
	game    *game.Game
	manager *Manager
	log     *slog.Logger

	player     string
	layer      string
	viewRadius float64
	subs       map[world.ChunkKey]struct{}

	lastMove     time.Time
	lastActivity time.Time

	live  atomic.Bool
	stale atomic.Bool
}

// ID returns the session's client id.
func (s *Session) ID() string { return s.id }

// Player returns the bound player entity id, or "".
func (s *Session) Player() string { return s.player }

// SessionID implements world.Subscriber.
func (s *Session) SessionID() string { return s.id }

// Live implements world.Subscriber.
func (s *Session) Live() bool { return s.live.Load() }

// SendSnapshot implements world.Subscriber.
func (s *Session) SendSnapshot(snap world.Snapshot) {
	entities := make([]protocol.WireEntity, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		raws, err := contract.MarshalAll(e.Contracts)
		if err != nil {
			s.log.Error("failed to encode snapshot entity", "entity", e.ID, "err", err)
			continue
		}
		entities = append(entities, protocol.WireEntity{ID: e.ID, Contracts: raws})
	}
	s.send(protocol.TypeChunkSnapshot, protocol.ChunkSnapshot{
		ChunkKey: protocol.ChunkKeyRefOf(snap.Key),
		Entities: entities,
		Version:  snap.Version,
	})
}

// SendDelta implements world.Subscriber.
func (s *Session) SendDelta(d world.Delta) {
	raws, err := contract.MarshalAll(d.Contracts)
	if err != nil {
		s.log.Error("failed to encode delta", "entity", d.EntityID, "err", err)
		return
	}
	s.game.Metrics().Broadcasts.Inc()
	s.send(protocol.TypeChunkDelta, protocol.ChunkDelta{
		ChunkKey: protocol.ChunkKeyRefOf(d.Key),
		Delta:    protocol.DeltaBody{Type: string(d.Type), EntityID: d.EntityID, Contracts: raws},
		Version:  d.Version,
	})
}

// SendDespawn implements world.Subscriber.
func (s *Session) SendDespawn(d world.Despawn) {
	s.send(protocol.TypeEntityDespawn, protocol.EntityDespawn{
		EntityID: d.EntityID,
		ChunkKey: protocol.ChunkKeyRefOf(d.Key),
		Version:  d.Version,
	})
}

// send encodes a frame and queues it. A full outbound buffer marks the
// session's delta stream stale; the next client activity forces a
// resubscribe.
func (s *Session) send(typ string, payload any) {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		s.log.Error("failed to encode frame", "type", typ, "err", err)
		return
	}
	switch err := s.conn.WriteMessage(frame); err {
	case nil:
	case transport.ErrSlowConsumer:
		if s.stale.CompareAndSwap(false, true) {
			s.log.Warn("slow consumer, delta stream marked stale", "session", s.id)
		}
	default:
		s.live.Store(false)
	}
}

func (s *Session) sendError(code, message string) {
	s.send(protocol.TypeError, protocol.Error{Code: code, Message: message})
}

// dispatch handles one decoded inbound message. It runs on the game
// executor.
func (s *Session) dispatch(msg protocol.Message) {
	s.lastActivity = time.Now()
	if s.stale.CompareAndSwap(true, false) {
		s.resubscribe()
	}

	if !s.authorized(msg.Type) {
		return
	}

	switch msg.Type {
	case protocol.TypeHello:
		s.sendHello()
	case protocol.TypeLogin:
		var m protocol.Login
		if s.decode(msg.Raw, &m) {
			s.handleLogin(m)
		}
	case protocol.TypeLogout:
		s.handleLogout()
	case protocol.TypeSetView:
		var m protocol.SetView
		if s.decode(msg.Raw, &m) {
			s.handleSetView(m)
		}
	case protocol.TypeSubscribeChunks:
		var m protocol.SubscribeChunks
		if s.decode(msg.Raw, &m) {
			s.handleSubscribe(m.ChunkKeys)
		}
	case protocol.TypeUnsubscribeChunks:
		var m protocol.UnsubscribeChunks
		if s.decode(msg.Raw, &m) {
			s.handleUnsubscribe(m.ChunkKeys)
		}
	case protocol.TypeMove:
		var m protocol.Move
		if s.decode(msg.Raw, &m) {
			s.handleMove(m.Want.Mgl())
		}
	case protocol.TypeMoveDir:
		var m protocol.MoveDir
		if s.decode(msg.Raw, &m) {
			s.handleMoveDir(m.Directions)
		}
	case protocol.TypeAddContract:
		var m protocol.AddContract
		if s.decode(msg.Raw, &m) {
			s.handleAddContract(m)
		}
	case protocol.TypeRemoveContract:
		var m protocol.RemoveContract
		if s.decode(msg.Raw, &m) {
			s.handleRemoveContract(m)
		}
	case protocol.TypeInteract:
		s.sendError(protocol.ErrNotImplemented, "interact is not implemented")
	default:
		s.sendError(protocol.ErrUnknownMessageType, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// decode unmarshals a payload, replying INVALID_MESSAGE on failure.
func (s *Session) decode(raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		s.sendError(protocol.ErrInvalidMessage, err.Error())
		return false
	}
	return true
}

// authorized applies capability gating: the world's world_commands
// allow-list first, then the bound player's command_access. login is the
// sole command allowed without a bound player.
func (s *Session) authorized(command string) bool {
	if command == protocol.TypeHello {
		return true
	}
	if s.player == "" {
		if command == protocol.TypeLogin {
			return true
		}
		s.sendError(protocol.ErrNotAuthenticated, "login required")
		return false
	}
	if allowed, restricted := s.worldCommands(); restricted && !contains(allowed, command) {
		s.sendError(protocol.ErrForbidden, fmt.Sprintf("command %q not advertised by the world", command))
		return false
	}
	if access, ok := entity.Fetch[contract.CommandAccess](s.game.Store(), s.player); ok {
		if !contains(access.Commands, command) {
			s.sendError(protocol.ErrForbidden, fmt.Sprintf("command %q not granted", command))
			return false
		}
	}
	return true
}

// worldCommands returns the allow-list of the first world_commands entity in
// the session's layer, and whether one exists.
func (s *Session) worldCommands() ([]string, bool) {
	for _, id := range s.game.Store().ListWith(contract.KindWorldCommands) {
		if s.game.Layers().EntityLayer(id) != s.layer {
			continue
		}
		if wc, ok := entity.Fetch[contract.WorldCommands](s.game.Store(), id); ok {
			return wc.Commands, true
		}
	}
	return nil, false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Session) sendHello() {
	s.send(protocol.TypeHelloOK, protocol.HelloOK{
		ClientID:      s.id,
		ServerID:      s.manager.conf.ServerID,
		ServerVersion: s.manager.conf.ServerVersion,
	})
}

func (s *Session) handleLogin(m protocol.Login) {
	if s.player != "" {
		s.send(protocol.TypeLoginOK, protocol.LoginOK{PlayerID: s.player, LayerID: s.layer})
		return
	}
	layerID := m.LayerID
	if layerID == "" {
		layerID = world.DefaultLayer
	}
	l, ok := s.game.Layers().Get(layerID)
	if !ok {
		s.sendError(protocol.ErrJoinFailed, fmt.Sprintf("unknown layer %q", layerID))
		return
	}
	id, err := s.game.Archetypes().SpawnPlayer(layerID, contract.Vec3From(l.Spawn), m.PlayerName)
	if err != nil {
		s.sendError(protocol.ErrJoinFailed, err.Error())
		return
	}
	s.player = id
	s.layer = layerID
	s.send(protocol.TypeLoginOK, protocol.LoginOK{PlayerID: id, LayerID: layerID})
	s.refreshAutoSubs()
}

func (s *Session) handleLogout() {
	if s.player != "" {
		s.game.Store().Remove(s.player)
		s.player = ""
	}
	s.clearSubs()
	s.send(protocol.TypeLogoutOK, protocol.LogoutOK{})
}

func (s *Session) handleSetView(m protocol.SetView) {
	if m.Radius < 0 || math.IsNaN(m.Radius) || math.IsInf(m.Radius, 0) {
		s.sendError(protocol.ErrInvalidMessage, "radius must be a non-negative number")
		return
	}
	s.viewRadius = m.Radius
	s.refreshAutoSubs()
	s.send(protocol.TypeSetViewOK, protocol.SetViewOK{Radius: m.Radius})
}

func (s *Session) handleSubscribe(refs []protocol.ChunkKeyRef) {
	for _, ref := range refs {
		if len(s.subs) >= s.manager.conf.MaxSubscriptions {
			s.sendError(protocol.ErrInvalidMessage, "subscription limit reached")
			return
		}
		s.subscribe(ref.Key())
	}
}

func (s *Session) handleUnsubscribe(refs []protocol.ChunkKeyRef) {
	for _, ref := range refs {
		s.unsubscribe(ref.Key())
	}
}

func (s *Session) subscribe(key world.ChunkKey) {
	if _, ok := s.subs[key]; ok {
		return
	}
	s.subs[key] = struct{}{}
	s.game.Chunks().Load(key)
	s.game.Chunks().Subscribe(s, key)
}

func (s *Session) unsubscribe(key world.ChunkKey) {
	if _, ok := s.subs[key]; !ok {
		return
	}
	delete(s.subs, key)
	s.game.Chunks().Unsubscribe(s, key)
}

func (s *Session) clearSubs() {
	s.game.Chunks().UnsubscribeAll(s)
	s.subs = make(map[world.ChunkKey]struct{})
}

// resubscribe re-sends a snapshot for every current subscription after the
// delta stream went stale.
func (s *Session) resubscribe() {
	s.log.Debug("forcing resubscribe after stale stream", "session", s.id)
	for key := range s.subs {
		s.game.Chunks().Subscribe(s, key)
	}
}

func (s *Session) handleMove(want mgl64.Vec3) {
	dt := s.moveDelta()
	res := s.game.Movement().AttemptMove(s.player, want, dt)

	// The clamped position is committed even on a blocked move.
	if mob, ok := entity.Fetch[contract.Mobility](s.game.Store(), s.player); ok {
		mob.Position = contract.Vec3From(res.Position)
		if err := s.game.Store().Add(s.player, mob); err != nil {
			s.log.Error("failed to commit move", "entity", s.player, "err", err)
		}
	}

	s.send(protocol.TypeMoveResult, protocol.MoveResult{
		Success:  res.OK,
		Position: contract.Vec3From(res.Position),
		Reason:   res.Reason,
	})
	s.refreshAutoSubs()
}

// moveDelta is the dt fed to attempt_move: wall time since the previous
// move, clamped, so client-driven movement honours the same speed budget as
// the tick integrator.
func (s *Session) moveDelta() float64 {
	now := time.Now()
	dt := s.manager.conf.DefaultMoveDelta.Seconds()
	if !s.lastMove.IsZero() {
		dt = now.Sub(s.lastMove).Seconds()
	}
	s.lastMove = now
	if limit := s.manager.conf.MaxMoveDelta.Seconds(); dt > limit {
		dt = limit
	}
	return dt
}

var directions = map[string]mgl64.Vec3{
	"north": {0, 0, -1},
	"south": {0, 0, 1},
	"west":  {-1, 0, 0},
	"east":  {1, 0, 0},
}

func (s *Session) handleMoveDir(dirs []string) {
	if len(dirs) == 0 || len(dirs) > 2 {
		s.sendError(protocol.ErrInvalidMessage, "move_dir takes one or two directions")
		return
	}
	var disp mgl64.Vec3
	for _, d := range dirs {
		v, ok := directions[d]
		if !ok {
			s.sendError(protocol.ErrInvalidMessage, fmt.Sprintf("unknown direction %q", d))
			return
		}
		disp = disp.Add(v)
	}

	step := 1.0
	diagonal := len(dirs) == 2 && disp.Len() > 0
	if rules, ok := entity.Fetch[contract.MovementRules](s.game.Store(), s.player); ok {
		step = rules.StepDistance
		if diagonal && !rules.AllowDiagonal {
			s.sendError(protocol.ErrInvalidMessage, "diagonal movement not allowed")
			return
		}
		if diagonal && rules.DiagonalNormalized {
			disp = disp.Normalize()
		}
	}

	mob, ok := entity.Fetch[contract.Mobility](s.game.Store(), s.player)
	if !ok {
		s.send(protocol.TypeMoveResult, protocol.MoveResult{Success: false, Reason: "entity has no mobility"})
		return
	}
	s.handleMove(mob.Position.Mgl().Add(disp.Mul(step)))
}

func (s *Session) handleAddContract(m protocol.AddContract) {
	if m.EntityID != s.player {
		s.sendError(protocol.ErrPermissionDenied, "sessions may only mutate their own player")
		return
	}
	c, err := contract.Unmarshal(m.Contract)
	if err != nil {
		s.sendError(protocol.ErrAddContractFailed, err.Error())
		return
	}
	if err := s.game.Store().Add(m.EntityID, c); err != nil {
		s.sendError(protocol.ErrAddContractFailed, err.Error())
		return
	}
}

func (s *Session) handleRemoveContract(m protocol.RemoveContract) {
	if m.EntityID != s.player {
		s.sendError(protocol.ErrPermissionDenied, "sessions may only mutate their own player")
		return
	}
	kind := contract.Kind(m.ContractType)
	if _, ok := s.game.Store().Get(m.EntityID, kind); !ok {
		s.sendError(protocol.ErrContractNotFound, fmt.Sprintf("entity has no %q contract", m.ContractType))
		return
	}
	if !s.game.RemoveContract(m.EntityID, kind) {
		s.sendError(protocol.ErrRemoveContractFailed, fmt.Sprintf("failed to remove %q", m.ContractType))
	}
}

// refreshAutoSubs recomputes the desired subscription set from the player's
// position and view radius and applies the set difference.
func (s *Session) refreshAutoSubs() {
	if s.player == "" || s.viewRadius <= 0 {
		return
	}
	mob, ok := entity.Fetch[contract.Mobility](s.game.Store(), s.player)
	if !ok {
		return
	}
	size := s.game.Chunks().ChunkSize(s.layer)
	center := world.WorldToChunk(mob.Position.Mgl(), size)
	r := world.ChunkRadius(s.viewRadius, size)

	// The subscription cap applies to explicit subscribe_chunks requests
	// only; the view volume is always covered in full.
	desired := make(map[world.ChunkKey]struct{})
	for _, p := range world.Neighbors(center, r) {
		desired[p.In(s.layer)] = struct{}{}
	}
	for key := range s.subs {
		if _, ok := desired[key]; !ok {
			s.unsubscribe(key)
		}
	}
	for key := range desired {
		s.subscribe(key)
	}
}

// disconnect tears the session down: the bound player is removed, all
// subscriptions dropped and the connection closed. Runs on the executor.
func (s *Session) disconnect() {
	s.live.Store(false)
	if s.player != "" {
		s.game.Store().Remove(s.player)
		s.player = ""
	}
	s.game.Chunks().UnsubscribeAll(s)
	s.conn.Close()
}

// Config configures a session Manager.
type Config struct {
	// Log is the logger. Defaults to slog.Default().
	Log *slog.Logger
	// Game is the simulation the sessions act on. Required.
	Game *game.Game
	// ServerID and ServerVersion are advertised in hello_ok.
	ServerID      string
	ServerVersion string
	// MaxSubscriptions caps a session's chunk subscriptions. Defaults to
	// 100.
	MaxSubscriptions int
	// DefaultMoveDelta is the dt for a session's first move. Defaults to
	// 1/60s.
	DefaultMoveDelta time.Duration
	// MaxMoveDelta clamps the dt between moves. Defaults to 100ms.
	MaxMoveDelta time.Duration
}

// Manager tracks all sessions and runs their read loops.
type Manager struct {
	conf Config
	log  *slog.Logger

	count atomic.Int64
}

// NewManager creates a session Manager.
func NewManager(conf Config) *Manager {
	if conf.Game == nil {
		panic("session: manager requires a game")
	}
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.ServerID == "" {
		conf.ServerID = "strata"
	}
	if conf.MaxSubscriptions <= 0 {
		conf.MaxSubscriptions = 100
	}
	if conf.DefaultMoveDelta <= 0 {
		conf.DefaultMoveDelta = time.Second / 60
	}
	if conf.MaxMoveDelta <= 0 {
		conf.MaxMoveDelta = 100 * time.Millisecond
	}
	return &Manager{conf: conf, log: conf.Log}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int { return int(m.count.Load()) }

// Handle runs a connection's session until it disconnects. It is the
// transport listener's handler and blocks for the connection's lifetime.
func (m *Manager) Handle(conn transport.Conn) {
	s := &Session{
		id:      uuid.NewString(),
		conn:    conn,
		game:    m.conf.Game,
		manager: m,
		log:     m.log,
		layer:   world.DefaultLayer,
		subs:    make(map[world.ChunkKey]struct{}),
	}
	s.live.Store(true)
	m.count.Add(1)
	m.conf.Game.Metrics().Sessions.Set(float64(m.count.Load()))
	m.log.Info("session connected", "session", s.id, "remote", conn.RemoteAddr())

	defer func() {
		<-m.conf.Game.Exec(s.disconnect)
		m.count.Add(-1)
		m.conf.Game.Metrics().Sessions.Set(float64(m.count.Load()))
		m.log.Info("session disconnected", "session", s.id)
	}()

	s.sendHello()

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			s.sendError(protocol.ErrInvalidMessage, err.Error())
			continue
		}
		<-m.conf.Game.Exec(func() { s.dispatch(msg) })
	}
}
