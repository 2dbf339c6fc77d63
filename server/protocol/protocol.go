// Package protocol defines the JSON wire messages exchanged between clients
// and the server. Each frame is a single object with a "type" field; unknown
// fields on inbound messages are ignored.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/world"
)

// Client message types.
const (
	TypeHello             = "hello"
	TypeLogin             = "login"
	TypeLogout            = "logout"
	TypeSetView           = "set_view"
	TypeSubscribeChunks   = "subscribe_chunks"
	TypeUnsubscribeChunks = "unsubscribe_chunks"
	TypeMove              = "move"
	TypeMoveDir           = "move_dir"
	TypeAddContract       = "add_contract"
	TypeRemoveContract    = "remove_contract"
	TypeInteract          = "interact"
)

// Server message types.
const (
	TypeHelloOK       = "hello_ok"
	TypeLoginOK       = "login_ok"
	TypeLogoutOK      = "logout_ok"
	TypeSetViewOK     = "set_view_ok"
	TypeChunkSnapshot = "chunk_snapshot"
	TypeChunkDelta    = "chunk_delta"
	TypeEntitySpawn   = "entity_spawn"
	TypeEntityUpdate  = "entity_update"
	TypeEntityDespawn = "entity_despawn"
	TypeMoveResult    = "move_result"
	TypeError         = "error"
)

// Client-visible error codes.
const (
	ErrInvalidMessage       = "INVALID_MESSAGE"
	ErrUnknownMessageType   = "UNKNOWN_MESSAGE_TYPE"
	ErrForbidden            = "FORBIDDEN"
	ErrNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrPermissionDenied     = "PERMISSION_DENIED"
	ErrAddContractFailed    = "ADD_CONTRACT_FAILED"
	ErrRemoveContractFailed = "REMOVE_CONTRACT_FAILED"
	ErrContractNotFound     = "CONTRACT_NOT_FOUND"
	ErrJoinFailed           = "JOIN_FAILED"
	ErrNotImplemented       = "NOT_IMPLEMENTED"
)

// BaseCommands is the command set granted to every freshly spawned player.
func BaseCommands() []string {
	return []string{
		TypeLogin, TypeLogout, TypeSetView,
		TypeSubscribeChunks, TypeUnsubscribeChunks,
		TypeMove, TypeMoveDir,
		TypeAddContract, TypeRemoveContract,
		TypeInteract,
	}
}

// ChunkKeyRef is the wire form of a chunk key.
type ChunkKeyRef struct {
	LayerID string `json:"layerId"`
	CX      int    `json:"cx"`
	CY      int    `json:"cy"`
	CZ      int    `json:"cz"`
}

// Key converts the wire form to the internal chunk key.
func (r ChunkKeyRef) Key() world.ChunkKey {
	return world.ChunkKey{Layer: r.LayerID, Pos: world.ChunkPos{r.CX, r.CY, r.CZ}}
}

// ChunkKeyRefOf converts an internal chunk key to its wire form.
func ChunkKeyRefOf(k world.ChunkKey) ChunkKeyRef {
	return ChunkKeyRef{LayerID: k.Layer, CX: k.Pos.X(), CY: k.Pos.Y(), CZ: k.Pos.Z()}
}

// Client→server payloads.
type (
	Hello struct {
		ClientVersion string `json:"clientVersion,omitempty"`
	}
	Login struct {
		LayerID    string `json:"layerId,omitempty"`
		PlayerName string `json:"playerName,omitempty"`
	}
	Logout  struct{}
	SetView struct {
		Radius float64 `json:"radius"`
	}
	SubscribeChunks struct {
		ChunkKeys []ChunkKeyRef `json:"chunkKeys"`
	}
	UnsubscribeChunks struct {
		ChunkKeys []ChunkKeyRef `json:"chunkKeys"`
	}
	Move struct {
		Want contract.Vec3 `json:"want"`
	}
	MoveDir struct {
		Directions []string `json:"directions"`
	}
	AddContract struct {
		EntityID string          `json:"entityId"`
		Contract json.RawMessage `json:"contract"`
	}
	RemoveContract struct {
		EntityID     string `json:"entityId"`
		ContractType string `json:"contractType"`
	}
	Interact struct {
		Action   string          `json:"action"`
		TargetID string          `json:"targetId,omitempty"`
		Data     json.RawMessage `json:"data,omitempty"`
	}
)

// Server→client payloads.
type (
	HelloOK struct {
		ClientID      string `json:"clientId"`
		ServerID      string `json:"serverId"`
		ServerVersion string `json:"serverVersion"`
	}
	LoginOK struct {
		PlayerID string `json:"playerId"`
		LayerID  string `json:"layerId"`
	}
	LogoutOK  struct{}
	SetViewOK struct {
		Radius float64 `json:"radius"`
	}
	WireEntity struct {
		ID        string            `json:"id"`
		Contracts []json.RawMessage `json:"contracts"`
	}
	ChunkSnapshot struct {
		ChunkKey ChunkKeyRef  `json:"chunkKey"`
		Entities []WireEntity `json:"entities"`
		Version  uint64       `json:"version"`
	}
	DeltaBody struct {
		Type      string            `json:"type"`
		EntityID  string            `json:"entityId"`
		Contracts []json.RawMessage `json:"contracts,omitempty"`
	}
	ChunkDelta struct {
		ChunkKey ChunkKeyRef `json:"chunkKey"`
		Delta    DeltaBody   `json:"delta"`
		Version  uint64      `json:"version"`
	}
	EntitySpawn struct {
		EntityID  string            `json:"entityId"`
		Contracts []json.RawMessage `json:"contracts"`
		ChunkKey  ChunkKeyRef       `json:"chunkKey"`
	}
	EntityUpdate struct {
		EntityID  string            `json:"entityId"`
		Contracts []json.RawMessage `json:"contracts"`
		ChunkKey  *ChunkKeyRef      `json:"chunkKey,omitempty"`
	}
	EntityDespawn struct {
		EntityID string      `json:"entityId"`
		ChunkKey ChunkKeyRef `json:"chunkKey"`
		Version  uint64      `json:"version,omitempty"`
	}
	MoveResult struct {
		Success  bool          `json:"success"`
		Position contract.Vec3 `json:"position"`
		Reason   string        `json:"reason,omitempty"`
	}
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// Message is a decoded inbound frame: its type plus the raw payload for the
// dispatcher to unmarshal into the matching struct.
type Message struct {
	Type string
	Raw  json.RawMessage
}

// Decode parses a frame and extracts its type. A frame that is not a JSON
// object or lacks a string type is rejected.
func Decode(frame []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Message{}, fmt.Errorf("malformed frame: %w", err)
	}
	if envelope.Type == "" {
		return Message{}, fmt.Errorf("frame missing type")
	}
	return Message{Type: envelope.Type, Raw: json.RawMessage(frame)}, nil
}

// Encode wraps a payload with its type field into a single frame.
func Encode(typ string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]json.RawMessage, 1)
	}
	m["type"], _ = json.Marshal(typ)
	return json.Marshal(m)
}

// MarshalContracts converts typed contracts into their wire envelopes.
func MarshalContracts(cs []contract.Contract) ([]json.RawMessage, error) {
	return contract.MarshalAll(cs)
}
