package server

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/strata-world/strata/server/snapshot"
)

// UserConfig is the user configuration for a Strata server. It holds settings
// that affect different aspects of the server, such as the simulation rate and
// the network limits. UserConfig may be serialised to TOML and can be
// converted to a Config by calling UserConfig.Config().
type UserConfig struct {
	// Network holds settings related to network aspects of the server.
	Network struct {
		// Address is the address the game endpoint listens on. Clients
		// connect to ws://<address>/ws.
		Address string `toml:"address"`
		// AdminAddress is the address the admin HTTP endpoint listens on.
		// Leave empty to disable the admin surface.
		AdminAddress string `toml:"admin_address"`
		// MaxConcurrentConnections caps concurrent client connections. 0
		// means unlimited.
		MaxConcurrentConnections int `toml:"max_concurrent_connections"`
		// MaxMessageSize caps inbound frame size in bytes.
		MaxMessageSize int64 `toml:"max_message_size"`
		// MaxMessagesPerSecond is the per-connection inbound rate limit.
		MaxMessagesPerSecond int `toml:"max_messages_per_second"`
		// RateLimitWindowMs and RateLimitMaxRequests express the rate limit
		// as a request budget per window. When both are set they take
		// precedence over MaxMessagesPerSecond.
		RateLimitWindowMs    int `toml:"rate_limit_window_ms"`
		RateLimitMaxRequests int `toml:"rate_limit_max_requests"`
		// HeartbeatMs is the WebSocket ping interval in milliseconds.
		HeartbeatMs int `toml:"ws_heartbeat_ms"`
		// ConnectionTimeoutMs is the idle timeout after which a connection
		// that sent neither frames nor pongs is dropped.
		ConnectionTimeoutMs int `toml:"ws_connection_timeout_ms"`
		// MaxSubsPerClient caps the chunk subscriptions of one session.
		MaxSubsPerClient int `toml:"max_subs_per_client"`
	} `toml:"network"`
	Server struct {
		// Name is the server identifier advertised to clients on connect.
		Name string `toml:"name"`
	} `toml:"server"`
	World struct {
		// ChunkSize is the edge length of the default layer's chunks.
		ChunkSize float64 `toml:"chunk_size"`
		// Gravity is the default layer's gravity acceleration.
		Gravity float64 `toml:"gravity"`
		// MaxLoadedChunks caps the number of loaded chunks before the sweep
		// unloads the stalest.
		MaxLoadedChunks int `toml:"max_loaded_chunks"`
		// ChunkUnloadDelayMs is the idle delay before unloaded chunk
		// metadata becomes eligible for retention pruning.
		ChunkUnloadDelayMs int `toml:"chunk_unload_delay_ms"`
		// MaxRetainedChunks caps retained chunk metadata.
		MaxRetainedChunks int `toml:"max_retained_chunks"`
		// SaveData controls whether world snapshots are persisted. If true,
		// the server opens a leveldb snapshot store under DataDirectory and
		// saves on the auto-save interval and on shutdown.
		SaveData bool `toml:"save_data"`
		// DataDirectory is the folder snapshot data resides in.
		DataDirectory string `toml:"data_directory"`
		// AutoSaveIntervalMs is the interval between automatic snapshots.
		// 0 disables auto-saving.
		AutoSaveIntervalMs int `toml:"auto_save_interval_ms"`
	} `toml:"world"`
	Tick struct {
		// TargetFPS is the simulation tick frequency.
		TargetFPS int `toml:"target_fps"`
		// MaxDeltaTimeMs clamps the per-tick dt after stalls.
		MaxDeltaTimeMs int `toml:"max_delta_time_ms"`
		// TickRateDisabled turns the tick loop off; the simulation then only
		// advances through client commands.
		TickRateDisabled bool `toml:"tick_rate_disabled"`
	} `toml:"tick"`
	Physics struct {
		// TerminalVelocity is the most negative vertical speed a falling
		// entity may reach.
		TerminalVelocity float64 `toml:"terminal_velocity"`
		// GroundFriction and AirFriction are the per-second horizontal
		// velocity retention factors.
		GroundFriction float64 `toml:"ground_friction"`
		AirFriction    float64 `toml:"air_friction"`
		// CollisionEpsilon is the contact tolerance of the collision
		// resolver.
		CollisionEpsilon float64 `toml:"collision_epsilon"`
	} `toml:"physics"`
}

// Config converts a UserConfig to a Config, so that it may be used for
// creating a Server. An error is returned if opening the snapshot store
// failed.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	conf := Config{
		Log:                  log,
		Name:                 uc.Server.Name,
		Addr:                 uc.Network.Address,
		AdminAddr:            uc.Network.AdminAddress,
		MaxConnections:       uc.Network.MaxConcurrentConnections,
		MaxMessageSize:       uc.Network.MaxMessageSize,
		MaxMessagesPerSecond: uc.Network.MaxMessagesPerSecond,
		Heartbeat:            time.Duration(uc.Network.HeartbeatMs) * time.Millisecond,
		ConnectionTimeout:    time.Duration(uc.Network.ConnectionTimeoutMs) * time.Millisecond,
		MaxSubscriptions:     uc.Network.MaxSubsPerClient,
		ChunkSize:            uc.World.ChunkSize,
		Gravity:              uc.World.Gravity,
		MaxLoadedChunks:      uc.World.MaxLoadedChunks,
		MaxRetainedChunks:    uc.World.MaxRetainedChunks,
		ChunkUnloadDelay:     time.Duration(uc.World.ChunkUnloadDelayMs) * time.Millisecond,
		AutoSaveInterval:     time.Duration(uc.World.AutoSaveIntervalMs) * time.Millisecond,
		TargetTPS:            uc.Tick.TargetFPS,
		MaxDeltaTime:         time.Duration(uc.Tick.MaxDeltaTimeMs) * time.Millisecond,
		TickRateDisabled:     uc.Tick.TickRateDisabled,
		TerminalVelocity:     uc.Physics.TerminalVelocity,
		GroundFriction:       uc.Physics.GroundFriction,
		AirFriction:          uc.Physics.AirFriction,
		CollisionEpsilon:     uc.Physics.CollisionEpsilon,
	}
	if uc.Network.RateLimitWindowMs > 0 && uc.Network.RateLimitMaxRequests > 0 {
		conf.MaxMessagesPerSecond = uc.Network.RateLimitMaxRequests * 1000 / uc.Network.RateLimitWindowMs
	}
	if uc.World.SaveData {
		dir := uc.World.DataDirectory
		if dir == "" {
			dir = "data"
		}
		if err := os.MkdirAll(dir, 0777); err != nil {
			return conf, fmt.Errorf("create data directory: %w", err)
		}
		store, err := snapshot.Open(dir)
		if err != nil {
			return conf, fmt.Errorf("open snapshot store: %w", err)
		}
		conf.Snapshots = store
	}
	return conf, nil
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Network.Address = ":8080"
	c.Network.AdminAddress = ":8081"
	c.Network.MaxMessageSize = 65536
	c.Network.MaxMessagesPerSecond = 60
	c.Network.HeartbeatMs = 30000
	c.Network.ConnectionTimeoutMs = 60000
	c.Network.MaxSubsPerClient = 100
	c.Server.Name = "Strata Server"
	c.World.ChunkSize = 32
	c.World.Gravity = -9.81
	c.World.MaxLoadedChunks = 1000
	c.World.ChunkUnloadDelayMs = 60000
	c.World.MaxRetainedChunks = 20000
	c.World.SaveData = true
	c.World.DataDirectory = "data"
	c.World.AutoSaveIntervalMs = 300000
	c.Tick.TargetFPS = 60
	c.Tick.MaxDeltaTimeMs = 100
	c.Physics.TerminalVelocity = -53
	c.Physics.GroundFriction = 0.8
	c.Physics.AirFriction = 0.98
	c.Physics.CollisionEpsilon = 0.001
	return c
}
