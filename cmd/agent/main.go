// Command agent is a minimal room participant: it joins the configured room,
// echoes RPC calls and text streams back to their senders, and logs room
// events. It doubles as a wiring example for the library.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/eleven-am/roomkit/ffi"
	"github.com/eleven-am/roomkit/room"
	"github.com/eleven-am/roomkit/rpc"
	"github.com/eleven-am/roomkit/stream"
)

type Config struct {
	URL        string
	APIKey     string
	APISecret  string
	RoomName   string
	Identity   string
	EngineAddr string
	LogLevel   string
}

func LoadConfig() *Config {
	return &Config{
		URL:        getEnv("AGENT_URL", "ws://localhost:7880"),
		APIKey:     getEnv("AGENT_API_KEY", ""),
		APISecret:  getEnv("AGENT_API_SECRET", ""),
		RoomName:   getEnv("AGENT_ROOM", "demo"),
		Identity:   getEnv("AGENT_IDENTITY", "echo-agent"),
		EngineAddr: getEnv("AGENT_ENGINE_ADDR", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

// ProvideBoundary picks the engine transport: a websocket bridge when
// AGENT_ENGINE_ADDR is set, the in-process native engine otherwise.
func ProvideBoundary(cfg *Config, logger *slog.Logger) (ffi.Boundary, error) {
	if cfg.EngineAddr != "" {
		return ffi.DialRemoteBoundary(cfg.EngineAddr, nil, logger)
	}
	return ffi.NewNativeBoundary(logger)
}

func ProvideRoom(boundary ffi.Boundary, logger *slog.Logger) *room.Room {
	cb := &room.Callback{
		OnParticipantConnected: func(p *room.RemoteParticipant) {
			logger.Info("participant joined", "identity", p.Identity())
		},
		OnParticipantDisconnected: func(p *room.RemoteParticipant) {
			logger.Info("participant left", "identity", p.Identity())
		},
		OnTrackPublished: func(track ffi.TrackInfo, p *room.RemoteParticipant) {
			logger.Info("track published", "sid", track.SID, "kind", track.Kind, "identity", p.Identity())
		},
		OnDataReceived: func(payload []byte, topic, sender string) {
			logger.Info("data received", "bytes", len(payload), "topic", topic, "sender", sender)
		},
		OnActiveSpeakersChanged: func(identities []string) {
			logger.Debug("active speakers", "identities", identities)
		},
		OnDisconnected: func(reason string) {
			logger.Info("room disconnected", "reason", reason)
		},
	}
	return room.New(boundary, cb, room.WithLogger(logger))
}

func StartAgent(lc fx.Lifecycle, r *room.Room, cfg *Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.RegisterRPCMethod("echo", func(_ context.Context, inv *rpc.Invocation) (string, error) {
				logger.Info("echo rpc", "caller", inv.CallerIdentity)
				return inv.Payload, nil
			})

			err := r.RegisterTextStreamHandler("echo", func(tr *stream.TextReader, sender string) {
				text, err := tr.ReadAllText(context.Background())
				if err != nil {
					logger.Warn("stream read failed", "sender", sender, "error", err)
					return
				}
				echoCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				w, err := r.StreamText(echoCtx, stream.WriteOptions{
					Topic:        "echo",
					Destinations: []string{sender},
				})
				if err != nil {
					logger.Warn("stream open failed", "error", err)
					return
				}
				if err := w.Write(echoCtx, text); err != nil {
					logger.Warn("stream write failed", "error", err)
				}
				if err := w.Close(echoCtx); err != nil {
					logger.Warn("stream close failed", "error", err)
				}
			})
			if err != nil {
				return fmt.Errorf("register stream handler: %w", err)
			}

			return r.Connect(ctx, room.ConnectInfo{
				URL:                 cfg.URL,
				APIKey:              cfg.APIKey,
				APISecret:           cfg.APISecret,
				RoomName:            cfg.RoomName,
				ParticipantIdentity: cfg.Identity,
			})
		},
		OnStop: func(ctx context.Context) error {
			return r.Disconnect(ctx)
		},
	})
}

func main() {
	fx.New(
		fx.Provide(
			LoadConfig,
			ProvideLogger,
			ProvideBoundary,
			ProvideRoom,
		),
		fx.Invoke(StartAgent),
	).Run()
}
