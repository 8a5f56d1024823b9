package net

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"moba-arena/internal/config"
	"moba-arena/internal/net/ws"
	"moba-arena/internal/server"
	"moba-arena/internal/telemetry"
)

type HTTPHandlerConfig struct {
	Config  *config.Config
	Logger  telemetry.Logger
	Metrics *telemetry.Registry
}

// NewHTTPHandler exposes the service surface: health and diagnostics for
// operators, the websocket endpoint for clients.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string         `json:"status"`
			ServerTime int64          `json:"serverTime"`
			TickRate   int            `json:"tickRate"`
			Hub        map[string]any `json:"hub"`
			Telemetry  map[string]any `json:"telemetry,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   cfg.Config.Simulation.TickRateHz,
			Hub:        hub.DiagnosticsSnapshot(),
		}
		if cfg.Metrics != nil {
			snapshot := cfg.Metrics.Snapshot()
			payload.Telemetry = make(map[string]any, len(snapshot))
			for key, value := range snapshot {
				payload.Telemetry[key] = value
			}
		}

		data, err := json.Marshal(payload)
		if err != nil {
			nethttp.Error(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}
	sessionHandler := ws.NewHandler(hub, cfg.Logger)

	mux.HandleFunc("/ws", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Printf("websocket upgrade failed: %v", err)
			}
			return
		}
		go sessionHandler.Serve(conn)
	})

	return mux
}
