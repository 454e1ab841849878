// Package api provides the HTTP API of the chart service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"marketchart/config"
	"marketchart/internal/chart/engine"
	"marketchart/internal/gateway"
	"marketchart/internal/markethours"
	"marketchart/internal/metrics"
)

// Deps are the services the router exposes. Health and Calendar are
// optional.
type Deps struct {
	Engine   *engine.Engine
	Hub      *gateway.Hub
	Health   *metrics.HealthStatus
	Calendar *markethours.Calendar
	Start    time.Time

	// Now defaults to time.Now.
	Now func() time.Time
}

type selectRequest struct {
	Instrument string `json:"instrument"`
}

type marketStatus struct {
	Open   bool   `json:"open"`
	Status string `json:"status"`
	Day    int64  `json:"day"`
	TZ     string `json:"tz"`
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) *http.ServeMux {
	if d.Now == nil {
		d.Now = time.Now
	}
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, d.Hub, d.Start)

	// Health check
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Health == nil {
			gateway.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		gateway.SetCORS(w)
		d.Health.ServeHTTP(w, r)
	})

	// GET /api/v1/chart: full chart contents for a first paint
	mux.HandleFunc("/api/v1/chart", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		chart, err := d.Engine.Snapshot(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		gateway.WriteJSON(w, http.StatusOK, chart)
	})

	// POST /api/v1/select {"instrument":"KRX:KOSPI:005930"}
	mux.HandleFunc("/api/v1/select", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			gateway.WriteJSON(w, http.StatusOK, nil)
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req selectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON")
			return
		}
		inst, err := config.ParseInstrument(req.Instrument)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := d.Engine.Select(inst); err != nil {
			writeEngineError(w, err)
			return
		}
		gateway.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "loading", "instrument": inst.Key()})
	})

	// POST /api/v1/live: scroll back to the newest bars
	mux.HandleFunc("/api/v1/live", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		d.Engine.JumpToLive()
		gateway.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
	})

	// GET /api/v1/market: trading session state
	mux.HandleFunc("/api/v1/market", func(w http.ResponseWriter, r *http.Request) {
		if d.Calendar == nil {
			gateway.WriteJSON(w, http.StatusNotFound, gateway.ErrorMsg{Type: gateway.MsgError, Error: "no market calendar"})
			return
		}
		now := d.Now()
		gateway.WriteJSON(w, http.StatusOK, marketStatus{
			Open:   d.Calendar.IsMarketOpen(now),
			Status: d.Calendar.StatusString(now),
			Day:    d.Calendar.DayKey(now),
			TZ:     d.Calendar.Location().String(),
		})
	})

	return mux
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrNoInstrument):
		status = http.StatusBadRequest
	}
	gateway.WriteJSON(w, status, gateway.ErrorMsg{Type: gateway.MsgError, Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	gateway.WriteJSON(w, http.StatusBadRequest, gateway.ErrorMsg{Type: gateway.MsgError, Error: msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	gateway.WriteJSON(w, http.StatusMethodNotAllowed, gateway.ErrorMsg{Type: gateway.MsgError, Error: "method not allowed"})
}
