package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RegisterRoutes registers the websocket endpoint and the hub's REST
// endpoints on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, processStart time.Time) {
	// WebSocket endpoint
	mux.Handle("/ws", hub)

	// REST: buffered envelopes for clients that missed a range of seqs
	mux.HandleFunc("/api/v1/missed", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err := strconv.ParseInt(q.Get("from"), 10, 64)
		if err != nil {
			WriteJSON(w, http.StatusBadRequest, ErrorMsg{Type: MsgError, Error: "from: " + err.Error()})
			return
		}
		to := hub.Seq()
		if v := q.Get("to"); v != "" {
			if to, err = strconv.ParseInt(v, 10, 64); err != nil {
				WriteJSON(w, http.StatusBadRequest, ErrorMsg{Type: MsgError, Error: "to: " + err.Error()})
				return
			}
		}

		missed := hub.Missed(from, to)
		out := make([]json.RawMessage, len(missed))
		for i, m := range missed {
			out[i] = m
		}
		WriteJSON(w, http.StatusOK, out)
	})

	// REST: system metrics snapshot
	mux.HandleFunc("/api/v1/system", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, CollectMetrics(processStart, hub))
	})
}
