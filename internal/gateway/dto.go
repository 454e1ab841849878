package gateway

import (
	"marketchart/internal/chart/timeseries"
	"marketchart/internal/model"
)

// Client to server message types.
const (
	MsgBind      = "bind"      // attach this client's panes to the engine
	MsgRange     = "range"     // visible logical range changed in a pane
	MsgCrosshair = "crosshair" // pointer moved in or left a pane
	MsgLayout    = "layout"    // pane price scale width measured
	MsgDestroy   = "destroy"   // pane torn down
	MsgSelect    = "select"    // switch instrument
	MsgLive      = "live"      // jump to live edge
	MsgTheme     = "theme"     // switch volume colours
)

// Server to client message types.
const (
	MsgUpdate = "update"
	MsgPane   = "pane"
	MsgError  = "error"
	MsgPong   = "pong"
)

// Pane names used on the wire.
const (
	PanePrice     = "price"
	PaneIndicator = "indicator"
)

// Pane command ops sent to the browser.
const (
	OpSetRange       = "set_range"
	OpSetCrosshair   = "set_crosshair"
	OpClearCrosshair = "clear_crosshair"
	OpSetMinWidth    = "set_min_width"
)

// InboundMsg is any message a browser sends. Fields are set per Type.
type InboundMsg struct {
	Type       string            `json:"type"`
	Pane       string            `json:"pane,omitempty"`
	Window     *model.Window     `json:"window,omitempty"`
	Time       int64             `json:"time,omitempty"`
	Price      float64           `json:"price,omitempty"`
	HasPrice   bool              `json:"has_price,omitempty"`
	Inside     bool              `json:"inside,omitempty"`
	Width      float64           `json:"width,omitempty"`
	Instrument string            `json:"instrument,omitempty"`
	Theme      *timeseries.Theme `json:"theme,omitempty"`
	Ping       int64             `json:"ping,omitempty"`
}

// PaneCommand asks the browser to change one pane.
type PaneCommand struct {
	Type     string        `json:"type"`
	Pane     string        `json:"pane"`
	Op       string        `json:"op"`
	Window   *model.Window `json:"window,omitempty"`
	Time     int64         `json:"time,omitempty"`
	Price    float64       `json:"price,omitempty"`
	HasPrice bool          `json:"has_price,omitempty"`
	Width    float64       `json:"width,omitempty"`
}

// ErrorMsg reports a rejected client message.
type ErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type     string `json:"type"`
	Ping     int64  `json:"ping"`
	ServerTS int64  `json:"server_ts"`
}
