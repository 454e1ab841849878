package engine

import (
	"strconv"

	"marketchart/internal/chart/tooltip"
	"marketchart/internal/model"
)

// Update is what a consumer needs to redraw the chart chrome. It is
// published at most once per loop iteration.
type Update struct {
	Session    string           `json:"session"`
	Instrument model.Instrument `json:"instrument"`
	Status     Status           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Tooltip    *tooltip.Record  `json:"tooltip,omitempty"`
	Hover      model.Hover      `json:"hover"`
	Window     *model.Window    `json:"window,omitempty"`
	HasMore    bool             `json:"has_more"`
	Version    uint64           `json:"version"`
	Bars       int              `json:"bars"`
}

// Chart is a full copy of the session for REST consumers.
type Chart struct {
	Update
	Candles []model.Candle               `json:"candles"`
	Volume  []model.VolumeBar            `json:"volume"`
	Lines   map[string][]model.LinePoint `json:"lines"`
}

// flush publishes an Update if anything changed during the last event.
func (e *Engine) flush() {
	if !e.dirty {
		return
	}
	e.dirty = false
	e.out.Publish(e.current())
}

func (e *Engine) current() Update {
	s := e.sess
	if s == nil {
		return Update{Status: StatusIdle}
	}
	u := Update{
		Session:    s.id,
		Instrument: s.inst,
		Status:     s.status,
		Hover:      s.tip.Hover(),
		HasMore:    s.status == StatusReady && s.loader.HasMore(),
		Version:    s.buf.Version(),
		Bars:       s.buf.Len(),
	}
	if s.err != nil {
		u.Error = s.err.Error()
	}
	if s.hasRecord {
		rec := s.record
		u.Tooltip = &rec
	}
	if s.hasWindow {
		w := s.window
		u.Window = &w
	}
	return u
}

func (e *Engine) snapshot() Chart {
	c := Chart{Update: e.current()}
	if s := e.sess; s != nil {
		c.Candles = s.buf.Candles()
		c.Volume = s.buf.Volume()
		c.Lines = s.buf.Lines()
	}
	return c
}

func subscriberLabel(idx int) string {
	return strconv.Itoa(idx)
}
