package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"marketchart/internal/chart/loader"
	"marketchart/internal/chart/realtime"
	"marketchart/internal/chart/timeseries"
	"marketchart/internal/chart/tooltip"
	"marketchart/internal/history"
	"marketchart/internal/logger"
	"marketchart/internal/model"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// session is the state of one instrument selection. It is created on
// Select and discarded on the next one.
type session struct {
	id   string
	inst model.Instrument
	ctx  context.Context

	cancel context.CancelFunc
	unsub  func()

	buf    *timeseries.Buffer
	loader *loader.Loader
	merger *realtime.Merger
	tip    *tooltip.Resolver

	status Status
	err    error

	window    model.Window
	hasWindow bool

	record    tooltip.Record
	hasRecord bool

	pending      []model.Tick
	pendingQuote *model.QuoteSnapshot
}

func (s *session) log() *slog.Logger {
	return slog.With(logger.LogWithSession(s.ctx)...).With("instrument", s.inst.Key())
}

func (e *Engine) selectInstrument(inst model.Instrument) {
	if e.sess != nil {
		e.endSession()
		e.m.SessionSwitches.Inc()
	}

	buf, err := timeseries.New(inst, e.opts.Specs, e.theme)
	if err != nil {
		// Specs were validated in New.
		slog.Error("chart buffer init failed", "error", err)
		return
	}
	buf.OnRecompute = func(full bool, d time.Duration) {
		kind := "tail"
		if full {
			kind = "full"
		}
		e.m.RecomputeDur.WithLabelValues(kind).Observe(d.Seconds())
	}

	id := logger.NewSessionID()
	ctx, cancel := context.WithCancel(logger.WithSessionID(e.ctx, id))
	s := &session{
		id:     id,
		inst:   inst,
		ctx:    ctx,
		cancel: cancel,
		buf:    buf,
		status: StatusLoading,
	}

	s.loader = loader.New(buf, e.opts.Source, e.opts.PageSize, e.opts.Threshold)
	s.loader.Hooks = loader.Hooks{
		OnPage: func(added int) {
			e.m.BackfillPages.Inc()
			e.m.BackfillBars.Add(float64(added))
		},
		OnFailure: func(error) { e.m.BackfillFailures.Inc() },
	}

	s.merger = realtime.New(buf, e.opts.Location)
	s.merger.OnIgnored = func(reason string) {
		e.m.TicksIgnored.WithLabelValues(reason).Inc()
	}

	e.sess = s
	s.unsub = buf.Subscribe(func(ch timeseries.Change) { e.bufferChanged(s, ch) })
	s.tip = tooltip.NewResolver(buf, func(rec tooltip.Record, ok bool) {
		s.record, s.hasRecord = rec, ok
		e.dirty = true
	})
	// The pointer may still be over a pane; the panes only report moves.
	s.tip.SetHover(e.hover)
	if e.panes != nil {
		// Price labels of the new instrument may be narrower.
		e.panes.ResetWidth()
	}
	e.dirty = true

	s.log().Info("chart session started")
	if e.opts.OnSelect != nil {
		e.opts.OnSelect(inst)
	}
	e.loadInitial(s)
}

// endSession cancels in-flight fetches and detaches the current session.
func (e *Engine) endSession() {
	s := e.sess
	if s == nil {
		return
	}
	s.cancel()
	s.tip.Close()
	s.unsub()
	e.m.PendingTicks.Set(0)
	e.sess = nil
	s.log().Info("chart session ended")
}

func (e *Engine) loadInitial(s *session) {
	req := s.loader.InitialRequest(s.inst)
	start := time.Now()
	go func() {
		candles, err := e.opts.Source.Fetch(s.ctx, req)
		e.Post(func() { e.initialLoaded(s, candles, err, time.Since(start)) })
	}()
}

func (e *Engine) initialLoaded(s *session, candles []model.Candle, err error, took time.Duration) {
	if s != e.sess {
		e.m.StaleResults.Inc()
		slog.Debug("stale initial load dropped", "session", s.id)
		return
	}
	e.m.InitialLoadDur.Observe(took.Seconds())
	e.dirty = true

	if err != nil {
		e.m.InitialLoadFails.Inc()
		s.status, s.err = StatusError, err
		s.pending, s.pendingQuote = nil, nil
		e.m.PendingTicks.Set(0)
		s.log().Error("initial history load failed", "error", err)
		return
	}

	s.buf.ReplaceAll(candles)
	s.loader.Seed(len(candles))
	s.status = StatusReady
	s.buf.Notify()
	s.log().Info("initial history loaded", "bars", s.buf.Len(), "has_more", s.loader.HasMore(), "took", took)

	// Held realtime updates apply after history so today's bar is merged,
	// not duplicated.
	pending, quote := s.pending, s.pendingQuote
	s.pending, s.pendingQuote = nil, nil
	e.m.PendingTicks.Set(0)
	if quote != nil {
		e.mergeSnapshot(s, *quote)
	}
	for _, t := range pending {
		e.mergeTick(s, t)
	}

	if s.buf.Len() > 0 {
		e.frame(s, model.LiveWindow(s.buf.Len(), e.opts.VisibleBars))
		e.maybeLoadMore(s)
	}
}

func (e *Engine) maybeLoadMore(s *session) {
	if s.status != StatusReady || !s.hasWindow {
		return
	}
	req, ok := s.loader.Begin(s.window)
	if !ok {
		return
	}
	go func() {
		page, err := s.loader.Fetch(s.ctx, req)
		e.Post(func() { e.backfillDone(s, req, page, err) })
	}()
}

func (e *Engine) backfillDone(s *session, req history.Request, page []model.Candle, err error) {
	if s != e.sess {
		e.m.StaleResults.Inc()
		slog.Debug("stale backfill page dropped", "session", s.id)
		return
	}
	added := s.loader.Complete(req, page, err)
	e.dirty = true
	if added == 0 {
		return
	}
	// Keep the same candles at the same screen position, then check again:
	// a short shift may still leave the left edge near index 0.
	e.frame(s, s.window.Shift(added))
	e.maybeLoadMore(s)
}

func (e *Engine) applyTick(t model.Tick) {
	s := e.sess
	if s == nil {
		return
	}
	switch s.status {
	case StatusLoading:
		if len(s.pending) == MaxPendingTicks {
			copy(s.pending, s.pending[1:])
			s.pending = s.pending[:MaxPendingTicks-1]
		}
		s.pending = append(s.pending, t)
		e.m.PendingTicks.Set(float64(len(s.pending)))
	case StatusReady:
		e.mergeTick(s, t)
	}
}

func (e *Engine) mergeTick(s *session, t model.Tick) {
	changed, err := s.merger.ApplyTick(t)
	switch {
	case errors.Is(err, realtime.ErrStaleTick), errors.Is(err, timeseries.ErrStaleCandle):
		e.m.TicksTotal.WithLabelValues("stale").Inc()
	case err != nil:
		s.log().Warn("tick merge failed", "error", err)
	case changed:
		e.m.TicksTotal.WithLabelValues("applied").Inc()
	default:
		e.m.TicksTotal.WithLabelValues("ignored").Inc()
	}
}

func (e *Engine) applySnapshot(q model.QuoteSnapshot) {
	s := e.sess
	if s == nil {
		return
	}
	switch s.status {
	case StatusLoading:
		s.pendingQuote = &q
	case StatusReady:
		e.mergeSnapshot(s, q)
	}
}

func (e *Engine) mergeSnapshot(s *session, q model.QuoteSnapshot) {
	changed, err := s.merger.ApplySnapshot(q)
	switch {
	case errors.Is(err, realtime.ErrStaleTick), errors.Is(err, timeseries.ErrStaleCandle):
		e.m.SnapshotsTotal.WithLabelValues("stale").Inc()
	case err != nil:
		e.m.SnapshotsTotal.WithLabelValues("error").Inc()
		s.log().Warn("snapshot merge failed", "error", err)
	case changed:
		e.m.SnapshotsTotal.WithLabelValues("applied").Inc()
	default:
		e.m.SnapshotsTotal.WithLabelValues("ignored").Inc()
	}
}

// bufferChanged follows the live edge: when a new day opens while the
// newest bar was on screen, the window moves with it.
func (e *Engine) bufferChanged(s *session, ch timeseries.Change) {
	e.dirty = true
	if !ch.Appended || ch.Reset || !s.hasWindow || s.status != StatusReady {
		return
	}
	if s.window.To >= float64(s.buf.Len()-2) {
		e.frame(s, s.window.Shift(1))
	}
}
