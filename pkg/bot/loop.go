// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package bot

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/OpenAgricultureFoundation/gro-controller/internal/metrics"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

// Attach makes link the device the engine reads from and commands.
// Attaching a new link after a reconnect keeps all element state.
func (e *Engine) Attach(link Link) {
	e.link = link
	e.attached.Store(link != nil)
}

// Ready reports whether a device link is attached
func (e *Engine) Ready() bool {
	return e.attached.Load()
}

// Poster returns the background datapoint poster
func (e *Engine) Poster() metrics.PosterState {
	return e.poster
}

// Run attaches link and steps the engine until ctx is cancelled or the
// link fails. The link error is returned so the caller can reconnect.
func (e *Engine) Run(ctx context.Context, link Link) error {
	e.Attach(link)
	defer e.attached.Store(false)

	e.logger.Info("control loop started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
}

// Close waits for in-flight posts to finish
func (e *Engine) Close() {
	e.poster.Wait()
}

// Step runs one iteration of the control loop: drain one device message,
// drive the actuators, write the status snapshot when due and reconcile
// with the backend when due.
func (e *Engine) Step(ctx context.Context) error {
	if e.link == nil {
		return errors.New("no device link attached")
	}

	e.profiler.StartLoop()
	cleared := e.pollDevice(false)
	e.profiler.Checkpoint("device read")

	e.updateActuators()
	e.profiler.Checkpoint("actuators updated")

	now := e.now()
	if now.Sub(e.lastStatus) > e.cfg.StatusInterval {
		e.writeStatus(now)
		e.lastStatus = now
		e.snapshots++
		e.profiler.Checkpoint("status written")
	}

	sinceReconcile := now.Sub(e.lastReconcile)
	if !e.lastReconcile.IsZero() && sinceReconcile > e.cfg.ServerUpdatePeriod {
		e.logger.Warn("didn't clear serial buffer within update period",
			zap.Duration("period", e.cfg.ServerUpdatePeriod),
			zap.Int("unposted_messages", e.unposted))
	}
	if (cleared && e.unposted > 0) || sinceReconcile > e.cfg.ServerUpdatePeriod {
		e.reconcile(ctx)
	}

	if e.snapshots > e.cfg.ProfilerClearEvery {
		e.snapshots = 0
		e.profiler.Clear()
	}
	e.metrics.ObserveLoop(e.profiler.EndLoop())

	if cleared && e.cfg.IdleDelay > 0 {
		t := time.NewTimer(e.cfg.IdleDelay)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	return e.link.Err()
}

// pollDevice reads one message and dispatches it. It reports true when
// nothing was waiting.
func (e *Engine) pollDevice(blocking bool) bool {
	payload, ok := e.link.Receive(blocking)
	if !ok {
		return true
	}
	_ = e.HandleMessage(payload)
	return false
}

// HandleMessage decodes one telemetry object and dispatches every key in
// sorted order. Dispatch errors are joined; the remaining keys are still
// dispatched.
func (e *Engine) HandleMessage(payload string) error {
	e.logger.Debug("handling message", zap.String("payload", payload))

	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		e.logger.Error("unable to parse message", zap.String("payload", payload), zap.Error(err))
		e.metrics.ObserveDispatch("parse_error")
		return err
	}
	e.unposted++

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := e.Dispatch(k, values[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unposted returns the number of messages handled since the last reconcile
func (e *Engine) Unposted() int {
	return e.unposted
}

type countingSender struct {
	e *Engine
}

func (s countingSender) Send(command string) error {
	if err := s.e.link.Send(command); err != nil {
		return err
	}
	s.e.metrics.ObserveCommand()
	return nil
}

func (e *Engine) updateActuators() {
	now := e.now()
	var decision map[element.Role]float64
	if e.climate != nil {
		decision = e.decideClimate()
	}

	sender := countingSender{e: e}
	for _, a := range e.actuatorList {
		// a role the policy has no decision for (light without a setpoint)
		// falls back to the actuator's own effects
		role, hasRole := e.climateRoles[a]
		v, decided := decision[role]
		if hasRole && decided {
			a.SetDesiredState(v, now)
		} else {
			a.Control(now)
		}

		err := a.Update(now, sender)
		var convErr *element.ConvergenceError
		switch {
		case err == nil:
		case errors.As(err, &convErr):
			e.metrics.ObserveConvergenceFailure()
		default:
			e.logger.Warn("failed to send actuator command",
				zap.String("actuator", a.Identity().ID()),
				zap.Error(err))
		}
	}
}

func (e *Engine) decideClimate() map[element.Role]float64 {
	temperature := element.ReadingOf(e.sensingPointByID(e.cfg.Climate.Temperature))
	humidity := element.ReadingOf(e.sensingPointByID(e.cfg.Climate.Humidity))

	var light *float64
	if p := e.sensingPointByID(e.cfg.Climate.Light); p != nil {
		if v, ok := p.DesiredValue(); ok {
			light = &v
		}
	}
	return e.climate.Decide(temperature, humidity, light)
}

// reconcile restores failed posts, pulls overrides and setpoints, posts the
// buffered readings and then waits for one device message.
func (e *Engine) reconcile(ctx context.Context) {
	e.profiler.Checkpoint("reconcile started")
	now := e.now()
	e.unposted = 0
	e.lastReconcile = now

	e.restoreFailed()

	e.applyOverrides(ctx, now)
	e.profiler.Checkpoint("overrides applied")

	e.applySetPoints(ctx)
	e.profiler.Checkpoint("setpoints applied")

	e.postData(ctx)
	e.profiler.Checkpoint("data posted")

	e.metrics.ObserveReconcile()
	e.pollDevice(true)
}

func (e *Engine) applyOverrides(ctx context.Context, now time.Time) {
	overrides, err := e.backend.Overrides(ctx)
	if err != nil {
		e.logger.Warn("failed to get overrides", zap.Error(err))
		return
	}
	for _, o := range overrides {
		el, err := e.ElementByURL(o.ActuatorURL)
		if err != nil {
			e.logger.Warn("override for unknown actuator", zap.String("url", o.ActuatorURL))
			continue
		}
		a, ok := el.(*element.Actuator)
		if !ok {
			e.logger.Warn("override target is not an actuator", zap.String("url", o.ActuatorURL))
			continue
		}
		if o.Value == nil {
			a.ClearOverride()
			continue
		}
		e.logger.Debug("actuator overridden",
			zap.String("actuator", a.Identity().ID()),
			zap.Float64("state", *o.Value))
		a.Override(*o.Value, now)
	}
}

func (e *Engine) applySetPoints(ctx context.Context) {
	setPoints, err := e.backend.SetPoints(ctx)
	if err != nil {
		e.logger.Warn("failed to get setpoints", zap.Error(err))
		return
	}
	for code, value := range setPoints {
		points, ok := e.points[element.SensingPointPrefix+code]
		if !ok {
			if value != nil {
				e.logger.Warn("got setpoint but there is no sensing point (probably inactive)",
					zap.String("code", code),
					zap.Float64("value", *value))
			}
			continue
		}
		for _, p := range points {
			if value == nil {
				p.ClearDesiredValue()
			} else {
				p.SetDesiredValue(*value)
			}
		}
	}
}

func (e *Engine) postData(ctx context.Context) {
	var points []element.DataPoint
	for _, p := range e.pointList {
		points = append(points, p.DrainDataPoints()...)
	}
	if len(points) == 0 {
		return
	}
	if err := e.poster.Post(ctx, points); err != nil {
		e.logger.Warn("datapoints not posted, keeping them", zap.Int("count", len(points)), zap.Error(err))
		e.restore(points)
	}
}

// onPostFailure runs on a poster worker. It hands the batch back to the
// loop goroutine, which owns the sample buffers.
func (e *Engine) onPostFailure(points []element.DataPoint, _ error) {
	select {
	case e.failed <- points:
	default:
		e.logger.Error("failed batch queue full, dropping datapoints", zap.Int("count", len(points)))
	}
}

func (e *Engine) restoreFailed() {
	for {
		select {
		case points := <-e.failed:
			e.restore(points)
		default:
			return
		}
	}
}

func (e *Engine) restore(points []element.DataPoint) {
	byURL := map[string][]element.DataPoint{}
	var order []string
	for _, dp := range points {
		if _, seen := byURL[dp.SensingPoint]; !seen {
			order = append(order, dp.SensingPoint)
		}
		byURL[dp.SensingPoint] = append(byURL[dp.SensingPoint], dp)
	}
	for _, url := range order {
		el, err := e.ElementByURL(url)
		if err != nil {
			continue
		}
		p, ok := el.(*element.SensingPoint)
		if !ok {
			continue
		}
		if dropped := p.RestoreDataPoints(byURL[url]); dropped > 0 {
			e.logger.Warn("sample buffer full, dropped oldest datapoints",
				zap.String("sensing_point", p.Identity().ID()),
				zap.Int("dropped", dropped))
		}
	}
}
