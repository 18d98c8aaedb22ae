// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package bot

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/OpenAgricultureFoundation/gro-controller/internal/metrics"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/backend"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

// ============================================================
// Registry
// ============================================================

func TestNew_Registry(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	e := h.engine

	el, err := e.Lookup(element.KindSensingPoint, "SATM", 1)
	require.NoError(t, err)
	assert.Equal(t, tempURL, el.Identity().URL)

	el, err = e.ElementByURL(heaterURL)
	require.NoError(t, err)
	assert.Equal(t, "AAHE 1", el.Identity().ID())

	var ids []string
	for _, p := range e.SensingPoints() {
		ids = append(ids, p.Identity().ID())
	}
	assert.Equal(t, []string{"SAHU 1", "SATM 1"}, ids)

	ids = nil
	for _, a := range e.Actuators() {
		ids = append(ids, a.Identity().ID())
	}
	assert.Equal(t, []string{"AAHE 1", "AAVE 1"}, ids)
}

func TestNew_NotFound(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	el, err := h.engine.Lookup(element.KindSensingPoint, "SLIN", 1)
	assert.Nil(t, el)
	assert.ErrorIs(t, err, ErrNotFound)

	el, err = h.engine.Lookup(element.KindGeneral, "GEND", 0)
	assert.Nil(t, el)
	assert.ErrorIs(t, err, ErrNotFound)

	el, err = h.engine.ElementByURL(lightURL)
	assert.Nil(t, el)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_DuplicateElement(t *testing.T) {
	topo := greenhouse()
	topo.SensingPoints = append(topo.SensingPoints,
		backend.SensingPointSpec{Code: "SATM", Index: 1, URL: "http://gro.local/sensingPoint/9/", Active: true})

	_, err := New(topo, &fakeBackend{}, testConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate sensing point SATM 1")
}

func TestNew_DuplicateURL(t *testing.T) {
	topo := greenhouse()
	topo.Actuators = append(topo.Actuators, backend.ActuatorSpec{Code: "AAHU", Index: 1, URL: heaterURL})

	_, err := New(topo, &fakeBackend{}, testConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate element url")
}

func TestNew_InactiveEffectDropped(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	temp := h.point(t, "SATM")
	temp.RecordValue(10, t0)
	temp.SetDesiredValue(10)

	// Only the temperature effect is bound, so a settled temperature
	// leaves the heater off.
	heater := h.actuator(t, "AAHE")
	heater.Control(t0)
	state, ok := heater.State()
	require.True(t, ok)
	assert.Equal(t, 0.0, state)
}

// ============================================================
// Dispatch
// ============================================================

func TestDispatch_RoutesValues(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	require.NoError(t, h.engine.Dispatch("SATM 1", 22.8))
	require.NoError(t, h.engine.Dispatch("AAHE 1", "1"))

	v, ok := h.point(t, "SATM").Value()
	require.True(t, ok)
	assert.Equal(t, 22.8, v)

	state, ok := h.actuator(t, "AAHE").CurrentState()
	require.True(t, ok)
	assert.Equal(t, 1.0, state)
}

func TestDispatch_UnregisteredLoggedOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := newHarness(t, testConfig(), zap.New(core))

	var dispatchErrs int
	for range 100 {
		err := h.engine.Dispatch("SXXX 9", 1.0)
		if err != nil {
			var de *DispatchError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "SXXX 9", de.ID)
			dispatchErrs++
		}
	}

	assert.Equal(t, 1, dispatchErrs)
	assert.Equal(t, 1, logs.FilterMessage("cannot handle message part, ignoring from now on").Len())
}

func TestDispatch_UnknownTag(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := newHarness(t, testConfig(), zap.New(core))

	err := h.engine.Dispatch("Q 1", 3.0)
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Error(), "unknown element tag")

	require.NoError(t, h.engine.Dispatch("Q 1", 3.0))
	require.Error(t, h.engine.Dispatch("", 3.0))
	assert.Equal(t, 2, logs.FilterMessage("cannot handle message part, ignoring from now on").Len())
}

func TestDispatch_BadIdentifier(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	err := h.engine.Dispatch("SATM", 1.0)
	var de *DispatchError
	require.ErrorAs(t, err, &de)
}

func TestDispatch_InactiveWarnsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := newHarness(t, testConfig(), zap.New(core))

	for range 10 {
		require.NoError(t, h.engine.Dispatch("SLIN 1", 300.0))
	}
	assert.Equal(t, 1, logs.FilterMessage("got message for inactive sensing point, ignoring from now on").Len())
}

func TestDispatch_GeneralMessages(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := newHarness(t, testConfig(), zap.New(core))

	require.NoError(t, h.engine.Dispatch("GEND", nil))
	require.NoError(t, h.engine.Dispatch("GVER", "1.4"))
	assert.Zero(t, logs.Len())
}

func TestDispatch_BudgetSuppresses(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	for i := range 5 {
		err := h.engine.Dispatch("SATM 1", "ERROR")
		require.Error(t, err, "failure %d", i)
		var de *DispatchError
		assert.False(t, errors.As(err, &de))
	}

	// Suppressed: even a good value is dropped during the cool-down
	require.NoError(t, h.engine.Dispatch("SATM 1", 21.0))
	_, ok := h.point(t, "SATM").Value()
	assert.False(t, ok)

	// Other elements are unaffected
	require.NoError(t, h.engine.Dispatch("SAHU 1", 40.0))

	h.clock.advance(11 * time.Minute)
	require.NoError(t, h.engine.Dispatch("SATM 1", 21.0))
	v, ok := h.point(t, "SATM").Value()
	require.True(t, ok)
	assert.Equal(t, 21.0, v)
}

func TestDispatch_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAppMetrics(reg)
	h := newHarness(t, testConfig(), nil, WithMetrics(m))

	require.NoError(t, h.engine.Dispatch("SATM 1", 20.0))
	require.NoError(t, h.engine.Dispatch("GEND", nil))
	require.Error(t, h.engine.Dispatch("SXXX 1", 1.0))
	require.NoError(t, h.engine.Dispatch("SXXX 1", 1.0))
	require.NoError(t, h.engine.Dispatch("SLIN 1", 1.0))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("unroutable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("inactive")))
}

// ============================================================
// Messages
// ============================================================

func TestHandleMessage(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	require.NoError(t, h.engine.HandleMessage(`{"SATM 1": 22.8, "SAHU 1": "45.5", "AAHE 1": 1, "GEND": 0}`))
	assert.Equal(t, 1, h.engine.Unposted())

	v, _ := h.point(t, "SATM").Value()
	assert.Equal(t, 22.8, v)
	v, _ = h.point(t, "SAHU").Value()
	assert.Equal(t, 45.5, v)
	state, _ := h.actuator(t, "AAHE").CurrentState()
	assert.Equal(t, 1.0, state)
}

func TestHandleMessage_PartialFailure(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	err := h.engine.HandleMessage(`{"SATM 1": 20, "SNOPE 1": 3, "SAHU 1": 50}`)
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "SNOPE 1", de.ID)

	_, ok := h.point(t, "SATM").Value()
	assert.True(t, ok)
	_, ok = h.point(t, "SAHU").Value()
	assert.True(t, ok)
}

func TestHandleMessage_BadJSON(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := newHarness(t, testConfig(), zap.New(core))

	require.Error(t, h.engine.HandleMessage(`{"SATM 1": 22.8`))
	assert.Zero(t, h.engine.Unposted())
	assert.Equal(t, 1, logs.FilterMessage("unable to parse message").Len())
}
