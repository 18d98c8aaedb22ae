// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GRO_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.Equal(t, 2*time.Second, cfg.Protocol.EstablishTimeout)
	assert.Equal(t, 3*time.Second, cfg.Protocol.ReconnectDelay)
	assert.Equal(t, 8192, cfg.Protocol.BufferSize)
	assert.Equal(t, 3500, cfg.Protocol.OverflowThreshold)
	assert.Equal(t, 15*time.Second, cfg.Engine.ServerUpdatePeriod)
	assert.Equal(t, "grostatus.log", cfg.Engine.StatusFile)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.IdleDelay)
	assert.Equal(t, 50, cfg.Element.SensingPoint.BufferCapacity)
	assert.Equal(t, 5, cfg.Element.SensingPoint.Retry.MaxRetries)
	assert.Equal(t, 600*time.Second, cfg.Element.Actuator.Retry.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Element.Actuator.MaxStateSetTime)
	assert.False(t, cfg.Climate.Enabled)
	assert.Equal(t, 0.5, cfg.Climate.Thresholds.TemperatureActive)
	assert.Equal(t, 5, cfg.Backend.Poster.MaxWorkers)
	assert.Equal(t, 50*time.Millisecond, cfg.Backend.Poster.WaitStep)
	assert.Equal(t, "tray/1/set_points/", cfg.Backend.SetPointsPath)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gro.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serial:
  port: /dev/ttyACM0
backend:
  kind: file
  file: bench.yaml
climate:
  enabled: true
  roles:
    heater: AAHE 1
    vent: AAVE 1
element:
  actuator:
    updateInterval: 2s
`), 0o600))
	t.Setenv("GRO_SERIAL_BAUD", "115200")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, "file", cfg.Backend.Kind)
	assert.Equal(t, "bench.yaml", cfg.Backend.File)
	assert.True(t, cfg.Climate.Enabled)
	assert.Equal(t, "AAHE 1", cfg.Climate.Roles["heater"])
	assert.Equal(t, 2*time.Second, cfg.Element.Actuator.UpdateInterval)
	assert.Equal(t, time.Second*60, cfg.Element.Actuator.Retry.Period)
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gro.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
