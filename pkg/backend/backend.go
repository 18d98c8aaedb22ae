// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

// Package backend talks to the data server: it loads the enclosure
// topology, pulls overrides and setpoints, and posts sensor datapoints.
// Client is the REST implementation; FileBackend serves the same data from
// a local YAML file for bench work.
package backend

import (
	"context"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

// Override is the operator-requested state of one actuator. A nil Value
// hands the actuator back to the control law.
type Override struct {
	ActuatorURL string
	Value       *float64
}

// DataPointSink accepts a batch of sensor readings
type DataPointSink interface {
	PostDataPoints(ctx context.Context, points []element.DataPoint) error
}

// Backend is everything the engine needs from the data server
type Backend interface {
	DataPointSink

	// Topology returns the declared sensing points and actuators
	Topology(ctx context.Context) (*Topology, error)
	// Overrides returns the override state of every actuator
	Overrides(ctx context.Context) ([]Override, error)
	// SetPoints maps resource codes without the "S" prefix (e.g. "ATM") to
	// desired values. A nil value means no setpoint.
	SetPoints(ctx context.Context) (map[string]*float64, error)
}
