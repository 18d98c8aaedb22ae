// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package element

// Direction is which way a reading has to move to reach its setpoint
type Direction int

const (
	Decrease Direction = -1
	Hold     Direction = 0
	Increase Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Decrease:
		return "decrease"
	case Increase:
		return "increase"
	default:
		return "hold"
	}
}

// ComputeDirection compares desired against reported with a dead band of threshold
func ComputeDirection(desired, reported, threshold float64) Direction {
	switch {
	case desired < reported-threshold:
		return Decrease
	case desired > reported+threshold:
		return Increase
	default:
		return Hold
	}
}

// Role is the part an actuator plays in the climate table
type Role string

const (
	RoleHeater      Role = "heater"
	RoleHumidifier  Role = "humidifier"
	RoleVent        Role = "vent"
	RoleCirculation Role = "circulation"
	RoleLightPanel  Role = "light_panel"
	RoleLightVent   Role = "light_vent"
)

// ClimateDecision is the on/off state per climate actuator
type ClimateDecision struct {
	Heater      float64
	Humidifier  float64
	Vent        float64
	Circulation float64
}

// climateTable is indexed by [temperature+1][humidity+1]
var climateTable = [3][3]ClimateDecision{
	{ // temperature decrease
		{Heater: 0, Humidifier: 0, Vent: 1, Circulation: 1},
		{Heater: 0, Humidifier: 0, Vent: 1, Circulation: 1},
		{Heater: 0, Humidifier: 1, Vent: 1, Circulation: 1},
	},
	{ // temperature hold
		{Heater: 0, Humidifier: 0, Vent: 1, Circulation: 1},
		{Heater: 0, Humidifier: 0, Vent: 0, Circulation: 1},
		{Heater: 0, Humidifier: 1, Vent: 0, Circulation: 1},
	},
	{ // temperature increase
		{Heater: 1, Humidifier: 0, Vent: 1, Circulation: 1},
		{Heater: 1, Humidifier: 0, Vent: 0, Circulation: 1},
		{Heater: 1, Humidifier: 1, Vent: 0, Circulation: 1},
	},
}

// DecideClimate looks up the actuator states for a temperature and humidity direction
func DecideClimate(temperature, humidity Direction) ClimateDecision {
	return climateTable[temperature+1][humidity+1]
}

// DecideLight turns the light panel and its vent on whenever any light is wanted
func DecideLight(desiredIntensity float64) (panel, vent float64) {
	if desiredIntensity > 0 {
		return 1, 1
	}
	return 0, 0
}

// ClimateThresholds are the dead bands per variable. The active band
// applies while the variable is being driven, the inactive band while idle.
type ClimateThresholds struct {
	TemperatureActive   float64 `mapstructure:"temperatureActive" yaml:"temperatureActive"`
	TemperatureInactive float64 `mapstructure:"temperatureInactive" yaml:"temperatureInactive"`
	HumidityActive      float64 `mapstructure:"humidityActive" yaml:"humidityActive"`
	HumidityInactive    float64 `mapstructure:"humidityInactive" yaml:"humidityInactive"`
}

// DefaultClimateThresholds returns the enclosure's tuned bands
func DefaultClimateThresholds() ClimateThresholds {
	return ClimateThresholds{
		TemperatureActive:   0.5,
		TemperatureInactive: 1,
		HumidityActive:      2,
		HumidityInactive:    4,
	}
}

// Reading is a setpoint and measurement pair; Known is false when either is missing
type Reading struct {
	Desired  float64
	Reported float64
	Known    bool
}

// ReadingOf builds a Reading from a sensing point; nil gives an unknown reading
func ReadingOf(p *SensingPoint) Reading {
	if p == nil {
		return Reading{}
	}
	reported, okR := p.Value()
	desired, okD := p.DesiredValue()
	return Reading{Desired: desired, Reported: reported, Known: okR && okD}
}

// ClimatePolicy runs the table with per-variable hysteresis
type ClimatePolicy struct {
	thresholds         ClimateThresholds
	temperatureDriving bool
	humidityDriving    bool
}

// NewClimatePolicy creates a policy with the given dead bands
func NewClimatePolicy(thresholds ClimateThresholds) *ClimatePolicy {
	return &ClimatePolicy{thresholds: thresholds}
}

// Decide returns the desired state per role. Light roles are omitted when
// there is no light setpoint.
func (p *ClimatePolicy) Decide(temperature, humidity Reading, light *float64) map[Role]float64 {
	tempDir := Hold
	if temperature.Known {
		threshold := p.thresholds.TemperatureInactive
		if p.temperatureDriving {
			threshold = p.thresholds.TemperatureActive
		}
		tempDir = ComputeDirection(temperature.Desired, temperature.Reported, threshold)
	}
	p.temperatureDriving = tempDir != Hold

	humDir := Hold
	if humidity.Known {
		threshold := p.thresholds.HumidityInactive
		if p.humidityDriving {
			threshold = p.thresholds.HumidityActive
		}
		humDir = ComputeDirection(humidity.Desired, humidity.Reported, threshold)
	}
	p.humidityDriving = humDir != Hold

	d := DecideClimate(tempDir, humDir)
	out := map[Role]float64{
		RoleHeater:      d.Heater,
		RoleHumidifier:  d.Humidifier,
		RoleVent:        d.Vent,
		RoleCirculation: d.Circulation,
	}
	if light != nil {
		out[RoleLightPanel], out[RoleLightVent] = DecideLight(*light)
	}
	return out
}
