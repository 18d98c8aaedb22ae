// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package backend

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

// SensingPointSpec declares one sensing point
type SensingPointSpec struct {
	Code   string `yaml:"code"`
	Index  int    `yaml:"index"`
	URL    string `yaml:"url"`
	Active bool   `yaml:"active"`
}

// ActuatorSpec declares one actuator and how it moves each sensing point
type ActuatorSpec struct {
	Code    string           `yaml:"code"`
	Index   int              `yaml:"index"`
	URL     string           `yaml:"url"`
	Binary  bool             `yaml:"binary"`
	Effects []element.Effect `yaml:"effects"`
}

// Topology is the declared element set of one enclosure
type Topology struct {
	SensingPoints []SensingPointSpec `yaml:"sensingPoints"`
	Actuators     []ActuatorSpec     `yaml:"actuators"`
}

// Fetcher is the read side of the REST client that LoadTopology walks
type Fetcher interface {
	GetJSON(ctx context.Context, url string, allPages, useCache bool) (any, error)
	URLByName(name string) (string, error)
}

// Server documents. Only the fields the controller reads are declared.
type (
	sensingPointDoc struct {
		URL      string `mapstructure:"url"`
		Index    int    `mapstructure:"index"`
		Property string `mapstructure:"property"`
		IsActive bool   `mapstructure:"is_active"`
	}
	propertyDoc struct {
		Code          string   `mapstructure:"code"`
		ResourceType  string   `mapstructure:"resource_type"`
		SensingPoints []string `mapstructure:"sensing_points"`
	}
	codeDoc struct {
		Code string `mapstructure:"code"`
	}
	resourceDoc struct {
		ResourceType string `mapstructure:"resource_type"`
	}
	actuatorDoc struct {
		URL            string   `mapstructure:"url"`
		Index          int      `mapstructure:"index"`
		ActuatorType   string   `mapstructure:"actuator_type"`
		Resource       string   `mapstructure:"resource"`
		ControlProfile string   `mapstructure:"control_profile"`
		OverrideValue  *float64 `mapstructure:"override_value"`
	}
	actuatorTypeDoc struct {
		IsBinary       bool   `mapstructure:"is_binary"`
		ResourceEffect string `mapstructure:"resource_effect"`
	}
	controlProfileDoc struct {
		Effects []effectDoc `mapstructure:"effects"`
	}
	effectDoc struct {
		Property          string  `mapstructure:"property"`
		EffectOnActive    float64 `mapstructure:"effect_on_active"`
		Threshold         float64 `mapstructure:"threshold"`
		OperatingRangeMin float64 `mapstructure:"operating_range_min"`
		OperatingRangeMax float64 `mapstructure:"operating_range_max"`
	}
)

func decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// fetchDoc reads one document, from cache when possible
func fetchDoc(ctx context.Context, f Fetcher, url string, out any) error {
	v, err := f.GetJSON(ctx, url, false, true)
	if err != nil {
		return err
	}
	if err := decode(v, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// fetchList reads every page of a list endpoint
func fetchList(ctx context.Context, f Fetcher, url string, out any) error {
	v, err := f.GetJSON(ctx, url, true, false)
	if err != nil {
		return err
	}
	if err := decode(v, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// LoadTopology builds the element set from the server's linked resources.
// Sensing point codes are "S" + resource type + property (SATM), actuator
// codes "A" + resource type + resource effect (AAHE). Effects on sensing
// points that are missing or inactive are left out.
func LoadTopology(ctx context.Context, f Fetcher, logger *zap.Logger) (*Topology, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	topo := &Topology{}

	spURL, err := f.URLByName("sensing_point")
	if err != nil {
		return nil, err
	}
	var points []sensingPointDoc
	if err := fetchList(ctx, f, spURL, &points); err != nil {
		return nil, fmt.Errorf("sensing points: %w", err)
	}

	active := make(map[string]bool, len(points))
	for _, p := range points {
		var prop propertyDoc
		if err := fetchDoc(ctx, f, p.Property, &prop); err != nil {
			return nil, fmt.Errorf("sensing point %s: %w", p.URL, err)
		}
		var rtype codeDoc
		if err := fetchDoc(ctx, f, prop.ResourceType, &rtype); err != nil {
			return nil, fmt.Errorf("sensing point %s: %w", p.URL, err)
		}

		topo.SensingPoints = append(topo.SensingPoints, SensingPointSpec{
			Code:   "S" + rtype.Code + prop.Code,
			Index:  p.Index,
			URL:    p.URL,
			Active: p.IsActive,
		})
		active[p.URL] = p.IsActive
	}

	actURL, err := f.URLByName("actuator")
	if err != nil {
		return nil, err
	}
	var actuators []actuatorDoc
	if err := fetchList(ctx, f, actURL, &actuators); err != nil {
		return nil, fmt.Errorf("actuators: %w", err)
	}

	for _, a := range actuators {
		spec, err := loadActuator(ctx, f, a, active, logger)
		if err != nil {
			return nil, fmt.Errorf("actuator %s: %w", a.URL, err)
		}
		topo.Actuators = append(topo.Actuators, spec)
	}

	logger.Info("topology loaded",
		zap.Int("sensing_points", len(topo.SensingPoints)),
		zap.Int("actuators", len(topo.Actuators)))
	return topo, nil
}

func loadActuator(ctx context.Context, f Fetcher, a actuatorDoc, active map[string]bool, logger *zap.Logger) (ActuatorSpec, error) {
	var (
		atype    actuatorTypeDoc
		resource resourceDoc
		rtype    codeDoc
		effect   codeDoc
		profile  controlProfileDoc
	)
	if err := fetchDoc(ctx, f, a.ActuatorType, &atype); err != nil {
		return ActuatorSpec{}, err
	}
	if err := fetchDoc(ctx, f, a.Resource, &resource); err != nil {
		return ActuatorSpec{}, err
	}
	if err := fetchDoc(ctx, f, resource.ResourceType, &rtype); err != nil {
		return ActuatorSpec{}, err
	}
	if err := fetchDoc(ctx, f, atype.ResourceEffect, &effect); err != nil {
		return ActuatorSpec{}, err
	}
	if err := fetchDoc(ctx, f, a.ControlProfile, &profile); err != nil {
		return ActuatorSpec{}, err
	}

	spec := ActuatorSpec{
		Code:   "A" + rtype.Code + effect.Code,
		Index:  a.Index,
		URL:    a.URL,
		Binary: atype.IsBinary,
	}
	for _, e := range profile.Effects {
		var prop propertyDoc
		if err := fetchDoc(ctx, f, e.Property, &prop); err != nil {
			return ActuatorSpec{}, err
		}
		for _, sp := range prop.SensingPoints {
			if !active[sp] {
				logger.Debug("no active sensing point, not adding effect",
					zap.String("actuator", fmt.Sprintf("%s %d", spec.Code, spec.Index)),
					zap.String("sensing_point", sp))
				continue
			}
			spec.Effects = append(spec.Effects, element.Effect{
				SensingPointURL:   sp,
				EffectOnActive:    e.EffectOnActive,
				Threshold:         e.Threshold,
				OperatingRangeMin: e.OperatingRangeMin,
				OperatingRangeMax: e.OperatingRangeMax,
			})
		}
	}
	return spec, nil
}
