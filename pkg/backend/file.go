// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package backend

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

// FileDocument is the YAML layout read by FileBackend
type FileDocument struct {
	Topology  `yaml:",inline"`
	SetPoints map[string]*float64 `yaml:"setPoints"`
	// Overrides maps actuator URL to a forced state
	Overrides map[string]*float64 `yaml:"overrides"`
}

// FileBackend serves topology, setpoints and overrides from a YAML file so
// the controller can run on a bench without a server. The file is re-read
// on every call, so setpoints and overrides can be edited while running.
// Posted datapoints are only logged.
type FileBackend struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	posted int
}

// NewFileBackend creates a backend over path
func NewFileBackend(path string, logger *zap.Logger) *FileBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileBackend{path: path, logger: logger}
}

func (b *FileBackend) load() (*FileDocument, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, &Error{Op: "read", URL: b.path, Err: err}
	}
	var doc FileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Op: "read", URL: b.path, Err: fmt.Errorf("parse yaml: %w", err)}
	}
	return &doc, nil
}

// Topology returns the declared elements
func (b *FileBackend) Topology(context.Context) (*Topology, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	return &doc.Topology, nil
}

// Overrides returns the overrides sorted by actuator URL
func (b *FileBackend) Overrides(context.Context) ([]Override, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	out := make([]Override, 0, len(doc.Overrides))
	for url, v := range doc.Overrides {
		out = append(out, Override{ActuatorURL: url, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActuatorURL < out[j].ActuatorURL })
	return out, nil
}

// SetPoints returns the setpoint map
func (b *FileBackend) SetPoints(context.Context) (map[string]*float64, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	return doc.SetPoints, nil
}

// PostDataPoints logs the batch
func (b *FileBackend) PostDataPoints(_ context.Context, points []element.DataPoint) error {
	b.mu.Lock()
	b.posted += len(points)
	total := b.posted
	b.mu.Unlock()

	for _, p := range points {
		b.logger.Debug("datapoint",
			zap.String("sensing_point", p.SensingPoint),
			zap.Int64("timestamp", p.Timestamp),
			zap.Float64("value", p.Value))
	}
	b.logger.Info("datapoints recorded", zap.Int("count", len(points)), zap.Int("total", total))
	return nil
}

// Posted returns how many datapoints were recorded
func (b *FileBackend) Posted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.posted
}
