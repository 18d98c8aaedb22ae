// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package element

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SensingPointConfig controls how readings are recorded and buffered
type SensingPointConfig struct {
	// RefreshInterval re-records an unchanged value once it is this old
	RefreshInterval time.Duration `mapstructure:"refreshInterval" yaml:"refreshInterval"`
	// SampleInterval is the minimum spacing between buffered samples
	SampleInterval time.Duration `mapstructure:"sampleInterval" yaml:"sampleInterval"`
	BufferCapacity int           `mapstructure:"bufferCapacity" yaml:"bufferCapacity"`
	BacklogWarning int           `mapstructure:"backlogWarning" yaml:"backlogWarning"`
	Retry          RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// DefaultSensingPointConfig matches the firmware's reporting cadence
func DefaultSensingPointConfig() SensingPointConfig {
	return SensingPointConfig{
		RefreshInterval: 60 * time.Second,
		SampleInterval:  5 * time.Second,
		BufferCapacity:  50,
		BacklogWarning:  20,
		Retry:           DefaultRetryConfig(),
	}
}

// SensingPoint is one sensor reading channel, e.g. air temperature "SATM 1"
type SensingPoint struct {
	ident  Identity
	active bool
	cfg    SensingPointConfig
	budget *ErrorBudget
	buffer *SampleBuffer
	logger *zap.Logger

	value     float64
	hasValue  bool
	timestamp time.Time
	posted    bool

	desired        float64
	hasDesired     bool
	desiredUpdated bool
}

// NewSensingPoint creates a sensing point. Inactive points are tracked but never controlled.
func NewSensingPoint(code string, index int, url string, active bool, cfg SensingPointConfig, logger *zap.Logger) *SensingPoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := Identity{Kind: KindSensingPoint, Code: code, Index: index, URL: url}
	return &SensingPoint{
		ident:  id,
		active: active,
		cfg:    cfg,
		budget: NewErrorBudget(id.ID(), cfg.Retry, logger),
		buffer: NewSampleBuffer(cfg.BufferCapacity),
		logger: logger,
		posted: true,
	}
}

// Identity returns the element identity
func (s *SensingPoint) Identity() Identity { return s.ident }

// Active reports whether the point takes part in dispatch and control
func (s *SensingPoint) Active() bool { return s.active }

// Budget returns the retry budget
func (s *SensingPoint) Budget() *ErrorBudget { return s.budget }

// Buffer returns the sample buffer
func (s *SensingPoint) Buffer() *SampleBuffer { return s.buffer }

// PostURL is where single readings are posted
func (s *SensingPoint) PostURL() string {
	return strings.TrimSuffix(s.ident.URL, "/") + "/value/"
}

// Value returns the latest reading
func (s *SensingPoint) Value() (float64, bool) {
	return s.value, s.hasValue
}

// Timestamp returns when the latest reading was recorded
func (s *SensingPoint) Timestamp() time.Time {
	return s.timestamp
}

// Posted reports whether the latest reading has been sent to the backend
func (s *SensingPoint) Posted() bool {
	return s.posted
}

// HandleValue parses a raw device reading and records it
func (s *SensingPoint) HandleValue(raw any, now time.Time) error {
	v, err := ParseValue(raw)
	if err != nil {
		return err
	}
	s.RecordValue(v, now)
	return nil
}

// RecordValue stores v if it changed or the previous reading is stale, and
// buffers a sample when the last one is at least SampleInterval old.
func (s *SensingPoint) RecordValue(v float64, now time.Time) {
	if s.hasValue && s.value == v && now.Sub(s.timestamp) <= s.cfg.RefreshInterval {
		return
	}
	s.value = v
	s.hasValue = true
	s.timestamp = now
	s.posted = false

	last, ok := s.buffer.Last()
	if !ok || now.Sub(last.Time) >= s.cfg.SampleInterval {
		s.buffer.Push(Sample{Time: now, Value: v})
	}

	if n := s.buffer.Len(); n > s.cfg.BacklogWarning {
		s.logger.Warn("sample buffer is getting big",
			zap.String("element", s.ident.ID()),
			zap.Int("samples", n))
	}
}

// DesiredValue returns the setpoint
func (s *SensingPoint) DesiredValue() (float64, bool) {
	return s.desired, s.hasDesired
}

// SetDesiredValue sets the setpoint
func (s *SensingPoint) SetDesiredValue(v float64) {
	if !s.hasDesired || s.desired != v {
		s.desiredUpdated = true
	}
	s.desired = v
	s.hasDesired = true
}

// ClearDesiredValue removes the setpoint
func (s *SensingPoint) ClearDesiredValue() {
	if s.hasDesired {
		s.desiredUpdated = true
	}
	s.desired = 0
	s.hasDesired = false
}

// TakeDesiredUpdated reports whether the setpoint changed since the last call
func (s *SensingPoint) TakeDesiredUpdated() bool {
	updated := s.desiredUpdated
	s.desiredUpdated = false
	return updated
}

// DrainDataPoints empties the sample buffer into backend data points
func (s *SensingPoint) DrainDataPoints() []DataPoint {
	samples := s.buffer.Drain()
	if len(samples) == 0 {
		return nil
	}
	points := make([]DataPoint, len(samples))
	for i, sample := range samples {
		points[i] = DataPoint{
			Timestamp:    sample.Time.Unix(),
			Value:        sample.Value,
			SensingPoint: s.ident.URL,
		}
	}
	s.posted = true
	return points
}

// RestoreDataPoints puts unposted data points back into the buffer
func (s *SensingPoint) RestoreDataPoints(points []DataPoint) int {
	samples := make([]Sample, len(points))
	for i, p := range points {
		samples[i] = Sample{Time: time.Unix(p.Timestamp, 0), Value: p.Value}
	}
	s.posted = false
	return s.buffer.Restore(samples)
}

func (s *SensingPoint) String() string {
	status := fmt.Sprintf("(SensingPoint %s %d", s.ident.Code, s.ident.Index)
	if s.hasValue {
		status += fmt.Sprintf(", latest %.2f @ %d", s.value, s.timestamp.Unix())
	}
	if s.hasDesired {
		status += fmt.Sprintf(". Desired %.2f", s.desired)
	}
	return status + ")"
}
