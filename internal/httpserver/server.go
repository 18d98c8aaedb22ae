// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	cfgpkg "github.com/OpenAgricultureFoundation/gro-controller/internal/config"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

// Sources feed the read-only endpoints. Nil fields disable their endpoint,
// except Ready, whose absence means always ready.
type Sources struct {
	// Ready reports whether the link is up and the topology loaded
	Ready func() bool
	// Status returns the latest status snapshot, "" before the first one
	Status func() string
	// Link returns the statistics of the current link; false when none is up
	Link func() (groduino.Counters, bool)
}

// Server is the controller's HTTP listener
type Server struct {
	srv *http.Server
}

type linkView struct {
	Since              string  `json:"since"`
	FramesReceived     uint64  `json:"frames_received"`
	FramesValid        uint64  `json:"frames_valid"`
	FramesSent         uint64  `json:"frames_sent"`
	Malformed          uint64  `json:"malformed"`
	ChecksumErrors     uint64  `json:"checksum_errors"`
	EmptyCRC           uint64  `json:"empty_crc"`
	OverflowRecoveries uint64  `json:"overflow_recoveries"`
	BufferTrims        uint64  `json:"buffer_trims"`
	BytesDiscarded     uint64  `json:"bytes_discarded"`
	NoiseBytes         uint64  `json:"noise_bytes"`
	FrameRate          float64 `json:"frame_rate"`
	ErrorRate          float64 `json:"error_rate"`
}

func viewOf(c groduino.Counters) linkView {
	return linkView{
		Since:              c.StartTime.UTC().Format("2006-01-02T15:04:05Z"),
		FramesReceived:     c.TotalFrames,
		FramesValid:        c.ValidFrames,
		FramesSent:         c.FramesSent,
		Malformed:          c.MalformedFrames,
		ChecksumErrors:     c.ChecksumErrors,
		EmptyCRC:           c.EmptyCRCFrames,
		OverflowRecoveries: c.OverflowRecoveries,
		BufferTrims:        c.BufferTrims,
		BytesDiscarded:     c.BytesDiscarded,
		NoiseBytes:         c.NoiseBytes,
		FrameRate:          c.FrameRate,
		ErrorRate:          c.ErrorRate,
	}
}

// New builds the gin router: /healthz, /readyz, /status, /link and, when
// metricsHandler is set, the Prometheus endpoint at metricsPath.
func New(cfg cfgpkg.HTTPConfig, metricsPath string, metricsHandler http.Handler, src Sources) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/readyz", func(c *gin.Context) {
		if src.Ready != nil && !src.Ready() {
			c.String(http.StatusServiceUnavailable, "not-ready")
			return
		}
		c.String(http.StatusOK, "ready")
	})

	if src.Status != nil {
		r.GET("/status", func(c *gin.Context) {
			status := src.Status()
			if status == "" {
				c.String(http.StatusServiceUnavailable, "no status yet")
				return
			}
			c.String(http.StatusOK, status)
		})
	}

	if src.Link != nil {
		r.GET("/link", func(c *gin.Context) {
			counters, up := src.Link()
			if !up {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no link"})
				return
			}
			c.JSON(http.StatusOK, viewOf(counters))
		})
	}

	if metricsHandler != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	return &Server{srv: &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}}
}

// Start serves until Shutdown
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
