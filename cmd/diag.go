// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenAgricultureFoundation/gro-controller/internal/config"
	"github.com/OpenAgricultureFoundation/gro-controller/internal/logging"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

// diagSession is an established link opened by a diagnostic command
type diagSession struct {
	cfg    *config.Config
	logger *zap.Logger
	stream *groduino.Port
	link   *groduino.Link
	info   string
}

func (s *diagSession) Close() {
	_ = s.stream.Close()
	_ = s.logger.Sync()
}

// openDiagSession loads the config, opens the stream and runs the handshake
func openDiagSession(ctx context.Context, cmd *cobra.Command) (*diagSession, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if logLevel == "" {
		cfg.Logging.Level = "warn"
	}
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	stream, info, err := OpenStream(cfg)
	if err != nil {
		return nil, err
	}
	link, err := groduino.Connect(ctx, stream, linkConfig(cfg), logger.Named("link"))
	if err != nil {
		_ = stream.Close()
		return nil, err
	}
	return &diagSession{cfg: cfg, logger: logger, stream: stream, link: link, info: info}, nil
}
