// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package bot

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"
)

// plain renders without color so the status file stays readable with cat
var plain = lipgloss.NewRenderer(io.Discard)

// Status returns the last status snapshot, or "" before the first one
func (e *Engine) Status() string {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// RenderStatus builds a status snapshot of every element and the loop timings
func (e *Engine) RenderStatus(now time.Time) string {
	var b strings.Builder
	b.WriteString("-----STATUS-----\n")
	fmt.Fprintf(&b, "Generated %s\n", now.Format(time.RFC3339))

	b.WriteString("Actuator status:\n")
	for _, a := range e.actuatorList {
		b.WriteString("\t" + a.String() + "\n")
	}
	b.WriteString("Sensing point status:\n")
	for _, p := range e.pointList {
		b.WriteString("\t" + p.String() + "\n")
	}

	b.WriteString("Run profile:\n")
	b.WriteString(e.profileTable() + "\n")
	b.WriteString("-----END-----\n")
	return b.String()
}

func (e *Engine) profileTable() string {
	headerStyle := plain.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := plain.NewStyle().Padding(0, 1)

	rows := [][]string{}
	for _, s := range e.profiler.Snapshot() {
		rows = append(rows, []string{
			s.Name,
			fmt.Sprintf("%d", s.Count),
			s.Mean().Round(time.Microsecond).String(),
			s.Max.Round(time.Microsecond).String(),
		})
	}

	t := table.New().
		Border(lipgloss.ASCIIBorder()).
		Headers("CHECKPOINT", "COUNT", "MEAN", "MAX").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

func (e *Engine) writeStatus(now time.Time) {
	status := e.RenderStatus(now)

	e.statusMu.Lock()
	e.status = status
	e.statusMu.Unlock()

	if e.cfg.StatusFile == "" {
		return
	}
	if err := os.WriteFile(e.cfg.StatusFile, []byte(status), 0o644); err != nil {
		e.logger.Warn("failed to write status file",
			zap.String("path", e.cfg.StatusFile),
			zap.Error(err))
	}
}
