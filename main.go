// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors
//
// grobot - greenhouse controller for the groduino microcontroller

package main

import (
	"os"

	"github.com/OpenAgricultureFoundation/gro-controller/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
