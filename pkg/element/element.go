// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

// Package element models the greenhouse devices the controller drives:
// sensing points that report readings and actuators that receive commands.
package element

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind selects the handler for a device message by its leading tag
type Kind int

const (
	KindSensingPoint Kind = iota
	KindActuator
	KindGeneral
)

// Code prefixes
const (
	SensingPointPrefix = "S"
	ActuatorPrefix     = "A"
	GeneralPrefix      = "G"
)

func (k Kind) String() string {
	switch k {
	case KindSensingPoint:
		return "sensing_point"
	case KindActuator:
		return "actuator"
	case KindGeneral:
		return "general"
	default:
		return "unknown"
	}
}

// KindFromTag maps the first character of a message key to its Kind
func KindFromTag(tag byte) (Kind, bool) {
	switch tag {
	case 'S':
		return KindSensingPoint, true
	case 'A':
		return KindActuator, true
	case 'G':
		return KindGeneral, true
	default:
		return 0, false
	}
}

// Identity names one element. ID() is the key the firmware uses, e.g. "SATM 1".
type Identity struct {
	Kind  Kind
	Code  string
	Index int
	URL   string
}

// ID returns "<code> <index>"
func (id Identity) ID() string {
	return id.Code + " " + strconv.Itoa(id.Index)
}

// Element is anything the engine can route a device value to
type Element interface {
	Identity() Identity
	HandleValue(raw any, now time.Time) error
	Budget() *ErrorBudget
	String() string
}

var (
	_ Element = (*SensingPoint)(nil)
	_ Element = (*Actuator)(nil)
)

// ParseID splits "<code> <index>" into its parts
func ParseID(s string) (code string, index int, err error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("identifier %q: want \"<code> <index>\"", s)
	}
	index, err = strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("identifier %q: bad index: %w", s, err)
	}
	return fields[0], index, nil
}

// ParseValue converts a decoded JSON reading into a float
func ParseValue(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not a number", x)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("value is null")
	default:
		return 0, fmt.Errorf("value %v (%T) is not a number", v, v)
	}
}
