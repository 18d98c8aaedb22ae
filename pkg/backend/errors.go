// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package backend

import "fmt"

// Error is a failed backend call. Status is 0 when no response arrived.
type Error struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("backend %s %s: status %d: %v", e.Op, e.URL, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("backend %s %s: status %d", e.Op, e.URL, e.Status)
	default:
		return fmt.Sprintf("backend %s %s: %v", e.Op, e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
