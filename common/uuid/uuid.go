// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// NewId returns a random identifier, used for sessions, tasks and acquisitions
func NewId() string {
	return uuid.NewString()
}

// NewIds returns n random identifiers
func NewIds(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	return ids
}

// ValidateId returns an error when the id is not a uuid in its canonical form
func ValidateId(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", id, err)
	}
	if parsed.String() != id {
		return fmt.Errorf("id %q is not in canonical form", id)
	}
	return nil
}
