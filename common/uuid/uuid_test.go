// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIds(t *testing.T) {
	ass := assert.New(t)

	ids := NewIds(100)
	seen := map[string]bool{}
	for _, id := range ids {
		ass.Nil(ValidateId(id))
		ass.False(seen[id])
		seen[id] = true
	}
}

func TestValidateId(t *testing.T) {
	ass := assert.New(t)

	ass.Nil(ValidateId(NewId()))
	ass.Error(ValidateId("not-a-uuid"))
	ass.Error(ValidateId("{6ba7b810-9dad-11d1-80b4-00c04fd430c8}"))
}
