// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package urlautofix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixWorkerUrl(t *testing.T) {
	ass := assert.New(t)

	t.Setenv(EnvAutoFixLocalhost, "")
	ass.Equal("http://localhost:8803", FixWorkerUrl("http://localhost:8803/"))

	t.Setenv(EnvAutoFixLocalhost, "host.docker.internal")
	ass.Equal("http://host.docker.internal:8803", FixWorkerUrl("http://localhost:8803"))
	ass.Equal("http://host.docker.internal:8803", FixWorkerUrl("http://127.0.0.1:8803"))
	ass.Equal("http://worker:8803", FixWorkerUrl("http://worker:8803"))
}
