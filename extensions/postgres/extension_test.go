// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xcherryio/taskgrid/config"
)

func TestBuildDSN(t *testing.T) {
	ass := assert.New(t)
	params := url.Values{}
	params.Set("sslmode", "disable")

	dsn := buildDSN(&config.SQL{User: "task grid", Password: "p@ss", DatabaseName: "taskgrid"}, "db", "5432", params)
	ass.Equal("postgres://task%20grid:p@ss@db:5432/taskgrid?sslmode=disable", dsn)

	// the admin database is used when none is set
	dsn = buildDSN(&config.SQL{User: "taskgrid"}, "db", "5432", url.Values{})
	ass.Equal("postgres://taskgrid@db:5432/postgres", dsn)
}

func TestQueriesUseStatusValues(t *testing.T) {
	ass := assert.New(t)
	ass.Contains(acquireTaskQuery, "status = 3")
	ass.Contains(acquireTaskQuery, "status IN (2, 6)")
	ass.Contains(finalizeTaskCreationQuery, "status = 2, submitted_date")
	ass.Contains(cancelSessionTasksQuery, "THEN 7 ELSE 8")
}
