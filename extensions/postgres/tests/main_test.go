// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package tests

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/extensions"
	"github.com/xcherryio/taskgrid/extensions/postgres"
	"github.com/xcherryio/taskgrid/extensions/postgres/postgrestool"
	"github.com/xcherryio/taskgrid/persistence/sql"
)

// the tests need a running postgres reachable with the postgrestool defaults
const enableEnv = "TASKGRID_POSTGRES_TESTS"

var (
	sqlConfig *config.SQL
	tables    *sql.Tables
)

func TestMain(m *testing.M) {
	if os.Getenv(enableEnv) == "" {
		fmt.Printf("skipping postgres tests, set %v to run them\n", enableEnv)
		os.Exit(0)
	}

	testDBName := fmt.Sprintf("test%v", time.Now().UnixNano())
	fmt.Println("using database name ", testDBName)

	sqlConfig = &config.SQL{
		ConnectAddr:     fmt.Sprintf("%v:%v", postgrestool.DefaultEndpoint, postgrestool.DefaultPort),
		User:            postgrestool.DefaultUserName,
		Password:        postgrestool.DefaultPassword,
		DBExtensionName: postgres.ExtensionName,
		DatabaseName:    testDBName,
	}

	err := extensions.CreateDatabase(*sqlConfig, testDBName)
	if err != nil {
		panic(err)
	}

	err = extensions.SetupSchema(sqlConfig, "../../../"+postgrestool.DefaultSchemaFilePath)
	if err != nil {
		panic(err)
	}

	tables, err = sql.NewSQLTables(*sqlConfig, log.NewDevelopmentLogger())
	if err != nil {
		panic(err)
	}

	resultCode := m.Run()
	fmt.Println("finished running persistence test with status code", resultCode)

	_ = tables.Close()
	_ = extensions.DropDatabase(*sqlConfig, testDBName)
	fmt.Println("testing database deleted")
	os.Exit(resultCode)
}
