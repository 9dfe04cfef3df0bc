// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package integTests

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/xcherryio/taskgrid/cmd/server/bootstrap"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/extensions"
	"github.com/xcherryio/taskgrid/extensions/postgres"
	"github.com/xcherryio/taskgrid/extensions/postgres/postgrestool"
)

const pollsterAddress = "127.0.0.1:18802"

func TestMain(m *testing.M) {
	flag.Parse()
	testDBName := fmt.Sprintf("test%v", time.Now().UnixNano())
	fmt.Printf("start running integ test, "+
		"testDBName: %v, useLocalServer:%v, createServerWithPostgres: %v \n",
		testDBName, *useLocalServer, *createServerWithPostgres)

	workerServer := startGinWorker()

	var resultCode int
	var shutdownFunc bootstrap.GracefulShutdown
	rootCtx, rootCtxCancelFunc := context.WithCancel(context.Background())

	if !*useLocalServer {
		cfg := config.Config{
			Log: config.Logger{
				Level: "info",
			},
			Database:      config.DatabaseConfig{Backend: config.StorageBackendMemory},
			QueueStorage:  config.QueueStorageConfig{Backend: config.StorageBackendMemory},
			ObjectStorage: config.ObjectStorageConfig{Backend: config.StorageBackendMemory},
			SubmitterService: config.SubmitterServiceConfig{
				HttpServer: config.HttpServerConfig{
					Address:      serverAddress,
					ReadTimeout:  5 * time.Second,
					WriteTimeout: 60 * time.Second,
				},
				PollingDelay:      50 * time.Millisecond,
				PollsterAddresses: []string{"http://" + pollsterAddress},
			},
			PollsterService: config.PollsterServiceConfig{
				PodId:        "integ-test",
				PollInterval: 100 * time.Millisecond,
				Worker: config.WorkerConfig{
					Address: "http://" + workerAddress,
				},
				InternalHttpServer: config.HttpServerConfig{
					Address: pollsterAddress,
				},
			},
		}

		if *createServerWithPostgres {
			sqlConfig := &config.SQL{
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
			defer func() {
				err := extensions.DropDatabase(*sqlConfig, testDBName)
				if err != nil {
					fmt.Println("failed to drop database ", testDBName, err)
				} else {
					fmt.Println("testing database is deleted")
				}
			}()
			err = extensions.SetupSchema(sqlConfig, "../"+postgrestool.DefaultSchemaFilePath)
			if err != nil {
				panic(err)
			}

			cfg.Database = config.DatabaseConfig{Backend: config.StorageBackendSQL, SQL: sqlConfig}
			cfg.QueueStorage = config.QueueStorageConfig{
				Backend: config.StorageBackendPostgres,
				Postgres: &config.PostgresQueueConfig{
					ConnectionString: fmt.Sprintf("postgres://%v:%v@%v/%v",
						sqlConfig.User, sqlConfig.Password, sqlConfig.ConnectAddr, testDBName),
				},
			}
		}

		shutdownFunc = bootstrap.StartTaskgridServer(rootCtx, &cfg, nil)
	}

	// looks like this wait can fix some flaky failure
	// where API call is made before Gin server is ready
	time.Sleep(time.Millisecond * 100)

	resultCode = m.Run()
	fmt.Println("finished running integ test with status code", resultCode)
	rootCtxCancelFunc()
	if shutdownFunc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = shutdownFunc(ctx)
		cancel()
	}
	_ = workerServer.Close()
	os.Exit(resultCode)
}
