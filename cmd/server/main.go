// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/xcherryio/taskgrid/cmd/server/bootstrap"

	_ "github.com/xcherryio/taskgrid/extensions/postgres" // import postgres extension
)

func main() {
	app := &cli.App{
		Name:  "taskgrid server",
		Usage: "start the taskgrid server",
		Action: func(c *cli.Context) error {
			bootstrap.StartTaskgridServerCli(c)
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  bootstrap.FlagConfig,
				Value: "./config/development.yaml",
				Usage: "the config to start taskgrid server",
			},
			&cli.StringFlag{
				Name:  bootstrap.FlagService,
				Value: fmt.Sprintf("%v,%v", bootstrap.SubmitterServiceName, bootstrap.PollsterServiceName),
				Usage: "the services to start, separated by comma",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
