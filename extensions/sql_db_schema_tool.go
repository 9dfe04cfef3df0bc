// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/xcherryio/taskgrid/config"
)

func SetupSchemaByCli(c *cli.Context, extensionName string) error {
	cfg, err := parseConnectConfig(c, extensionName)
	if err != nil {
		return err
	}
	return SetupSchema(cfg, c.String(CLIFlagFile))
}

// SetupSchema runs the DDL file against the database of cfg
func SetupSchema(cfg *config.SQL, filePath string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading contents of file %v: %w", filePath, err)
	}

	adminSession, err := NewSQLAdminSession(cfg)
	if err != nil {
		return err
	}
	defer adminSession.Close()

	return adminSession.ExecuteSchemaDDL(context.Background(), string(content))
}

func CreateDatabaseByCli(c *cli.Context, extensionName string) error {
	cfg, err := parseConnectConfig(c, extensionName)
	if err != nil {
		return err
	}
	return CreateDatabase(*cfg, c.String(CLIFlagDatabase))
}

// CreateDatabase connects without a database, it's up to the extension to pick the admin one
func CreateDatabase(cfg config.SQL, name string) error {
	cfg.DatabaseName = ""
	adminSession, err := NewSQLAdminSession(&cfg)
	if err != nil {
		return err
	}
	defer adminSession.Close()
	return adminSession.CreateDatabase(context.Background(), name)
}

// DropDatabase connects without a database, like CreateDatabase,
// since a database cannot be dropped while connected to
func DropDatabase(cfg config.SQL, name string) error {
	cfg.DatabaseName = ""
	adminSession, err := NewSQLAdminSession(&cfg)
	if err != nil {
		return err
	}
	defer adminSession.Close()
	return adminSession.DropDatabase(context.Background(), name)
}

func parseConnectConfig(c *cli.Context, extensionName string) (*config.SQL, error) {
	cfg := &config.SQL{
		ConnectAddr:     net.JoinHostPort(c.String(CLIFlagEndpoint), fmt.Sprint(c.Int(CLIFlagPort))),
		User:            c.String(CLIFlagUser),
		Password:        c.String(CLIFlagPassword),
		DatabaseName:    c.String(CLIFlagDatabase),
		DBExtensionName: extensionName,
	}
	if err := ValidateConnectConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ValidateConnectConfig(cfg *config.SQL) error {
	host, _, err := net.SplitHostPort(cfg.ConnectAddr)
	if err != nil {
		return fmt.Errorf("invalid host and port %v", cfg.ConnectAddr)
	}
	if len(host) == 0 {
		return fmt.Errorf("missing sql endpoint argument %v", flag(CLIFlagEndpoint))
	}
	if cfg.DatabaseName == "" {
		return fmt.Errorf("missing %v argument", flag(CLIFlagDatabase))
	}
	return nil
}

func flag(opt string) string {
	return "(--" + opt + ")"
}
