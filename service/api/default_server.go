// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/submitter"
)

const (
	PathGetServiceConfiguration = "/api/v1/taskgrid/service/configuration"
	PathCreateSession           = "/api/v1/taskgrid/session/create"
	PathGetSession              = "/api/v1/taskgrid/session/get"
	PathListSessions            = "/api/v1/taskgrid/session/list"
	PathCancelSession           = "/api/v1/taskgrid/session/cancel"
	PathSubmitTasks             = "/api/v1/taskgrid/task/submit"
	PathCountTasks              = "/api/v1/taskgrid/task/count"
	PathListTasks               = "/api/v1/taskgrid/task/list"
	PathGetTaskStatus           = "/api/v1/taskgrid/task/status"
	PathCancelTasks             = "/api/v1/taskgrid/task/cancel"
	PathWaitForCompletion       = "/api/v1/taskgrid/task/wait"
	PathUploadResult            = "/api/v1/taskgrid/result/upload"
	PathDownloadResult          = "/api/v1/taskgrid/result/download"
	PathListResults             = "/api/v1/taskgrid/result/list"
)

type defaultSever struct {
	rootCtx    context.Context
	cfg        config.Config
	logger     log.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// NewGinEngine registers the submitter endpoints into a new gin engine
func NewGinEngine(cfg config.Config, sub *submitter.Submitter, logger log.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := newGinHandler(cfg, sub, logger)

	engine.GET(PathGetServiceConfiguration, handler.GetServiceConfiguration)
	engine.POST(PathCreateSession, handler.CreateSession)
	engine.POST(PathGetSession, handler.GetSession)
	engine.POST(PathListSessions, handler.ListSessions)
	engine.POST(PathCancelSession, handler.CancelSession)
	engine.POST(PathSubmitTasks, handler.SubmitTasks)
	engine.POST(PathCountTasks, handler.CountTasks)
	engine.POST(PathListTasks, handler.ListTasks)
	engine.POST(PathGetTaskStatus, handler.GetTaskStatus)
	engine.POST(PathCancelTasks, handler.CancelTasks)
	engine.POST(PathWaitForCompletion, handler.WaitForCompletion)
	engine.POST(PathUploadResult, handler.UploadResult)
	engine.GET(PathDownloadResult, handler.DownloadResult)
	engine.POST(PathListResults, handler.ListResults)
	return engine
}

func NewDefaultAPIServerWithGin(
	rootCtx context.Context, cfg config.Config, sub *submitter.Submitter, logger log.Logger,
) Server {
	engine := NewGinEngine(cfg, sub, logger)

	svrCfg := cfg.SubmitterService.HttpServer
	httpServer := &http.Server{
		Addr:              svrCfg.Address,
		ReadTimeout:       svrCfg.ReadTimeout,
		WriteTimeout:      svrCfg.WriteTimeout,
		ReadHeaderTimeout: svrCfg.ReadHeaderTimeout,
		IdleTimeout:       svrCfg.IdleTimeout,
		MaxHeaderBytes:    svrCfg.MaxHeaderBytes,
		TLSConfig:         svrCfg.TLSConfig,
		Handler:           engine,
		BaseContext: func(listener net.Listener) context.Context {
			// for graceful shutdown
			return rootCtx
		},
	}

	return &defaultSever{
		rootCtx:    rootCtx,
		cfg:        cfg,
		logger:     logger,
		engine:     engine,
		httpServer: httpServer,
	}
}

func (s defaultSever) Start() error {
	go func() {
		err := s.httpServer.ListenAndServe()
		s.logger.Info("Http Server for API service is closed", tag.Error(err))
	}()

	return nil
}

func (s defaultSever) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
