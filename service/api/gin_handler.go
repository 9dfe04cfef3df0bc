// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/submitter"
)

type ginHandler struct {
	config config.Config
	logger log.Logger
	svc    Service
}

func newGinHandler(cfg config.Config, sub *submitter.Submitter, logger log.Logger) *ginHandler {
	svc := NewServiceImpl(cfg, sub, logger)
	return &ginHandler{
		config: cfg,
		logger: logger,
		svc:    svc,
	}
}

func (h *ginHandler) GetServiceConfiguration(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetServiceConfiguration(c.Request.Context()))
}

func (h *ginHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if !h.bind(c, &req, "CreateSession") {
		return
	}
	resp, errResp := h.svc.CreateSession(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) GetSession(c *gin.Context) {
	var req SessionRequest
	if !h.bind(c, &req, "GetSession") {
		return
	}
	resp, errResp := h.svc.GetSession(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) ListSessions(c *gin.Context) {
	var req ListSessionsRequest
	if !h.bind(c, &req, "ListSessions") {
		return
	}
	resp, errResp := h.svc.ListSessions(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) CancelSession(c *gin.Context) {
	var req SessionRequest
	if !h.bind(c, &req, "CancelSession") {
		return
	}
	resp, errResp := h.svc.CancelSession(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) SubmitTasks(c *gin.Context) {
	var req SubmitTasksRequest
	if !h.bind(c, &req, "SubmitTasks") {
		return
	}
	resp, errResp := h.svc.SubmitTasks(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) CountTasks(c *gin.Context) {
	var req TaskFilterRequest
	if !h.bind(c, &req, "CountTasks") {
		return
	}
	resp, errResp := h.svc.CountTasks(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) ListTasks(c *gin.Context) {
	var req TaskFilterRequest
	if !h.bind(c, &req, "ListTasks") {
		return
	}
	resp, errResp := h.svc.ListTasks(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) GetTaskStatus(c *gin.Context) {
	var req TaskIdsRequest
	if !h.bind(c, &req, "GetTaskStatus") {
		return
	}
	resp, errResp := h.svc.GetTaskStatus(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) CancelTasks(c *gin.Context) {
	var req TaskIdsRequest
	if !h.bind(c, &req, "CancelTasks") {
		return
	}
	resp, errResp := h.svc.CancelTasks(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) WaitForCompletion(c *gin.Context) {
	var req WaitForCompletionRequest
	if !h.bind(c, &req, "WaitForCompletion") {
		return
	}
	resp, errResp := h.svc.WaitForCompletion(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) UploadResult(c *gin.Context) {
	sessionId, key := c.Query("sessionId"), c.Query("key")
	if sessionId == "" || key == "" {
		invalidRequestSchema(c)
		return
	}
	h.logger.Debug("received UploadResult API request", tag.SessionId(sessionId), tag.ResultKey(key))

	if errResp := h.svc.UploadResult(c.Request.Context(), sessionId, key, c.Request.Body); errResp != nil {
		c.JSON(errResp.StatusCode, errResp.Error)
		return
	}
	c.Status(http.StatusOK)
}

func (h *ginHandler) DownloadResult(c *gin.Context) {
	sessionId, key := c.Query("sessionId"), c.Query("key")
	if sessionId == "" || key == "" {
		invalidRequestSchema(c)
		return
	}
	h.logger.Debug("received DownloadResult API request", tag.SessionId(sessionId), tag.ResultKey(key))

	c.Header("Content-Type", "application/octet-stream")
	if errResp := h.svc.DownloadResult(c.Request.Context(), sessionId, key, c.Writer); errResp != nil {
		if !c.Writer.Written() {
			c.JSON(errResp.StatusCode, errResp.Error)
		}
		return
	}
	if !c.Writer.Written() {
		c.Status(http.StatusOK)
	}
}

func (h *ginHandler) ListResults(c *gin.Context) {
	var req SessionRequest
	if !h.bind(c, &req, "ListResults") {
		return
	}
	resp, errResp := h.svc.ListResults(c.Request.Context(), req)
	h.respond(c, resp, errResp)
}

func (h *ginHandler) bind(c *gin.Context, req any, operation string) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		invalidRequestSchema(c)
		return false
	}
	h.logger.Debug("received API request", tag.Message(operation), tag.Value(h.toJson(req)))
	return true
}

func (h *ginHandler) respond(c *gin.Context, resp any, errResp *ErrorWithStatus) {
	if errResp != nil {
		c.JSON(errResp.StatusCode, errResp.Error)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ginHandler) toJson(req any) string {
	str, err := json.Marshal(req)
	if err != nil {
		h.logger.Error("error when serializing request", tag.Error(err), tag.DefaultValue(req))
		return ""
	}
	return string(str)
}

func invalidRequestSchema(c *gin.Context) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Detail: "invalid request schema",
	})
}
