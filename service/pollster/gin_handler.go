// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package pollster

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
)

type ginHandler struct {
	config config.Config
	logger log.Logger
	svc    Service
}

func newGinHandler(cfg config.Config, svc Service, logger log.Logger) *ginHandler {
	return &ginHandler{
		config: cfg,
		logger: logger,
		svc:    svc,
	}
}

func (h *ginHandler) NotifyNewMessages(c *gin.Context) {
	var req NotifyMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}

	err := h.svc.NotifyNewMessages(req)
	if err != nil {
		invalidRequestForError(c, err)
		return
	}

	successRespond(c)
}

func (h *ginHandler) Healthz(c *gin.Context) {
	if err := h.svc.CheckHealth(c.Request.Context()); err != nil {
		h.logger.Warn("health check failed", tag.Error(err))
		c.JSON(http.StatusServiceUnavailable, map[string]string{
			"detail": err.Error(),
		})
		return
	}
	successRespond(c)
}

func successRespond(c *gin.Context) {
	c.JSON(http.StatusOK, map[string]string{
		"message": "success",
	})
}

func invalidRequestSchema(c *gin.Context) {
	c.JSON(http.StatusBadRequest, map[string]string{
		"detail": "invalid request schema",
	})
}

func invalidRequestForError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, map[string]string{
		"detail": err.Error(),
	})
}
