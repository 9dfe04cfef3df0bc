// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package integTests

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xcherryio/taskgrid/worker"
	"github.com/xcherryio/taskgrid/worker/httpstream"
)

const workerAddress = "127.0.0.1:18803"

const (
	// payloadFail makes the worker reply with an error
	payloadFail = "fail"
	// payloadDelegate makes the worker hand its outputs over to a subtask
	payloadDelegate = "delegate"
)

// startGinWorker serves a worker that writes, for every expected output, the upper cased payload
// followed by the bytes of the dependencies in order
func startGinWorker() *http.Server {
	engine := gin.New()
	engine.POST(httpstream.ComputeApiPath, compute)
	server := &http.Server{Addr: workerAddress, Handler: engine}
	go func() {
		_ = server.ListenAndServe()
	}()
	return server
}

func compute(c *gin.Context) {
	var init *worker.InitRequest
	var payload []byte
	var data bytes.Buffer
	scanner := bufio.NewScanner(c.Request.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		req := worker.ComputeRequest{}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		switch req.Kind {
		case worker.ComputeRequestKindInit:
			init = req.Init
		case worker.ComputeRequestKindPayloadChunk:
			payload = append(payload, req.Chunk...)
		case worker.ComputeRequestKindDataChunk:
			data.Write(req.Chunk)
		}
	}
	if init == nil {
		c.String(http.StatusBadRequest, "missing init")
		return
	}

	c.Header("Content-Type", httpstream.ContentType)
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	switch string(payload) {
	case payloadFail:
		_ = enc.Encode(worker.ComputeReply{Kind: worker.ComputeReplyKindError, Error: "asked to fail"})
		return
	case payloadDelegate:
		_ = enc.Encode(worker.ComputeReply{
			Kind: worker.ComputeReplyKindCreateTask,
			Tasks: []worker.TaskRequest{{
				ExpectedOutputKeys: init.ExpectedOutputKeys,
				Payload:            []byte("delegated"),
			}},
		})
	default:
		result := append([]byte(strings.ToUpper(string(payload))), data.Bytes()...)
		for _, key := range init.ExpectedOutputKeys {
			_ = enc.Encode(worker.ComputeReply{
				Kind:  worker.ComputeReplyKindResult,
				Key:   key,
				Chunk: result,
				Last:  true,
			})
		}
	}
	_ = enc.Encode(worker.ComputeReply{Kind: worker.ComputeReplyKindCompletion})
}
