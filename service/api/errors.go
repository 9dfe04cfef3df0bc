// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/xcherryio/taskgrid/submitter"
)

type ErrorResponse struct {
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail"`
}

type ErrorWithStatus struct {
	StatusCode int
	Error      ErrorResponse
}

func NewErrorWithStatus(code int, details string) *ErrorWithStatus {
	return &ErrorWithStatus{
		StatusCode: code,
		Error: ErrorResponse{
			Detail: details,
		},
	}
}

// newSubmitterErrorWithStatus maps the error category of the submitter to the http status
func newSubmitterErrorWithStatus(err error) *ErrorWithStatus {
	code := submitter.CodeOf(err)
	var status int
	switch code {
	case submitter.CodeNotFound:
		status = http.StatusNotFound
	case submitter.CodeFailedPrecondition:
		status = http.StatusConflict
	case submitter.CodeInvalidArgument:
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	return &ErrorWithStatus{
		StatusCode: status,
		Error: ErrorResponse{
			Code:   code.String(),
			Detail: err.Error(),
		},
	}
}
