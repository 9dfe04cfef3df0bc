// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package httperror

import (
	"fmt"
	"io"
	"net/http"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
)

const maxErrorBodySize = 1024

func CheckHttpResponseAndError(err error, httpResp *http.Response, logger log.Logger) bool {
	status := 0
	if httpResp != nil {
		status = httpResp.StatusCode
	}
	logger.Debug("check http response and error", tag.Error(err), tag.StatusCode(status))

	if err != nil || (httpResp != nil && httpResp.StatusCode != http.StatusOK) {
		return true
	}
	return false
}

// ErrorFromResponse builds an error out of a non-200 response, including the beginning of its body
func ErrorFromResponse(httpResp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBodySize))
	return fmt.Errorf("unexpected http status %v: %s", httpResp.StatusCode, string(body))
}
