// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package urlautofix

import (
	"os"
	"strings"
)

// EnvAutoFixLocalhost names the host that replaces localhost in worker urls,
// e.g. host.docker.internal when the pollster runs in docker and the worker on the host
const EnvAutoFixLocalhost = "AUTO_FIX_LOCALHOST_WORKER_URL"

type FixWorkerUrlFunc func(url string) string

var workerUrlFixer FixWorkerUrlFunc = DefaultFixWorkerUrlFunc

func SetWorkerUrlFixer(fixer FixWorkerUrlFunc) {
	workerUrlFixer = fixer
}

func FixWorkerUrl(url string) string {
	return strings.TrimRight(workerUrlFixer(url), "/")
}

func DefaultFixWorkerUrlFunc(url string) string {
	autofixUrl := os.Getenv(EnvAutoFixLocalhost)
	if autofixUrl != "" {
		url = strings.Replace(url, "localhost", autofixUrl, 1)
		url = strings.Replace(url, "127.0.0.1", autofixUrl, 1)
	}

	return url
}
