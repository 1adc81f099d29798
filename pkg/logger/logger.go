// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package logger builds the go-kit loggers used across the module.
package logger

import (
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	LogFormatLogfmt = "logfmt"
	LogFormatJSON   = "json"
)

// NewLogger returns a logger writing to stderr in the given format, filtered
// at the given level. Unknown levels fall back to info.
func NewLogger(logLevel, logFormat, debugName string) log.Logger {
	var logger log.Logger
	w := log.NewSyncWriter(os.Stderr)
	if logFormat == LogFormatJSON {
		logger = log.NewJSONLogger(w)
	} else {
		logger = log.NewLogfmtLogger(w)
	}

	logger = level.NewFilter(logger, levelOption(logLevel))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	if debugName != "" {
		logger = log.With(logger, "name", debugName)
	}
	return logger
}

func levelOption(l string) level.Option {
	switch strings.ToLower(l) {
	case "error":
		return level.AllowError()
	case "warn":
		return level.AllowWarn()
	case "debug":
		return level.AllowDebug()
	default:
		return level.AllowInfo()
	}
}
