// Copyright 2024 The CFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger is the severity-tagged, text-or-JSON logger every other
// package logs through, the same global Tracef/Debugf/Infof/Warnf/Errorf
// surface gcsfuse's internal/logger exposes.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Severity orders log verbosity from quietest (Off) to loudest (Trace),
// mirroring cfg.LogSeverity's Rank ordering.
type Severity int

const (
	Off Severity = iota
	Error
	Warning
	Info
	Debug
	Trace
)

func (s Severity) String() string {
	switch s {
	case Off:
		return "OFF"
	case Error:
		return "ERROR"
	case Warning:
		return "WARNING"
	case Info:
		return "INFO"
	case Debug:
		return "DEBUG"
	case Trace:
		return "TRACE"
	default:
		return "INFO"
	}
}

// ParseSeverity parses a logging.severity config value (spec.md §6 ambient
// key), defaulting to Info on an unrecognized value.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFF":
		return Off
	case "ERROR":
		return Error
	case "WARNING":
		return Warning
	case "INFO":
		return Info
	case "DEBUG":
		return Debug
	case "TRACE":
		return Trace
	default:
		return Info
	}
}

type factory struct {
	mu     sync.Mutex
	format string
	level  Severity
	w      io.Writer
}

var defaultFactory = &factory{format: "text", level: Info, w: os.Stderr}

// Init points every package-level log function at w, filtering to severity
// and rendering records as format ("text" or "json"). Called once from
// cmd's root command after config.Load, the way gcsfuse wires its own
// logger up from cfg.Config.Logging.
func Init(format string, severity Severity, w io.Writer) {
	defaultFactory = &factory{format: format, level: severity, w: w}
}

func Tracef(format string, v ...any) { defaultFactory.logf(Trace, format, v...) }
func Debugf(format string, v ...any) { defaultFactory.logf(Debug, format, v...) }
func Infof(format string, v ...any)  { defaultFactory.logf(Info, format, v...) }
func Warnf(format string, v ...any)  { defaultFactory.logf(Warning, format, v...) }
func Errorf(format string, v ...any) { defaultFactory.logf(Error, format, v...) }

func (f *factory) logf(sev Severity, format string, v ...any) {
	if f.level == Off || sev > f.level {
		return
	}
	msg := fmt.Sprintf(format, v...)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.format == "json" {
		now := time.Now()
		rec := struct {
			Timestamp struct {
				Seconds int64 `json:"seconds"`
				Nanos   int   `json:"nanos"`
			} `json:"timestamp"`
			Severity string `json:"severity"`
			Message  string `json:"message"`
		}{}
		rec.Timestamp.Seconds = now.Unix()
		rec.Timestamp.Nanos = now.Nanosecond()
		rec.Severity = sev.String()
		rec.Message = msg
		b, err := json.Marshal(rec)
		if err != nil {
			return
		}
		fmt.Fprintln(f.w, string(b))
		return
	}
	fmt.Fprintf(f.w, "time=%q severity=%s message=%q\n", time.Now().Format("02/01/2006 15:04:05.000000"), sev.String(), msg)
}

// NewLegacyLogger adapts the package logger to the *log.Logger shape
// github.com/jacobsa/fuse's MountConfig.ErrorLogger/DebugLogger expect,
// tagged at a fixed severity, as cmd/mount.go's
// logger.NewLegacyLogger(logger.Error, "fuse: ") call uses it.
func NewLegacyLogger(severity Severity, prefix string) *log.Logger {
	return log.New(legacyWriter{severity: severity}, prefix, 0)
}

type legacyWriter struct{ severity Severity }

func (w legacyWriter) Write(p []byte) (int, error) {
	defaultFactory.logf(w.severity, "%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
