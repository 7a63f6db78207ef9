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

package logger

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTextFormatOnlyLogsAtOrAboveConfiguredSeverity(t *testing.T) {
	var buf bytes.Buffer
	Init("text", Warning, &buf)

	Infof("www.infoExample.com")
	require.Empty(t, buf.String())

	Warnf("www.warningExample.com")
	require.Regexp(t, regexp.MustCompile(`^time="[^"]+" severity=WARNING message="www.warningExample.com"\n$`), buf.String())
	buf.Reset()

	Errorf("www.errorExample.com")
	require.Regexp(t, regexp.MustCompile(`^time="[^"]+" severity=ERROR message="www.errorExample.com"\n$`), buf.String())
}

func TestOffSeverityLogsNothing(t *testing.T) {
	var buf bytes.Buffer
	Init("text", Off, &buf)

	Errorf("www.errorExample.com")

	require.Empty(t, buf.String())
}

func TestJSONFormatEmitsTimestampSeverityMessage(t *testing.T) {
	var buf bytes.Buffer
	Init("json", Trace, &buf)

	Debugf("www.debugExample.com")

	require.Regexp(t, regexp.MustCompile(`^\{"timestamp":\{"seconds":\d+,"nanos":\d+},"severity":"DEBUG","message":"www.debugExample.com"}\n$`), buf.String())
}

func TestParseSeverityDefaultsToInfoOnUnrecognizedValue(t *testing.T) {
	require.Equal(t, Info, ParseSeverity("info"))
	require.Equal(t, Trace, ParseSeverity("TRACE"))
	require.Equal(t, Info, ParseSeverity("not-a-severity"))
}

func TestNewLegacyLoggerTagsWritesAtFixedSeverity(t *testing.T) {
	var buf bytes.Buffer
	Init("text", Error, &buf)

	l := NewLegacyLogger(Error, "fuse: ")
	l.Print("a fuse-internal error")

	require.Contains(t, buf.String(), `severity=ERROR message="fuse: a fuse-internal error"`)
}
