/*
 *
 * Copyright 2020 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package grpclog provides component-scoped logging for the channel
// runtime, following the teacher's `grpclog.Component("core")` idiom
// (internal/serviceconfig/serviceconfig.go). Output is routed through
// glog (github.com/golang/glog), already a direct dependency of the
// teacher's go.mod, rather than a hand-rolled writer.
package grpclog

import (
	"fmt"

	"github.com/golang/glog"
)

// ComponentLogger prefixes every message with the component name it was
// created for, e.g. "[core] subchannel ... connecting".
type ComponentLogger struct {
	component string
}

// Component builds a ComponentLogger tagging messages with component.
func Component(component string) *ComponentLogger {
	return &ComponentLogger{component: component}
}

func (c *ComponentLogger) prefix(format string) string {
	return fmt.Sprintf("[%s] %s", c.component, format)
}

// Infof logs at info level, visible with -v=0 and above.
func (c *ComponentLogger) Infof(format string, args ...interface{}) {
	glog.Infof(c.prefix(format), args...)
}

// Warningf logs at warning level.
func (c *ComponentLogger) Warningf(format string, args ...interface{}) {
	glog.Warningf(c.prefix(format), args...)
}

// Errorf logs at error level.
func (c *ComponentLogger) Errorf(format string, args ...interface{}) {
	glog.Errorf(c.prefix(format), args...)
}

// V reports whether verbosity level l is enabled, mirroring glog.V so
// call sites can guard expensive formatting:
//
//	if logger.V(2) {
//		logger.Infof("picker snapshot: %v", expensiveDump())
//	}
func (c *ComponentLogger) V(l int) bool {
	return bool(glog.V(glog.Level(l)))
}
