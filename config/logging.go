/*
Copyright 2017 Mosaic Networks Ltd

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package config

import (
	"os"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Logger wraps a logrus.Logger prefixed "consilium", with an optional
// file hook so debug/info output survives past the terminal.
type Logger struct {
	*logrus.Logger
}

// NewLogger builds a Logger at the given level (debug, info, warn,
// error, fatal, panic), using prefixed.TextFormatter for console output,
// grounded on src/config/config.go's Logger() method.
func NewLogger(level string) *Logger {
	l := logrus.New()
	l.Level = LogLevel(level)
	l.Formatter = new(prefixed.TextFormatter)
	return &Logger{l}
}

// WithFileHook adds an lfshook writing debug/info output to the named
// files in dir, in addition to the console, grounded on
// cmd/dummy/commands/root.go's newLogger.
func (l *Logger) WithFileHook(dir string) *Logger {
	pathMap := lfshook.PathMap{}

	infoPath := dir + "/consilium_info.log"
	if _, err := os.OpenFile(infoPath, os.O_CREATE|os.O_WRONLY, 0666); err == nil {
		pathMap[logrus.InfoLevel] = infoPath
	}

	debugPath := dir + "/consilium_debug.log"
	if _, err := os.OpenFile(debugPath, os.O_CREATE|os.O_WRONLY, 0666); err == nil {
		pathMap[logrus.DebugLevel] = debugPath
	}

	if len(pathMap) > 0 {
		l.Hooks.Add(lfshook.NewHook(pathMap, &logrus.TextFormatter{}))
	}
	return l
}

// Entry returns a ready-to-use logrus.Entry with the "prefix" field set,
// the shape every package in this module logs through.
func (l *Logger) Entry() *logrus.Entry {
	return l.WithField("prefix", "consilium")
}

// LogLevel parses a level name, defaulting to Debug on anything
// unrecognized.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
