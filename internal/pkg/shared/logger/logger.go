// Copyright (c) 2018 PT Defender Nusa Semesta and contributors, All rights reserved.
//
// This file is part of Dpull.
//
// Dpull is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation version 3 of the License.
//
// Dpull is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Dpull. If not, see <https://www.gnu.org/licenses/>.

package logger

import (
	"bufio"
	"bytes"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var zlog = zap.NewNop()
var enableDebugMessage bool

var enc zapcore.Encoder
var wrt *bufio.Writer
var buffer bytes.Buffer
var zLock = sync.RWMutex{}

// TestMode is a flag for testing mode
var TestMode bool

// Setup initialize logger
func Setup(dbg bool) (err error) {
	zLock.Lock()
	defer zLock.Unlock()
	enableDebugMessage = dbg
	var l *zap.Logger
	if enableDebugMessage {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true
		cfg.DisableCaller = true
		l, err = cfg.Build(zap.AddStacktrace(zap.ErrorLevel))
	} else {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableCaller = true
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		l, err = cfg.Build()
	}
	if err == nil {
		zlog = l
		_ = zlog.Sync()
	}
	return
}

// M defines the type for log messages
type M struct {
	Msg     string // the message
	Src     string // source prefix, e.g. "CTE CrowdStrike [prod]"
	Run     string // pull or validation run ID
	Details string // raw payload or response body attached for diagnosis
}

func parseFields(m *M) (f []zapcore.Field) {
	f = []zapcore.Field{}
	if m.Src != "" {
		f = append(f, zap.String("source", m.Src))
	}
	if m.Run != "" {
		f = append(f, zap.String("run", m.Run))
	}
	if m.Details != "" {
		f = append(f, zap.String("details", m.Details))
	}
	return
}

func lockForTest() func() {
	if !TestMode {
		return func() {}
	}
	zLock.Lock()
	return zLock.Unlock
}

// Info logs with info level
func Info(m M) {
	defer lockForTest()()
	zlog.Info(m.Msg, parseFields(&m)...)
}

// InfoMsg logs msg with info level
func InfoMsg(msg string) {
	Info(M{Msg: msg})
}

// Warn logs with warn level
func Warn(m M) {
	defer lockForTest()()
	zlog.Warn(m.Msg, parseFields(&m)...)
}

// Debug logs with debug level
func Debug(m M) {
	if !enableDebugMessage {
		return
	}
	defer lockForTest()()
	zlog.Debug(m.Msg, parseFields(&m)...)
}

// Error logs with error level
func Error(m M) {
	defer lockForTest()()
	zlog.Error(m.Msg, parseFields(&m)...)
}

// CaptureZapOutput returns output of zap logger so that it can be used
// in tests
func CaptureZapOutput(funcToRun func()) string {
	zLock.Lock()
	buffer.Reset()
	zLock.Unlock()
	funcToRun()
	zLock.Lock()
	wrt.Flush()
	zLock.Unlock()
	return buffer.String()
}

// EnableTestingMode set zap for testing, should be called before CaptureZapOutput
func EnableTestingMode() {
	zLock.Lock()
	defer zLock.Unlock()
	TestMode = true
	enableDebugMessage = true
	enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	wrt = bufio.NewWriter(&buffer)
	zlog = zap.New(
		zapcore.NewCore(enc, zapcore.AddSync(wrt), zapcore.DebugLevel))
}
