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

// Logger carries the source prefix and run ID of one plugin instance so
// every entry it writes can be traced back to the source that produced it.
type Logger struct {
	Src string
	Run string
}

// New returns a Logger for src
func New(src string) Logger {
	return Logger{Src: src}
}

// WithRun returns a copy of l tagged with run ID id
func (l Logger) WithRun(id string) Logger {
	l.Run = id
	return l
}

// EnsureRun returns l unchanged when it already carries a run ID, otherwise
// a copy tagged with id
func (l Logger) EnsureRun(id string) Logger {
	if l.Run != "" {
		return l
	}
	return l.WithRun(id)
}

func (l Logger) m(msg string, details []string) M {
	m := M{Msg: msg, Src: l.Src, Run: l.Run}
	if len(details) > 0 {
		m.Details = details[0]
	}
	return m
}

// Info logs msg with info level
func (l Logger) Info(msg string, details ...string) { Info(l.m(msg, details)) }

// Warn logs msg with warn level
func (l Logger) Warn(msg string, details ...string) { Warn(l.m(msg, details)) }

// Debug logs msg with debug level
func (l Logger) Debug(msg string, details ...string) { Debug(l.m(msg, details)) }

// Error logs msg with error level, details usually holds the offending payload
func (l Logger) Error(msg string, details ...string) { Error(l.m(msg, details)) }
