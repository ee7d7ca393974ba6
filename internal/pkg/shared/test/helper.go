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

// Package test contains helpers shared by package tests
package test

import (
	"net"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/defenxor/dpull/internal/pkg/shared/fs"
	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
)

// DirEnv get the root app directory and setup log for testing
func DirEnv() (dir string, err error) {
	dir, err = fs.GetDir(true)
	if err == nil {
		err = log.Setup(false)
	}
	return
}

// MockServer serves h on a random loopback port until the test ends and
// returns its base URL
func MockServer(t testing.TB, h fasthttp.RequestHandler) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &fasthttp.Server{Handler: h}
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() { _ = s.Shutdown() })
	return "http://" + ln.Addr().String()
}
