//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// fiberrt is an epoll-specific runtime (spec §1: "does not support Windows
// or non-epoll platforms"); every other platform gets a constructor that
// fails cleanly instead of a half-working poller.

package reactor

import "errors"

// NewPoller returns an error on any non-Linux platform.
func NewPoller() (Poller, error) {
	return nil, errors.New("reactor: epoll is only available on linux")
}
