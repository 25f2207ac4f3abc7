// control/log.go
// Author: momentics <momentics@gmail.com>
//
// Shared structured logger. Every package that logs (scheduler worker
// loop, IOManager idle loop, hook retry path, thread lifecycle) takes an
// injectable *zap.SugaredLogger; NewNop's silence-by-default matches the
// teacher's own terse, opt-in debug prints (scheduler.cpp's `debug` bool).

package control

import "go.uber.org/zap"

// NewNopLogger returns a logger that discards everything, the default
// for library code that hasn't been given one explicitly.
func NewNopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// NewProductionLogger returns a JSON logger suitable for cmd/fiberrtd.
func NewProductionLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
