// Package emulog provides the structured logger shared by every service.
// It wraps zap directly: there is no controller-manager layer here to do it
// for us, but the logging concern itself is carried forward from the
// teacher unchanged.
package emulog

import "go.uber.org/zap"

// New returns a named sugared logger for component (e.g. "compute",
// "reconciler", "objects"). debug enables development-mode (human
// readable, debug level) output; production mode otherwise (JSON, info
// level).
func New(component string, debug bool) *zap.SugaredLogger {
	var base *zap.Logger
	var err error
	if debug {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		base = zap.NewNop()
	}
	return base.Sugar().Named(component)
}

// Nop returns a logger that discards everything, for tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
