package nmranet

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured-logging front end used throughout this
// package: logiface paired with its teacher-default stumpy JSON backend
// (see logiface-stumpy/example_test.go). A nil *Logger is valid and
// silent — every Builder method in the chain is nil-safe — so components
// constructed without one (e.g. in tests) pay nothing extra.
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger constructs a Logger writing newline-delimited JSON to w at the
// given minimum level. A nil w discards output, which is the common case
// on an embedded target with no console worth writing to.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = io.Discard
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}
