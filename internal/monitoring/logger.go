// Package monitoring holds process-level logging hooks shared by the
// command-line tools.
package monitoring

import (
	"io"
	"log"
)

// Logf is the process-level logger used by the CLI. It defaults to
// log.Printf and may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Verbosity selects which package log streams reach the output.
type Verbosity int

const (
	Quiet Verbosity = iota // ops only
	Diag                   // ops + diag
	Trace                  // ops + diag + trace
)

// Streams returns the ops, diag and trace writers for v. A disabled stream
// is nil, which the package SetLogWriters functions treat as muted.
func Streams(w io.Writer, v Verbosity) (ops, diag, trace io.Writer) {
	ops = w
	if v >= Diag {
		diag = w
	}
	if v >= Trace {
		trace = w
	}
	return ops, diag, trace
}
