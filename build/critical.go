package build

import (
	"fmt"
	"os"
	"runtime/debug"
)

// Critical should be called whenever an internal invariant has been
// violated - something that indicates a bug in this codebase rather than
// bad input from a caller. Outside of testing builds it prints the message
// and a stack trace to stderr; in DEBUG builds it panics so the violation
// can't be missed.
func Critical(v ...interface{}) {
	s := "Critical error: " + fmt.Sprintln(v...) +
		"this is a bug, please file an issue\n"
	if Release != "testing" {
		debug.PrintStack()
		os.Stderr.WriteString(s)
	}
	if DEBUG {
		panic(s)
	}
}

// Severe is for conditions that are a problem for the user - a disk
// failure, a corrupt sidecar - but do not indicate a programming error and
// therefore do not warrant panicking outside of DEBUG builds.
func Severe(v ...interface{}) {
	s := "Severe error: " + fmt.Sprintln(v...)
	if Release != "testing" {
		debug.PrintStack()
		os.Stderr.WriteString(s)
	}
	if DEBUG {
		panic(s)
	}
}
