// Package build holds values that vary depending on the release type the
// binary was compiled with, along with the sanity-check helpers that use
// them.
package build

// Release is set at compile time via linker flags. When it is "testing",
// Critical/Severe do not print to stderr; whether they panic is controlled
// by DEBUG, not by Release.
var Release = "standard"

// DEBUG toggles expensive sanity checks that are only meant to run in
// development and CI, never in a standard release build.
var DEBUG = false
