// Package context holds the state shared by the docmig commands: the
// filesystem, the standard streams, the process environment, the logger and
// the clock.
//
// It is separate from the app package so that cli can depend on it without
// an import cycle.
package context
