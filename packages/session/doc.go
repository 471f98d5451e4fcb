// Package session is the command surface of vptest. A Manager owns one
// Supervisor, keeps the current and previous RunSession, and maps the
// editor-style subcommands (file, function, toggle, stop, nosigns) onto
// run operations.
package session
