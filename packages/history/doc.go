// Package history records finished test runs in a SQLite database so past
// results can be listed from the command line.
package history
