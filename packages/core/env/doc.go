// Package env builds the environment handed to worker processes.
//
// It reads dotenv files (KEY=value lines, optional quotes and an optional
// leading "export") and layers them under the inherited environment.
package env
