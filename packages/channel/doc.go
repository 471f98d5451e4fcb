// Package channel implements the duplex event transport between a run
// supervisor and its worker.
//
// Each event is written as one frame: a 4-byte big-endian length followed
// by the JSON body produced by the protocol package. A reader either gets
// a whole frame or ErrClosed, never a partial event.
//
// Pipe returns an in-memory pair for workers that run in the same process.
// OSPipe returns a pair backed by OS pipes whose child ends are passed to a
// worker process through exec.Cmd.ExtraFiles; the worker rebuilds its end
// with FromInheritedFiles.
package channel
