package channel

import (
	"errors"
	"fmt"
	"os"
)

// File descriptors at which a worker process finds its channel ends. They
// follow stdin, stdout and stderr in exec.Cmd.ExtraFiles order.
const (
	ChildReadFD  = 3
	ChildWriteFD = 4
)

// ChildFiles are the worker's ends of an OS pipe pair.
type ChildFiles struct {
	Read  *os.File
	Write *os.File
}

// ExtraFiles returns the files in the order expected by FromInheritedFiles.
func (f *ChildFiles) ExtraFiles() []*os.File {
	return []*os.File{f.Read, f.Write}
}

// Close releases the parent's copies of the child ends. Call it once the
// child has started, otherwise the parent never observes EOF.
func (f *ChildFiles) Close() error {
	return errors.Join(f.Read.Close(), f.Write.Close())
}

// OSPipe creates the supervisor end of a channel together with the files
// to hand to a worker process.
func OSPipe() (*Conn, *ChildFiles, error) {
	childR, parentW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("channel: create pipe: %w", err)
	}
	parentR, childW, err := os.Pipe()
	if err != nil {
		_ = childR.Close()
		_ = parentW.Close()
		return nil, nil, fmt.Errorf("channel: create pipe: %w", err)
	}

	conn := New(parentR, parentW, parentW, parentR)
	return conn, &ChildFiles{Read: childR, Write: childW}, nil
}

// FromInheritedFiles rebuilds the worker end of a channel inside a process
// started with ChildFiles.ExtraFiles.
func FromInheritedFiles() (*Conn, error) {
	r := os.NewFile(ChildReadFD, "vptest-channel-in")
	w := os.NewFile(ChildWriteFD, "vptest-channel-out")
	if r == nil || w == nil {
		return nil, errors.New("channel: no inherited channel files")
	}
	if _, err := w.Stat(); err != nil {
		return nil, fmt.Errorf("channel: no inherited channel: %w", err)
	}
	return New(r, w, w, r), nil
}
