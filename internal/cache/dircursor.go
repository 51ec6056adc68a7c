package cache

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// DirCursor is a backing directory handle together with the
// getdents buffer it is currently draining. Directory listings are
// never cached: a DirCursor always reads straight from the kernel via
// getdents, the way fs/dirstream_unix.go does for a loopback mount.
type DirCursor struct {
	fd   int
	buf  []byte
	todo []byte
	err  syscall.Errno
}

// DirEntry is one yielded directory entry.
type DirEntry struct {
	Name string
	Ino  uint64
	Type uint32 // DT_* from the dirent, 0 (DT_UNKNOWN) if unavailable
}

func newDirCursor(fd int) *DirCursor {
	dc := &DirCursor{fd: fd, buf: make([]byte, 4096)}
	dc.fill()
	return dc
}

func (dc *DirCursor) fill() {
	if len(dc.todo) > 0 {
		return
	}
	n, err := unix.Getdents(dc.fd, dc.buf)
	if n < 0 {
		n = 0
	}
	dc.todo = dc.buf[:n]
	dc.err = errnoFrom(err)
}

// HasNext reports whether another entry (or a pending error) remains.
func (dc *DirCursor) HasNext() bool {
	return len(dc.todo) > 0 || dc.err != 0
}

// Next returns the next directory entry, parsed from the raw getdents
// buffer.
func (dc *DirCursor) Next() (DirEntry, syscall.Errno) {
	if dc.err != 0 {
		e := dc.err
		dc.err = 0
		return DirEntry{}, e
	}
	entry, rest, ok := parseDirent(dc.todo)
	if !ok {
		return DirEntry{}, syscall.EIO
	}
	dc.todo = rest
	if len(dc.todo) == 0 {
		dc.fill()
	}
	return entry, 0
}

// Close releases the backing directory descriptor.
func (dc *DirCursor) Close() syscall.Errno {
	if dc.fd == -1 {
		return 0
	}
	err := unix.Close(dc.fd)
	dc.fd = -1
	return errnoFrom(err)
}
