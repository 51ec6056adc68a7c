package cache

import "syscall"

// errnoFrom converts a backing syscall error into a syscall.Errno, the
// way fs.ToErrno does in a loopback filesystem: nil becomes 0 ("OK"),
// an Errno passes through unchanged, and anything else maps to EIO.
// internal/pramfs returns the Errno unchanged and go-fuse converts it
// to the kernel dispatch layer's wire format; the cache itself deals
// only in Errno.
func errnoFrom(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}
