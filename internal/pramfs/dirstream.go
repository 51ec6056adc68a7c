package pramfs

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/maandree/pramfusehpc/internal/cache"
)

// dirStream adapts a cache.DirCursor to fs.DirStream, the same shape
// as fs/dirstream_unix.go's loopbackDirStream, but backed by the
// cache's getdents loop rather than a raw fd directly.
type dirStream struct {
	cache *cache.Cache
	dc    *cache.DirCursor
}

func (d *dirStream) HasNext() bool {
	return d.dc.HasNext()
}

func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e, errno := d.dc.Next()
	if errno != 0 {
		return fuse.DirEntry{}, errno
	}
	return fuse.DirEntry{
		Name: e.Name,
		Ino:  e.Ino,
		Mode: dtToMode(e.Type),
	}, 0
}

func (d *dirStream) Close() {
	d.cache.ReleaseDir(d.dc)
}

// dtToMode maps a getdents d_type nibble to the high mode bits
// fuse.DirEntry.Mode expects.
func dtToMode(dt uint32) uint32 {
	switch dt {
	case 1: // DT_FIFO
		return syscall.S_IFIFO
	case 2: // DT_CHR
		return syscall.S_IFCHR
	case 4: // DT_DIR
		return syscall.S_IFDIR
	case 6: // DT_BLK
		return syscall.S_IFBLK
	case 8: // DT_REG
		return syscall.S_IFREG
	case 10: // DT_LNK
		return syscall.S_IFLNK
	case 12: // DT_SOCK
		return syscall.S_IFSOCK
	default:
		return 0
	}
}
