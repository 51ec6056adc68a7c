package pramfs

import (
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/maandree/pramfusehpc/internal/cache"
)

// fillAttr copies a cache.Attr snapshot into the wire Attr struct, the
// pramfs equivalent of fuse.Attr.FromStat for a loopback mount.
func fillAttr(dst *fuse.Attr, a cache.Attr) {
	dst.Ino = a.Ino
	dst.Size = uint64(a.Size)
	dst.Blocks = uint64(a.Blocks)
	dst.Atime = uint64(a.Atime.Unix())
	dst.Atimensec = uint32(a.Atime.Nanosecond())
	dst.Mtime = uint64(a.Mtime.Unix())
	dst.Mtimensec = uint32(a.Mtime.Nanosecond())
	dst.Ctime = uint64(a.Ctime.Unix())
	dst.Ctimensec = uint32(a.Ctime.Nanosecond())
	dst.Mode = a.Mode
	dst.Nlink = a.Nlink
	dst.Uid = a.Uid
	dst.Gid = a.Gid
	dst.Rdev = uint32(a.Rdev)
	dst.Blksize = 4096
}
