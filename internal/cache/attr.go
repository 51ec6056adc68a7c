package cache

import (
	"syscall"
	"time"
)

// Attr is the cached snapshot of POSIX-style inode attributes kept in
// a Cache Entry. It is authoritative for reads that bypass the backing
// store: Getattr never re-stats once an Entry is cached, it returns a
// copy of this struct.
type Attr struct {
	Mode  uint32
	Nlink uint32
	Uid   uint32
	Gid   uint32
	Rdev  uint64
	Ino   uint64

	Size   int64
	Blocks int64 // from lstat on first touch; set to ceil(Size/512) after every mutation that changes Size.

	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

const blockSize = 512

func blocksFor(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + blockSize - 1) / blockSize
}

// attrFromStat builds an Attr from a raw lstat/fstat result.
func attrFromStat(st *syscall.Stat_t) Attr {
	return Attr{
		Mode:   st.Mode,
		Nlink:  uint32(st.Nlink),
		Uid:    st.Uid,
		Gid:    st.Gid,
		Rdev:   uint64(st.Rdev),
		Ino:    st.Ino,
		Size:   st.Size,
		Blocks: st.Blocks,
		Atime:  time.Unix(st.Atim.Sec, st.Atim.Nsec),
		Mtime:  time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		Ctime:  time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
	}
}

// IsSymlink reports whether the cached mode bits mark a symbolic link.
func (a Attr) IsSymlink() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFLNK
}

// IsDir reports whether the cached mode bits mark a directory.
func (a Attr) IsDir() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFDIR
}
