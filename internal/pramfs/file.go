package pramfs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/maandree/pramfusehpc/internal/cache"
)

// fileHandle is the FileHandle returned from Open/Create: a thin
// adapter from the cache's Handle to the fs.File* interfaces, the same
// role LoopbackFile plays for a plain loopback mount (fs/files.go) —
// except every call here goes through the cache's single lock instead
// of straight to the descriptor, since the cache owns the buffer these
// calls read and write through.
type fileHandle struct {
	cache *cache.Cache
	h     *cache.Handle
}

var _ = (fs.FileHandle)((*fileHandle)(nil))
var _ = (fs.FileReader)((*fileHandle)(nil))
var _ = (fs.FileWriter)((*fileHandle)(nil))
var _ = (fs.FileReleaser)((*fileHandle)(nil))
var _ = (fs.FileFlusher)((*fileHandle)(nil))
var _ = (fs.FileFsyncer)((*fileHandle)(nil))
var _ = (fs.FileGetattrer)((*fileHandle)(nil))
var _ = (fs.FileSetattrer)((*fileHandle)(nil))
var _ = (fs.FileAllocater)((*fileHandle)(nil))
var _ = (fs.FileGetlker)((*fileHandle)(nil))
var _ = (fs.FileSetlker)((*fileHandle)(nil))
var _ = (fs.FileSetlkwer)((*fileHandle)(nil))

func (f *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, errno := f.cache.Read(f.h, dest, off)
	if errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, errno := f.cache.Write(f.h, data, off)
	return uint32(n), errno
}

func (f *fileHandle) Release(ctx context.Context) syscall.Errno {
	return f.cache.Release(f.h)
}

func (f *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return f.cache.Flush(f.h)
}

func (f *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return f.cache.Fsync(f.h, flags&1 != 0)
}

func (f *fileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	a, errno := f.cache.FGetAttr(f.h)
	if errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, a)
	return 0
}

func (f *fileHandle) Setattr(ctx context.Context, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if sz, ok := in.GetSize(); ok {
		if errno := f.cache.FTruncate(f.h, int64(sz)); errno != 0 {
			return errno
		}
	}
	return f.Getattr(ctx, out)
}

func (f *fileHandle) Allocate(ctx context.Context, off uint64, sz uint64, mode uint32) syscall.Errno {
	return f.cache.Fallocate(f.h, mode, int64(off), int64(sz))
}

func (f *fileHandle) Getlk(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32, out *fuse.FileLock) syscall.Errno {
	return syscall.ENOTSUP
}

func (f *fileHandle) Setlk(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32) syscall.Errno {
	return f.setLock(lk, flags, false)
}

func (f *fileHandle) Setlkw(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32) syscall.Errno {
	return f.setLock(lk, flags, true)
}

func (f *fileHandle) setLock(lk *fuse.FileLock, flags uint32, blocking bool) syscall.Errno {
	const flockFlag = 1 << 0 // FUSE_LK_FLOCK
	if flags&flockFlag == 0 {
		return syscall.ENOTSUP
	}
	var op int
	switch lk.Typ {
	case syscall.F_RDLCK:
		op = syscall.LOCK_SH
	case syscall.F_WRLCK:
		op = syscall.LOCK_EX
	case syscall.F_UNLCK:
		op = syscall.LOCK_UN
	default:
		return syscall.EINVAL
	}
	if !blocking {
		op |= syscall.LOCK_NB
	}
	return f.cache.Flock(f.h, op)
}
