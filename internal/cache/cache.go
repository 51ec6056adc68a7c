// Package cache implements the Inode Cache, Handle Table, and Dir
// Cursor: a path-keyed cache of file metadata and content that sits in
// front of a backing POSIX directory and mediates every metadata
// mutation and read/write fast path.
//
// Every exported method on Cache is one complete critical section: it
// takes the cache's single global lock, consults/updates the trie and
// the touched Entry, issues whatever backing syscall the operation
// needs, and releases the lock before returning — this is a cache
// façade, so that sharding the lock later is a change inside this
// package, not at every call site in internal/pramfs.
package cache

import (
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/maandree/pramfusehpc/internal/pathtx"
	"github.com/maandree/pramfusehpc/internal/trie"
)

// Cache is the Inode Cache. The zero value is not usable; construct
// with New.
type Cache struct {
	mu    sync.Mutex
	tx    *pathtx.Translator
	index *trie.Map

	// live tracks every Handle currently issued by Open/Create, so Close
	// can reclaim any a caller forgot to Release instead of leaking the
	// descriptor past unmount.
	live map[*Handle]struct{}
}

// New resolves backingRoot and returns an empty Cache over it.
func New(backingRoot string) (*Cache, error) {
	tx, err := pathtx.New(backingRoot)
	if err != nil {
		return nil, err
	}
	return &Cache{
		tx:    tx,
		index: trie.New(),
		live:  make(map[*Handle]struct{}),
	}, nil
}

// BackingRoot returns the resolved backing directory.
func (c *Cache) BackingRoot() string {
	return c.tx.Root()
}

func (c *Cache) lookupLocked(path string) (*Entry, bool) {
	v, ok := c.index.Get([]byte(path))
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// ensureEntryLocked looks up path's Entry, populating it from a backing
// lstat on first touch. Caller must hold c.mu.
func (c *Cache) ensureEntryLocked(path string) (*Entry, syscall.Errno) {
	e, _, errno := c.ensureEntryLockedFresh(path)
	return e, errno
}

// ensureEntryLockedFresh is ensureEntryLocked, additionally reporting
// whether the entry was just inserted from a fresh lstat (as opposed
// to already present in the index), so a caller that is about to
// derive a field from the lstat result (e.g. Nlink) can tell whether
// that result already reflects a change the caller itself just made.
func (c *Cache) ensureEntryLockedFresh(path string) (*Entry, bool, syscall.Errno) {
	if e, ok := c.lookupLocked(path); ok {
		return e, false, 0
	}
	backing := c.tx.Translate(path)
	var st syscall.Stat_t
	if err := syscall.Lstat(backing, &st); err != nil {
		return nil, false, errnoFrom(err)
	}
	e := &Entry{Attr: attrFromStat(&st)}
	e.addPath(path)
	c.index.Put([]byte(path), e)
	return e, true, 0
}

func (e *Entry) touchCtime() {
	e.Attr.Ctime = time.Now()
}

// ---------------------------------------------------------------------
// Attribute operations
// ---------------------------------------------------------------------

// GetAttr returns a copy of the cached attributes for path, populating
// the entry first if this is its first touch.
func (c *Cache) GetAttr(path string) (Attr, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, errno := c.ensureEntryLocked(path)
	if errno != 0 {
		return Attr{}, errno
	}
	return e.Attr, 0
}

// FGetAttr returns a copy of the attributes addressed through an open
// Handle; no path lookup is needed.
func (c *Cache) FGetAttr(h *Handle) (Attr, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return h.entry.Attr, 0
}

// Chmod changes the permission bits of path.
func (c *Cache) Chmod(path string, mode uint32) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, errno := c.ensureEntryLocked(path)
	if errno != 0 {
		return errno
	}
	if e.Attr.Mode&^syscall.S_IFMT == mode&^syscall.S_IFMT {
		return 0
	}
	backing := c.tx.Translate(path)
	if err := syscall.Chmod(backing, mode); err != nil {
		return errnoFrom(err)
	}
	e.Attr.Mode = e.Attr.Mode&syscall.S_IFMT | mode&^syscall.S_IFMT
	e.touchCtime()
	return 0
}

// Chown changes the owner/group of path. Either of uid/gid may be -1
// to mean "leave unchanged", matching lchown(2).
func (c *Cache) Chown(path string, uid, gid int) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, errno := c.ensureEntryLocked(path)
	if errno != 0 {
		return errno
	}
	wantUID, wantGID := e.Attr.Uid, e.Attr.Gid
	if uid >= 0 {
		wantUID = uint32(uid)
	}
	if gid >= 0 {
		wantGID = uint32(gid)
	}
	if wantUID == e.Attr.Uid && wantGID == e.Attr.Gid {
		return 0
	}
	backing := c.tx.Translate(path)
	if err := syscall.Lchown(backing, uid, gid); err != nil {
		return errnoFrom(err)
	}
	e.Attr.Uid, e.Attr.Gid = wantUID, wantGID
	e.touchCtime()
	return 0
}

// Utimens sets atime/mtime. A nil atime or mtime means "leave
// unchanged"; if both are nil, both are set to the current time on the
// backing path, which is then re-lstat'd to pick up the
// kernel-supplied "now".
func (c *Cache) Utimens(path string, atime, mtime *time.Time) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, errno := c.ensureEntryLocked(path)
	if errno != 0 {
		return errno
	}
	backing := c.tx.Translate(path)
	if atime == nil && mtime == nil {
		now := []unix.Timespec{{Nsec: unix.UTIME_NOW}, {Nsec: unix.UTIME_NOW}}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, backing, now, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return errnoFrom(err)
		}
		var st syscall.Stat_t
		if err := syscall.Lstat(backing, &st); err != nil {
			return errnoFrom(err)
		}
		fresh := attrFromStat(&st)
		e.Attr.Atime, e.Attr.Mtime, e.Attr.Ctime = fresh.Atime, fresh.Mtime, fresh.Ctime
		return 0
	}
	if atime != nil && atime.Equal(e.Attr.Atime) && mtime != nil && mtime.Equal(e.Attr.Mtime) {
		return 0
	}
	ts := [2]unix.Timespec{
		timespecOrOmit(atime),
		timespecOrOmit(mtime),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, backing, ts[:], unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return errnoFrom(err)
	}
	if atime != nil {
		e.Attr.Atime = *atime
	}
	if mtime != nil {
		e.Attr.Mtime = *mtime
	}
	return 0
}

func timespecOrOmit(t *time.Time) unix.Timespec {
	if t == nil {
		return unix.Timespec{Sec: 0, Nsec: unix.UTIME_OMIT}
	}
	return unix.NsecToTimespec(t.UnixNano())
}

// ---------------------------------------------------------------------
// Truncate
// ---------------------------------------------------------------------

// Truncate resizes path by pathname.
func (c *Cache) Truncate(path string, size int64) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, errno := c.ensureEntryLocked(path)
	if errno != 0 {
		return errno
	}
	backing := c.tx.Translate(path)
	if err := syscall.Truncate(backing, size); err != nil {
		return errnoFrom(err)
	}
	c.applyTruncateLocked(e, size)
	return 0
}

// FTruncate resizes the file addressed by an open Handle.
func (c *Cache) FTruncate(h *Handle, size int64) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := unix.Ftruncate(h.fd, size); err != nil {
		return errnoFrom(err)
	}
	c.applyTruncateLocked(h.entry, size)
	return 0
}

func (c *Cache) applyTruncateLocked(e *Entry, size int64) {
	oldSize := e.Attr.Size
	e.Attr.Blocks = blocksFor(size)
	e.Attr.Size = size
	e.touchCtime()

	switch {
	case size == 0:
		e.buffer = nil
	case e.hasAllocatedBuffer():
		if size > int64(len(e.buffer)) {
			grown := make([]byte, size)
			copy(grown, e.buffer)
			e.buffer = grown
		}
		if size > oldSize {
			zeroRange(e.buffer, oldSize, size)
		}
		// Reallocate down only once the buffer is at least double the
		// new length; a smaller overshoot keeps its capacity so a
		// grow-shrink-grow sequence near the same size does not
		// reallocate on every call.
		if int64(len(e.buffer)) >= 2*size {
			shrunk := make([]byte, size)
			copy(shrunk, e.buffer[:size])
			e.buffer = shrunk
		}
		// Keep any capacity past the new size zeroed.
		zeroRange(e.buffer, size, int64(len(e.buffer)))
	}
}

func zeroRange(buf []byte, from, to int64) {
	if from < 0 {
		from = 0
	}
	if to > int64(len(buf)) {
		to = int64(len(buf))
	}
	for i := from; i < to; i++ {
		buf[i] = 0
	}
}

// ---------------------------------------------------------------------
// Read/Write fast path
// ---------------------------------------------------------------------

// Read services a read(2) through handle h.
func (c *Cache) Read(h *Handle, p []byte, off int64) (int, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(p) == 0 {
		return 0, 0
	}
	e := h.entry
	need := off + int64(len(p))
	if need > e.Attr.Size {
		need = e.Attr.Size
	}
	if need < 0 {
		need = 0
	}
	if int64(len(e.buffer)) < need {
		if errno := c.growBufferLocked(h.fd, e, need); errno != 0 {
			return directPread(h.fd, p, off)
		}
	}
	clamped := clampLen(int64(len(p)), off, e.Attr.Size)
	if clamped <= 0 {
		return 0, 0
	}
	n := copy(p[:clamped], e.buffer[off:off+clamped])
	return n, 0
}

// growBufferLocked extends e.buffer (allocating it if absent) so that
// it covers [0, need), populating the newly-covered range from the
// backing descriptor. On a short read (EOF before need bytes), the
// buffer is shrunk to the number of bytes actually filled.
func (c *Cache) growBufferLocked(fd int, e *Entry, need int64) syscall.Errno {
	old := int64(len(e.buffer))
	buf := make([]byte, need)
	copy(buf, e.buffer)
	filled, errno := preadFull(fd, buf[old:], old)
	total := old + int64(filled)
	if errno != 0 && filled == 0 && old == 0 {
		e.buffer = nil
		return errno
	}
	e.buffer = buf[:total]
	return 0
}

// preadFull loops pread at a growing offset (starting at off) into
// dst until dst is full or EOF.
func preadFull(fd int, dst []byte, off int64) (int, syscall.Errno) {
	total := 0
	for total < len(dst) {
		n, err := unix.Pread(fd, dst[total:], off+int64(total))
		if n > 0 {
			total += n
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return total, errnoFrom(err)
		}
		if n == 0 {
			break // EOF
		}
	}
	return total, 0
}

func directPread(fd int, p []byte, off int64) (int, syscall.Errno) {
	n, err := unix.Pread(fd, p, off)
	if n < 0 {
		n = 0
	}
	return n, errnoFrom(err)
}

func clampLen(length, off, size int64) int64 {
	max := size - off
	if max < 0 {
		max = 0
	}
	if length > max {
		length = max
	}
	if length < 0 {
		length = 0
	}
	return length
}

// Write services a write(2) through handle h.
func (c *Cache) Write(h *Handle, data []byte, off int64) (int, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(data) == 0 {
		return 0, 0
	}
	e := h.entry
	end := off + int64(len(data))

	from := off
	if from > e.Attr.Size {
		from = e.Attr.Size
	}
	if !e.hasAllocatedBuffer() || int64(len(e.buffer)) < from {
		// First write always installs the buffer: materialize the
		// untouched prefix [0, off) from backing (clamped to the
		// current size, for a write past EOF) so Attr.Size/Blocks
		// stay authoritative for later cached getattr without a
		// re-lstat, and so the real backing content below off is not
		// overwritten by zero bytes once the buffer covers it. A
		// buffer shorter than that prefix is extended the same way.
		if errno := c.growBufferLocked(h.fd, e, from); errno != 0 {
			n, errno2 := pwriteFull(h.fd, data, off)
			return n, errno2
		}
	}
	if int64(len(e.buffer)) < end {
		grown := make([]byte, end)
		copy(grown, e.buffer)
		if end > e.Attr.Size {
			zeroRange(grown, e.Attr.Size, off)
		}
		e.buffer = grown
	}
	copy(e.buffer[off:end], data)

	if end > e.Attr.Size {
		e.Attr.Size = end
		e.Attr.Blocks = blocksFor(end)
	}
	e.touchCtime()
	e.Attr.Mtime = e.Attr.Ctime

	n, errno := pwriteFull(h.fd, data, off)
	return n, errno
}

func pwriteFull(fd int, data []byte, off int64) (int, syscall.Errno) {
	total := 0
	for total < len(data) {
		n, err := unix.Pwrite(fd, data[total:], off+int64(total))
		if n > 0 {
			total += n
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return total, errnoFrom(err)
		}
		if n == 0 {
			break
		}
	}
	return total, 0
}

// ---------------------------------------------------------------------
// Rename
// ---------------------------------------------------------------------

// Rename moves oldPath to newPath, reconciling the trie if either (or
// both) are cached. Directories are never cached, so a directory
// rename is pure pass-through.
func (c *Cache) Rename(oldPath, newPath string) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldBacking, newBacking := c.tx.TranslatePair(oldPath, newPath)
	if err := syscall.Rename(oldBacking, newBacking); err != nil {
		return errnoFrom(err)
	}
	if oldPath == newPath {
		return 0
	}
	e, ok := c.lookupLocked(oldPath)
	if existing, eok := c.lookupLocked(newPath); eok && existing != e {
		existing.removePath(newPath)
		c.index.Put([]byte(newPath), nil)
	}
	if !ok {
		return 0
	}
	e.removePath(oldPath)
	c.index.Put([]byte(oldPath), nil)
	e.addPath(newPath)
	c.index.Put([]byte(newPath), e)
	e.touchCtime()
	return 0
}

// ---------------------------------------------------------------------
// Unlink
// ---------------------------------------------------------------------

// Unlink removes path's directory entry, dropping the cache entry once
// its link count reaches zero and no Handle still holds it open.
func (c *Cache) Unlink(path string) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookupLocked(path); ok {
		if e.Attr.Nlink > 0 {
			e.Attr.Nlink--
		}
		e.touchCtime()
		e.removePath(path)
		c.index.Put([]byte(path), nil)
		if e.Attr.Nlink == 0 && len(e.paths) == 0 {
			if e.openHandles > 0 {
				e.tombstoned = true
			} else {
				e.buffer = nil
				e.link = ""
			}
		}
	}
	backing := c.tx.Translate(path)
	return errnoFrom(syscall.Unlink(backing))
}

// ---------------------------------------------------------------------
// Symlink read
// ---------------------------------------------------------------------

// Readlink resolves and caches path's symlink target.
func (c *Cache) Readlink(path string) (string, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, errno := c.ensureEntryLocked(path)
	if errno != 0 {
		return "", errno
	}
	if !e.Attr.IsSymlink() {
		return "", syscall.EINVAL
	}
	backing := c.tx.Translate(path)
	if err := unix.Faccessat(unix.AT_FDCWD, backing, unix.R_OK|unix.X_OK, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return "", errnoFrom(err)
	}
	if !e.linkValid {
		target, err := readlinkGrow(backing)
		if err != nil {
			return "", errnoFrom(err)
		}
		e.link = target
		e.linkValid = true
	}
	return e.link, 0
}

func readlinkGrow(backing string) (string, error) {
	size := 1024
	for {
		buf := make([]byte, size)
		n, err := unix.Readlink(backing, buf)
		if err != nil {
			return "", err
		}
		if n < size {
			return string(buf[:n]), nil
		}
		size *= 2
	}
}

// ---------------------------------------------------------------------
// Symlink creation, hard links
// ---------------------------------------------------------------------

// Symlink creates a new symlink. Pass-through, except for the EEXIST
// guard when the destination is already a cached entry.
func (c *Cache) Symlink(target, path string) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookupLocked(path); ok {
		return syscall.EEXIST
	}
	backing := c.tx.Translate(path)
	return errnoFrom(syscall.Symlink(target, backing))
}

// Link creates a hard link from oldPath to newPath. A successful Link
// increments the source entry's Nlink and aliases the same Entry at
// the new path, so either path observes the same cached
// attributes/content until one is unlinked.
func (c *Cache) Link(oldPath, newPath string) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookupLocked(newPath); ok {
		return syscall.EEXIST
	}
	oldBacking, newBacking := c.tx.TranslatePair(oldPath, newPath)
	if err := syscall.Link(oldBacking, newBacking); err != nil {
		return errnoFrom(err)
	}
	e, fresh, errno := c.ensureEntryLockedFresh(oldPath)
	if errno != 0 {
		return 0 // backing link succeeded; a stale cache is not fatal here
	}
	// If the entry was freshly lstat'd just now, its Nlink already
	// reflects the link just created; only a pre-existing cached entry
	// needs the count bumped by hand.
	if !fresh {
		e.Attr.Nlink++
	}
	e.touchCtime()
	e.addPath(newPath)
	c.index.Put([]byte(newPath), e)
	return 0
}

// ---------------------------------------------------------------------
// Handle Table
// ---------------------------------------------------------------------

// Open opens an existing file and returns a Handle tying the backing
// descriptor to its Cache Entry.
func (c *Cache) Open(path string, flags int) (*Handle, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	backing := c.tx.Translate(path)
	fd, err := unix.Open(backing, flags, 0)
	if err != nil {
		return nil, errnoFrom(err)
	}
	e, errno := c.ensureEntryLocked(path)
	if errno != 0 {
		unix.Close(fd)
		return nil, errno
	}
	h := newHandle(fd, e, path)
	c.live[h] = struct{}{}
	return h, 0
}

// Create creates (or opens with O_CREAT semantics) a file and returns
// a Handle for it.
func (c *Cache) Create(path string, flags int, mode uint32) (*Handle, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	backing := c.tx.Translate(path)
	fd, err := unix.Open(backing, flags|unix.O_CREAT, mode)
	if err != nil {
		return nil, errnoFrom(err)
	}
	e, errno := c.ensureEntryLocked(path)
	if errno != 0 {
		unix.Close(fd)
		return nil, errno
	}
	h := newHandle(fd, e, path)
	c.live[h] = struct{}{}
	return h, 0
}

// Release closes a Handle's descriptor, freeing the Entry if it was
// tombstoned by a concurrent Unlink and this was its last Handle.
func (c *Cache) Release(h *Handle) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Force a linearization point on any outstanding buffered kernel
	// writes before the real close, matching fs/files.go Flush: close
	// a dup'd fd rather than the fd itself.
	if dupFd, err := unix.Dup(h.fd); err == nil {
		unix.Close(dupFd)
	}
	errno := errnoFrom(unix.Close(h.fd))
	delete(c.live, h)
	e := h.entry
	e.openHandles--
	if e.tombstoned && e.openHandles == 0 {
		e.buffer = nil
		e.link = ""
	}
	return errno
}

// ---------------------------------------------------------------------
// Directory cursor
// ---------------------------------------------------------------------

// OpenDir opens a directory for listing. Never cached.
func (c *Cache) OpenDir(path string) (*DirCursor, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	backing := c.tx.Translate(path)
	fd, err := unix.Open(backing, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return newDirCursor(fd), 0
}

// ReleaseDir closes a directory cursor.
func (c *Cache) ReleaseDir(dc *DirCursor) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return dc.Close()
}

// ---------------------------------------------------------------------
// Pass-through operations
// ---------------------------------------------------------------------

func (c *Cache) Mkdir(path string, mode uint32) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errnoFrom(syscall.Mkdir(c.tx.Translate(path), mode))
}

func (c *Cache) Mknod(path string, mode uint32, dev uint64) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errnoFrom(unix.Mknod(c.tx.Translate(path), mode, int(dev)))
}

func (c *Cache) Rmdir(path string) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errnoFrom(syscall.Rmdir(c.tx.Translate(path)))
}

func (c *Cache) Access(path string, mode uint32) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errnoFrom(unix.Access(c.tx.Translate(path), mode))
}

func (c *Cache) Statfs(path string) (*unix.Statfs_t, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var st unix.Statfs_t
	if err := unix.Statfs(c.tx.Translate(path), &st); err != nil {
		return nil, errnoFrom(err)
	}
	return &st, 0
}

func (c *Cache) GetXAttr(path, name string, dest []byte) (int, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := unix.Lgetxattr(c.tx.Translate(path), name, dest)
	return n, errnoFrom(err)
}

func (c *Cache) ListXAttr(path string, dest []byte) (int, syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := unix.Llistxattr(c.tx.Translate(path), dest)
	return n, errnoFrom(err)
}

func (c *Cache) SetXAttr(path, name string, data []byte, flags int) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := unix.Lsetxattr(c.tx.Translate(path), name, data, flags); err != nil {
		return errnoFrom(err)
	}
	if e, ok := c.lookupLocked(path); ok {
		e.touchCtime()
	}
	return 0
}

func (c *Cache) RemoveXAttr(path, name string) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := unix.Lremovexattr(c.tx.Translate(path), name); err != nil {
		return errnoFrom(err)
	}
	if e, ok := c.lookupLocked(path); ok {
		e.touchCtime()
	}
	return 0
}

func (c *Cache) Fsync(h *Handle, dataOnly bool) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dataOnly {
		return errnoFrom(unix.Fdatasync(h.fd))
	}
	return errnoFrom(unix.Fsync(h.fd))
}

func (c *Cache) FsyncDir(dc *DirCursor) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errnoFrom(unix.Fsync(dc.fd))
}

func (c *Cache) Flush(h *Handle) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	dupFd, err := unix.Dup(h.fd)
	if err != nil {
		return errnoFrom(err)
	}
	return errnoFrom(unix.Close(dupFd))
}

func (c *Cache) Flock(h *Handle, how int) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errnoFrom(unix.Flock(h.fd, how))
}

func (c *Cache) Fallocate(h *Handle, mode uint32, off, length int64) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errnoFrom(unix.Fallocate(h.fd, mode, off, length))
}

// ---------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------

// Close drains the cache's path index and reclaims any Handle a caller
// never Released, fsyncing and closing each concurrently via errgroup
// so a slow disk does not serialize unmount.
// In normal operation the kernel dispatch layer releases every open
// file before unmount completes and this loop does nothing; it exists
// so an aborted session cannot leak descriptors past Close.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.index.Drain()
	leaked := make([]*Handle, 0, len(c.live))
	for h := range c.live {
		leaked = append(leaked, h)
	}
	c.live = make(map[*Handle]struct{})
	c.mu.Unlock()

	var g errgroup.Group
	for _, h := range leaked {
		h := h
		g.Go(func() error {
			unix.Fsync(h.fd)
			return unix.Close(h.fd)
		})
	}
	return g.Wait()
}
