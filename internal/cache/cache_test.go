package cache

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"golang.org/x/sys/unix"
)

func newTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	root := t.TempDir()
	c, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, root
}

func mustWriteFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, rel), data, 0644); err != nil {
		t.Fatalf("seed file %s: %v", rel, err)
	}
}

func TestGetAttrPopulatesOnFirstTouch(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("hello"))

	attr, errno := c.GetAttr("/a")
	if errno != 0 {
		t.Fatalf("GetAttr: errno %v", errno)
	}
	if attr.Size != 5 {
		t.Fatalf("Size = %d, want 5", attr.Size)
	}

	attr2, errno := c.GetAttr("/a")
	if errno != 0 {
		t.Fatalf("GetAttr second call: errno %v", errno)
	}
	if diff := pretty.Compare(attr, attr2); diff != "" {
		t.Fatalf("second GetAttr returned a different snapshot: %s", diff)
	}
}

func TestGetAttrMissingReturnsNoent(t *testing.T) {
	c, _ := newTestCache(t)
	if _, errno := c.GetAttr("/missing"); errno != syscall.ENOENT {
		t.Fatalf("errno = %v, want ENOENT", errno)
	}
}

func TestChmodUpdatesCacheAndBacking(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("x"))

	if errno := c.Chmod("/a", 0600); errno != 0 {
		t.Fatalf("Chmod: errno %v", errno)
	}
	attr, _ := c.GetAttr("/a")
	if attr.Mode&0777 != 0600 {
		t.Fatalf("cached mode = %o, want 0600", attr.Mode&0777)
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(filepath.Join(root, "a"), &st); err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if st.Mode&0777 != 0600 {
		t.Fatalf("backing mode = %o, want 0600", st.Mode&0777)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", nil)

	h, errno := c.Open("/a", os.O_RDWR)
	if errno != 0 {
		t.Fatalf("Open: errno %v", errno)
	}
	defer c.Release(h)

	payload := []byte("the quick brown fox")
	n, errno := c.Write(h, payload, 0)
	if errno != 0 || n != len(payload) {
		t.Fatalf("Write: n=%d errno=%v", n, errno)
	}

	buf := make([]byte, len(payload))
	n, errno = c.Read(h, buf, 0)
	if errno != 0 {
		t.Fatalf("Read: errno %v", errno)
	}
	if n != len(payload) || string(buf) != string(payload) {
		t.Fatalf("Read = %q (n=%d), want %q", buf[:n], n, payload)
	}

	attr, _ := c.GetAttr("/a")
	if attr.Size != int64(len(payload)) {
		t.Fatalf("Size = %d, want %d", attr.Size, len(payload))
	}
}

func TestWriteIntoExistingFileWithoutPriorReadPreservesPrefix(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("Hi!\n"))

	h, errno := c.Open("/a", os.O_RDWR)
	if errno != 0 {
		t.Fatalf("Open: errno %v", errno)
	}
	defer c.Release(h)

	n, errno := c.Write(h, []byte("XY"), 2)
	if errno != 0 || n != 2 {
		t.Fatalf("Write: n=%d errno=%v", n, errno)
	}

	buf := make([]byte, 4)
	n, errno = c.Read(h, buf, 0)
	if errno != 0 {
		t.Fatalf("Read: errno %v", errno)
	}
	if n != 4 || string(buf) != "HiXY" {
		t.Fatalf("Read = %q (n=%d), want %q", buf[:n], n, "HiXY")
	}
}

func TestReadBeyondEOFIsClamped(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("abc"))

	h, errno := c.Open("/a", os.O_RDONLY)
	if errno != 0 {
		t.Fatalf("Open: errno %v", errno)
	}
	defer c.Release(h)

	buf := make([]byte, 16)
	n, errno := c.Read(h, buf, 1)
	if errno != 0 {
		t.Fatalf("Read: errno %v", errno)
	}
	if n != 2 || string(buf[:n]) != "bc" {
		t.Fatalf("Read = %q (n=%d), want \"bc\" (n=2)", buf[:n], n)
	}
}

func TestTruncateGrowPadsWithZeros(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("ab"))

	h, errno := c.Open("/a", os.O_RDWR)
	if errno != 0 {
		t.Fatalf("Open: errno %v", errno)
	}
	defer c.Release(h)

	// populate the buffer before growing, to exercise the zero-fill path.
	buf := make([]byte, 2)
	if _, errno := c.Read(h, buf, 0); errno != 0 {
		t.Fatalf("Read: errno %v", errno)
	}

	if errno := c.FTruncate(h, 5); errno != 0 {
		t.Fatalf("FTruncate: errno %v", errno)
	}

	out := make([]byte, 5)
	n, errno := c.Read(h, out, 0)
	if errno != 0 {
		t.Fatalf("Read after truncate: errno %v", errno)
	}
	want := []byte{'a', 'b', 0, 0, 0}
	if n != 5 || string(out) != string(want) {
		t.Fatalf("Read after truncate = %v, want %v", out[:n], want)
	}
}

func TestRenameReconcilesCacheEntry(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("xyz"))

	if _, errno := c.GetAttr("/a"); errno != 0 {
		t.Fatalf("GetAttr: errno %v", errno)
	}
	if errno := c.Rename("/a", "/b"); errno != 0 {
		t.Fatalf("Rename: errno %v", errno)
	}

	if _, errno := c.GetAttr("/a"); errno != syscall.ENOENT {
		t.Fatalf("GetAttr(/a) after rename = %v, want ENOENT", errno)
	}
	attr, errno := c.GetAttr("/b")
	if errno != 0 {
		t.Fatalf("GetAttr(/b): errno %v", errno)
	}
	if attr.Size != 3 {
		t.Fatalf("Size = %d, want 3", attr.Size)
	}
	if _, err := os.Stat(filepath.Join(root, "b")); err != nil {
		t.Fatalf("backing rename did not happen: %v", err)
	}
}

func TestUnlinkDropsEntryWhenNotOpen(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("x"))

	if _, errno := c.GetAttr("/a"); errno != 0 {
		t.Fatalf("GetAttr: errno %v", errno)
	}
	if errno := c.Unlink("/a"); errno != 0 {
		t.Fatalf("Unlink: errno %v", errno)
	}
	if _, errno := c.GetAttr("/a"); errno != syscall.ENOENT {
		t.Fatalf("GetAttr after unlink = %v, want ENOENT", errno)
	}
	if _, err := os.Stat(filepath.Join(root, "a")); !os.IsNotExist(err) {
		t.Fatalf("backing file should be gone, got err=%v", err)
	}
}

func TestUnlinkWhileOpenTombstonesEntry(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("hold me open"))

	h, errno := c.Open("/a", os.O_RDONLY)
	if errno != 0 {
		t.Fatalf("Open: errno %v", errno)
	}

	if errno := c.Unlink("/a"); errno != 0 {
		t.Fatalf("Unlink: errno %v", errno)
	}

	buf := make([]byte, 4)
	n, errno := c.Read(h, buf, 0)
	if errno != 0 {
		t.Fatalf("Read after unlink-while-open: errno %v", errno)
	}
	if string(buf[:n]) != "hold" {
		t.Fatalf("Read after unlink-while-open = %q", buf[:n])
	}

	if errno := c.Release(h); errno != 0 {
		t.Fatalf("Release: errno %v", errno)
	}
	if _, errno := c.GetAttr("/a"); errno != syscall.ENOENT {
		t.Fatalf("GetAttr(/a) after release = %v, want ENOENT (fresh lstat)", errno)
	}
}

func TestLinkAliasesSameEntry(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("shared"))

	if _, errno := c.GetAttr("/a"); errno != 0 {
		t.Fatalf("GetAttr: errno %v", errno)
	}
	if errno := c.Link("/a", "/b"); errno != 0 {
		t.Fatalf("Link: errno %v", errno)
	}

	attrA, _ := c.GetAttr("/a")
	attrB, _ := c.GetAttr("/b")
	if attrA.Nlink != 2 || attrB.Nlink != 2 {
		t.Fatalf("Nlink a=%d b=%d, want 2/2", attrA.Nlink, attrB.Nlink)
	}

	if errno := c.Unlink("/a"); errno != 0 {
		t.Fatalf("Unlink: errno %v", errno)
	}
	attrB2, errno := c.GetAttr("/b")
	if errno != 0 {
		t.Fatalf("GetAttr(/b) after unlinking /a: errno %v", errno)
	}
	if attrB2.Nlink != 1 {
		t.Fatalf("Nlink(b) after unlink(a) = %d, want 1", attrB2.Nlink)
	}
}

func TestReadlinkCachesTarget(t *testing.T) {
	c, root := newTestCache(t)
	if err := os.Symlink("target-does-not-need-to-exist", filepath.Join(root, "link")); err != nil {
		t.Fatalf("seed symlink: %v", err)
	}

	target, errno := c.Readlink("/link")
	if errno != 0 {
		t.Fatalf("Readlink: errno %v", errno)
	}
	if target != "target-does-not-need-to-exist" {
		t.Fatalf("Readlink = %q", target)
	}

	// second call must hit the cache, not re-stat.
	target2, errno := c.Readlink("/link")
	if errno != 0 || target2 != target {
		t.Fatalf("second Readlink = %q, errno %v", target2, errno)
	}
}

func TestReadlinkOnRegularFileIsEinval(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("not a link"))

	if _, errno := c.Readlink("/a"); errno != syscall.EINVAL {
		t.Fatalf("errno = %v, want EINVAL", errno)
	}
}

func TestMkdirRmdirPassThrough(t *testing.T) {
	c, root := newTestCache(t)
	if errno := c.Mkdir("/d", 0755); errno != 0 {
		t.Fatalf("Mkdir: errno %v", errno)
	}
	if fi, err := os.Stat(filepath.Join(root, "d")); err != nil || !fi.IsDir() {
		t.Fatalf("Mkdir did not create directory: err=%v", err)
	}
	if errno := c.Rmdir("/d"); errno != 0 {
		t.Fatalf("Rmdir: errno %v", errno)
	}
	if _, err := os.Stat(filepath.Join(root, "d")); !os.IsNotExist(err) {
		t.Fatalf("Rmdir did not remove directory: err=%v", err)
	}
}

func TestOpenDirLists(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", nil)
	mustWriteFile(t, root, "b", nil)

	dc, errno := c.OpenDir("/")
	if errno != 0 {
		t.Fatalf("OpenDir: errno %v", errno)
	}
	defer c.ReleaseDir(dc)

	seen := map[string]bool{}
	for dc.HasNext() {
		e, errno := dc.Next()
		if errno != 0 {
			t.Fatalf("Next: errno %v", errno)
		}
		seen[e.Name] = true
	}
	if !seen["a"] || !seen["b"] || !seen["."] || !seen[".."] {
		t.Fatalf("listing missing expected entries: %v", seen)
	}
}

func TestSymlinkCreateThenReadlink(t *testing.T) {
	c, _ := newTestCache(t)
	if errno := c.Symlink("/etc/passwd", "/s"); errno != 0 {
		t.Fatalf("Symlink: errno %v", errno)
	}
	target, errno := c.Readlink("/s")
	if errno != 0 {
		t.Fatalf("Readlink: errno %v", errno)
	}
	if target != "/etc/passwd" {
		t.Fatalf("Readlink = %q", target)
	}
}

func TestXAttrRoundTrip(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("x"))

	err := unix.Lsetxattr(filepath.Join(root, "a"), "user.test", []byte("v"), 0)
	if err != nil {
		t.Skipf("xattr not supported on this filesystem: %v", err)
	}

	dest := make([]byte, 8)
	n, errno := c.GetXAttr("/a", "user.test", dest)
	if errno != 0 {
		t.Fatalf("GetXAttr: errno %v", errno)
	}
	if string(dest[:n]) != "v" {
		t.Fatalf("GetXAttr = %q", dest[:n])
	}
}

func TestCloseDrainsIndex(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("x"))
	if _, errno := c.GetAttr("/a"); errno != 0 {
		t.Fatalf("GetAttr: errno %v", errno)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, errno := c.GetAttr("/a"); errno != 0 {
		t.Fatalf("GetAttr after Close should re-populate from backing: errno %v", errno)
	}
}

func TestCloseReclaimsUnreleasedHandle(t *testing.T) {
	c, root := newTestCache(t)
	mustWriteFile(t, root, "a", []byte("x"))

	h, errno := c.Open("/a", os.O_RDWR)
	if errno != 0 {
		t.Fatalf("Open: errno %v", errno)
	}
	// Deliberately no Release(h): Close must still reclaim the descriptor.
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := unix.Close(h.Fd()); err == nil {
		t.Fatalf("fd %d still open after Close", h.Fd())
	}
}
