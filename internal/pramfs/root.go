// Package pramfs wires the cache of internal/cache into a FUSE node
// tree using github.com/hanwen/go-fuse/v2/fs. It plays the role
// fs/loopback.go plays for a plain loopback mount: a thin
// InodeEmbedder whose methods recover the node's mount-relative path
// and dispatch into the backing layer, the one difference being that
// here the backing layer is a path-indexed cache rather than a bare
// passthrough to the kernel. Writes update the cached content and are
// also written through to the backing file before they return.
package pramfs

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/maandree/pramfusehpc/internal/cache"
)

// Root holds the parameters shared by every Node in the tree: the
// cache and the device number used to compose stable inode numbers
// (mirrors loopbackRoot.Dev in a plain loopback mount).
type Root struct {
	Cache *cache.Cache
	dev   uint64
}

// NewRoot stats backingPath, builds a Cache over it, and returns the
// InodeEmbedder to mount as the filesystem root alongside the Cache
// itself, so the caller can Close it on clean unmount.
func NewRoot(backingPath string) (fs.InodeEmbedder, *cache.Cache, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(backingPath, &st); err != nil {
		return nil, nil, err
	}
	c, err := cache.New(backingPath)
	if err != nil {
		return nil, nil, err
	}
	root := &Root{Cache: c, dev: uint64(st.Dev)}
	return &Node{root: root}, c, nil
}

func (r *Root) idFromAttr(a cache.Attr) fs.StableAttr {
	swapped := (a.Ino << 32) | (a.Ino >> 32)
	swappedDev := (r.dev << 32) | (r.dev >> 32)
	return fs.StableAttr{
		Mode: a.Mode,
		Gen:  1,
		Ino:  swapped ^ swappedDev,
	}
}

// Node is a filesystem node backed by the cache. Every method recovers
// its mount-relative path via n.path() and delegates to root.Cache;
// Node itself carries no state of its own beyond the embedded Inode.
type Node struct {
	fs.Inode

	root *Root
}

func (n *Node) path() string {
	return "/" + n.Path(n.Root())
}

func (n *Node) newChild() *Node {
	return &Node{root: n.root}
}

var _ = (fs.NodeStatfser)((*Node)(nil))
var _ = (fs.NodeGetattrer)((*Node)(nil))
var _ = (fs.NodeSetattrer)((*Node)(nil))
var _ = (fs.NodeGetxattrer)((*Node)(nil))
var _ = (fs.NodeSetxattrer)((*Node)(nil))
var _ = (fs.NodeRemovexattrer)((*Node)(nil))
var _ = (fs.NodeListxattrer)((*Node)(nil))
var _ = (fs.NodeReadlinker)((*Node)(nil))
var _ = (fs.NodeOpener)((*Node)(nil))
var _ = (fs.NodeLookuper)((*Node)(nil))
var _ = (fs.NodeOpendirer)((*Node)(nil))
var _ = (fs.NodeReaddirer)((*Node)(nil))
var _ = (fs.NodeMkdirer)((*Node)(nil))
var _ = (fs.NodeMknoder)((*Node)(nil))
var _ = (fs.NodeLinker)((*Node)(nil))
var _ = (fs.NodeSymlinker)((*Node)(nil))
var _ = (fs.NodeCreater)((*Node)(nil))
var _ = (fs.NodeUnlinker)((*Node)(nil))
var _ = (fs.NodeRmdirer)((*Node)(nil))
var _ = (fs.NodeRenamer)((*Node)(nil))
var _ = (fs.NodeAccesser)((*Node)(nil))

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st, errno := n.root.Cache.Statfs(n.path())
	if errno != 0 {
		return errno
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.NameLen = uint32(st.Namelen)
	out.Frsize = uint32(st.Frsize)
	return 0
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if fg, ok := f.(fs.FileGetattrer); ok {
		return fg.Getattr(ctx, out)
	}
	a, errno := n.root.Cache.GetAttr(n.path())
	if errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, a)
	return 0
}

func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if fs2, ok := f.(fs.FileSetattrer); ok {
		return fs2.Setattr(ctx, in, out)
	}
	path := n.path()
	if mode, ok := in.GetMode(); ok {
		if errno := n.root.Cache.Chmod(path, mode); errno != 0 {
			return errno
		}
	}
	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		suid, sgid := -1, -1
		if uok {
			suid = int(uid)
		}
		if gok {
			sgid = int(gid)
		}
		if errno := n.root.Cache.Chown(path, suid, sgid); errno != 0 {
			return errno
		}
	}
	mtime, mok := in.GetMTime()
	atime, aok := in.GetATime()
	if mok || aok {
		var ap, mp *time.Time
		if aok {
			ap = &atime
		}
		if mok {
			mp = &mtime
		}
		if errno := n.root.Cache.Utimens(path, ap, mp); errno != 0 {
			return errno
		}
	}
	if sz, ok := in.GetSize(); ok {
		if errno := n.root.Cache.Truncate(path, int64(sz)); errno != 0 {
			return errno
		}
	}
	a, errno := n.root.Cache.GetAttr(path)
	if errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, a)
	return 0
}

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	sz, errno := n.root.Cache.GetXAttr(n.path(), attr, dest)
	return uint32(sz), errno
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return n.root.Cache.SetXAttr(n.path(), attr, data, int(flags))
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return n.root.Cache.RemoveXAttr(n.path(), attr)
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	sz, errno := n.root.Cache.ListXAttr(n.path(), dest)
	return uint32(sz), errno
}

func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	return n.root.Cache.Access(n.path(), mask)
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, errno := n.root.Cache.Readlink(n.path())
	if errno != 0 {
		return nil, errno
	}
	return []byte(target), 0
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := joinPath(n.path(), name)
	a, errno := n.root.Cache.GetAttr(child)
	if errno != 0 {
		return nil, errno
	}
	fillAttr(&out.Attr, a)
	node := n.newChild()
	ch := n.NewInode(ctx, node, n.root.idFromAttr(a))
	return ch, 0
}

func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	dc, errno := n.root.Cache.OpenDir(n.path())
	if errno != 0 {
		return errno
	}
	return n.root.Cache.ReleaseDir(dc)
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	dc, errno := n.root.Cache.OpenDir(n.path())
	if errno != 0 {
		return nil, errno
	}
	return &dirStream{cache: n.root.Cache, dc: dc}, 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := joinPath(n.path(), name)
	if errno := n.root.Cache.Mkdir(child, mode); errno != 0 {
		return nil, errno
	}
	callerOwnership(ctx, n.root.Cache, child)
	a, errno := n.root.Cache.GetAttr(child)
	if errno != 0 {
		return nil, errno
	}
	fillAttr(&out.Attr, a)
	node := n.newChild()
	return n.NewInode(ctx, node, n.root.idFromAttr(a)), 0
}

func (n *Node) Mknod(ctx context.Context, name string, mode, rdev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := joinPath(n.path(), name)
	if errno := n.root.Cache.Mknod(child, mode, uint64(rdev)); errno != 0 {
		return nil, errno
	}
	callerOwnership(ctx, n.root.Cache, child)
	a, errno := n.root.Cache.GetAttr(child)
	if errno != 0 {
		return nil, errno
	}
	fillAttr(&out.Attr, a)
	node := n.newChild()
	return n.NewInode(ctx, node, n.root.idFromAttr(a)), 0
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.root.Cache.Rmdir(joinPath(n.path(), name))
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.root.Cache.Unlink(joinPath(n.path(), name))
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	oldPath := joinPath(n.path(), name)
	newPath := joinPath("/"+newParent.EmbeddedInode().Path(nil), newName)
	return n.root.Cache.Rename(oldPath, newPath)
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child := joinPath(n.path(), name)
	flags = flags &^ uint32(syscall.O_APPEND)
	h, errno := n.root.Cache.Create(child, int(flags), mode)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	callerOwnership(ctx, n.root.Cache, child)
	a, errno := n.root.Cache.GetAttr(child)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	fillAttr(&out.Attr, a)
	node := n.newChild()
	ch := n.NewInode(ctx, node, n.root.idFromAttr(a))
	return ch, &fileHandle{cache: n.root.Cache, h: h}, 0, 0
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := joinPath(n.path(), name)
	if errno := n.root.Cache.Symlink(target, child); errno != 0 {
		return nil, errno
	}
	callerOwnership(ctx, n.root.Cache, child)
	a, errno := n.root.Cache.GetAttr(child)
	if errno != 0 {
		return nil, errno
	}
	fillAttr(&out.Attr, a)
	node := n.newChild()
	return n.NewInode(ctx, node, n.root.idFromAttr(a)), 0
}

func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	srcPath := "/" + target.EmbeddedInode().Path(nil)
	child := joinPath(n.path(), name)
	if errno := n.root.Cache.Link(srcPath, child); errno != 0 {
		return nil, errno
	}
	a, errno := n.root.Cache.GetAttr(child)
	if errno != 0 {
		return nil, errno
	}
	fillAttr(&out.Attr, a)
	node := n.newChild()
	return n.NewInode(ctx, node, n.root.idFromAttr(a)), 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	flags = flags &^ uint32(syscall.O_APPEND)
	h, errno := n.root.Cache.Open(n.path(), int(flags))
	if errno != 0 {
		return nil, 0, errno
	}
	return &fileHandle{cache: n.root.Cache, h: h}, 0, 0
}

// callerOwnership chowns path to the FUSE caller's uid/gid when this
// process is running as root, mirroring loopbackNode.preserveOwner in
// a plain loopback mount: a newly-created file would otherwise belong
// to root instead of whichever user asked for the create.
func callerOwnership(ctx context.Context, c *cache.Cache, path string) {
	if os.Getuid() != 0 {
		return
	}
	caller, ok := fuse.FromContext(ctx)
	if !ok {
		return
	}
	c.Chown(path, int(caller.Uid), int(caller.Gid))
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
