package pramfs

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fs"
)

func TestJoinPath(t *testing.T) {
	cases := []struct{ dir, name, want string }{
		{"/", "a", "/a"},
		{"/a", "b", "/a/b"},
		{"/a/b", "c", "/a/b/c"},
	}
	for _, c := range cases {
		if got := joinPath(c.dir, c.name); got != c.want {
			t.Errorf("joinPath(%q, %q) = %q, want %q", c.dir, c.name, got, c.want)
		}
	}
}

func TestDtToMode(t *testing.T) {
	if dtToMode(4) != syscall.S_IFDIR {
		t.Errorf("DT_DIR mapped wrong")
	}
	if dtToMode(8) != syscall.S_IFREG {
		t.Errorf("DT_REG mapped wrong")
	}
	if dtToMode(255) != 0 {
		t.Errorf("unknown d_type should map to 0")
	}
}

func mountTestFS(t *testing.T) (mntDir, origDir string) {
	t.Helper()
	base := t.TempDir()
	origDir = filepath.Join(base, "orig")
	mntDir = filepath.Join(base, "mnt")
	if err := os.Mkdir(origDir, 0755); err != nil {
		t.Fatalf("Mkdir orig: %v", err)
	}
	if err := os.Mkdir(mntDir, 0755); err != nil {
		t.Fatalf("Mkdir mnt: %v", err)
	}

	root, backingCache, err := NewRoot(origDir)
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	server, err := fs.Mount(mntDir, root, &fs.Options{})
	if err != nil {
		t.Skipf("mount unavailable in this environment: %v", err)
	}
	t.Cleanup(func() {
		server.Unmount()
		backingCache.Close()
	})
	return mntDir, origDir
}

func TestMountReadExistingFile(t *testing.T) {
	mntDir, origDir := mountTestFS(t)
	if err := os.WriteFile(filepath.Join(origDir, "hello.txt"), []byte("Hi!\n"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(mntDir, "hello.txt"))
	if err != nil {
		t.Fatalf("ReadFile through mount: %v", err)
	}
	if string(data) != "Hi!\n" {
		t.Fatalf("content = %q, want %q", data, "Hi!\n")
	}

	fi, err := os.Stat(filepath.Join(mntDir, "hello.txt"))
	if err != nil {
		t.Fatalf("Stat through mount: %v", err)
	}
	if fi.Size() != 4 {
		t.Fatalf("Size = %d, want 4", fi.Size())
	}
	if fi.Mode().Perm() != 0644 {
		t.Fatalf("Mode = %v, want 0644", fi.Mode().Perm())
	}
}

func TestMountWriteThenReadBack(t *testing.T) {
	mntDir, _ := mountTestFS(t)
	path := filepath.Join(mntDir, "new.txt")
	if err := os.WriteFile(path, []byte("round trip"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "round trip" {
		t.Fatalf("content = %q", data)
	}
}

func TestMountMkdirAndReaddir(t *testing.T) {
	mntDir, _ := mountTestFS(t)
	if err := os.Mkdir(filepath.Join(mntDir, "sub"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(mntDir, "sub", "f"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(mntDir, "sub"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "f" {
		t.Fatalf("entries = %v", entries)
	}
}
