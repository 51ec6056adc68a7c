package pathtx

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStripsTrailingSlash(t *testing.T) {
	tr, err := New("/tmp/hdd/")
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasSuffix(tr.Root(), "/") {
		t.Fatalf("Root() = %q, want no trailing slash", tr.Root())
	}
}

func TestTranslateJoinsRootAndPath(t *testing.T) {
	tr, err := New("/tmp/hdd")
	if err != nil {
		t.Fatal(err)
	}
	got := tr.Translate("/hello.txt")
	want := filepath.Clean(filepath.Join("/tmp/hdd", "/hello.txt"))
	if filepath.Clean(got) != want {
		t.Fatalf("Translate(/hello.txt) = %q, want %q", got, want)
	}
}

func TestTranslateGrowsAcrossLongPaths(t *testing.T) {
	tr, err := New("/a")
	if err != nil {
		t.Fatal(err)
	}
	long := "/" + strings.Repeat("x", 4096)
	got := tr.Translate(long)
	if !strings.HasSuffix(got, long) {
		t.Fatalf("Translate(long) did not preserve suffix")
	}
	if !strings.HasPrefix(got, "/a") {
		t.Fatalf("Translate(long) did not preserve root prefix")
	}
}

func TestTranslateRepeatedCallsIndependent(t *testing.T) {
	tr, err := New("/root")
	if err != nil {
		t.Fatal(err)
	}
	a := tr.Translate("/a")
	b := tr.Translate("/b")
	if a == b {
		t.Fatalf("Translate(/a) and Translate(/b) produced the same string")
	}
	if a != "/root/a" {
		t.Fatalf("first Translate result corrupted by second call: %q", a)
	}
}

func TestTranslatePairBothCorrect(t *testing.T) {
	tr, err := New("/root")
	if err != nil {
		t.Fatal(err)
	}
	a, b := tr.TranslatePair("/src", "/dst")
	if a != "/root/src" || b != "/root/dst" {
		t.Fatalf("TranslatePair = (%q, %q), want (/root/src, /root/dst)", a, b)
	}
}
