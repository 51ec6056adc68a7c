package cache

// Entry is the in-memory record associated with one (or, for
// hard-linked files, more than one) known path. All fields are
// protected by the owning Cache's global lock; Entry itself has no
// lock of its own.
type Entry struct {
	Attr Attr

	// buffer holds cached file content. nil means "not cached, read
	// through". When present, len(buffer) is the allocated capacity;
	// valid content extends up to min(Attr.Size, len(buffer)) and any
	// bytes in [Attr.Size, len(buffer)) are zero.
	buffer []byte

	// link is the cached symlink target, resolved lazily on first
	// Readlink.
	link      string
	linkValid bool

	// paths lists every trie key that currently maps to this Entry.
	// A fresh Entry has exactly one. Link appends a second key
	// aliasing the same Entry; Rename replaces a key in place; Unlink
	// removes one, detaching that key from the trie. The Entry's
	// buffer and link are only released once paths is empty and
	// Attr.Nlink has reached zero.
	paths []string

	// tombstoned marks an Entry whose last path was removed from the
	// index while a Handle still referenced it: the Entry is kept
	// alive by the Handle, not reachable from the trie, and is
	// released for real on Release of the last Handle.
	tombstoned bool

	// openHandles counts live Handles referencing this Entry, so
	// Unlink-to-zero knows whether it may free the entry immediately
	// or must tombstone it instead.
	openHandles int
}

// hasAllocatedBuffer reports whether the entry has a content buffer.
func (e *Entry) hasAllocatedBuffer() bool {
	return e.buffer != nil
}

// removePath detaches one alias from the entry's path list. Used by
// Unlink and Rename.
func (e *Entry) removePath(path string) {
	for i, p := range e.paths {
		if p == path {
			e.paths = append(e.paths[:i], e.paths[i+1:]...)
			return
		}
	}
}

func (e *Entry) addPath(path string) {
	e.paths = append(e.paths, path)
}
