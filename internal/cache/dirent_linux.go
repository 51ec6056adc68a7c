//go:build linux

package cache

import (
	"encoding/binary"
)

// linux dirent64 layout:
//
//	uint64 d_ino
//	int64  d_off
//	uint16 d_reclen
//	uint8  d_type
//	char   d_name[]  (NUL-terminated)
const direntHeaderSize = 19 // 8 + 8 + 2 + 1, before name

// parseDirent parses one dirent64 record off the front of buf (as
// produced by golang.org/x/sys/unix.Getdents) and returns the parsed
// entry, the remaining bytes, and whether parsing succeeded.
func parseDirent(buf []byte) (DirEntry, []byte, bool) {
	if len(buf) < direntHeaderSize {
		return DirEntry{}, nil, false
	}
	ino := binary.LittleEndian.Uint64(buf[0:8])
	reclen := binary.LittleEndian.Uint16(buf[16:18])
	typ := buf[18]
	if int(reclen) > len(buf) || reclen < direntHeaderSize {
		return DirEntry{}, nil, false
	}
	nameBytes := buf[19:reclen]
	if i := indexByte(nameBytes, 0); i >= 0 {
		nameBytes = nameBytes[:i]
	}
	name := string(nameBytes)
	return DirEntry{Name: name, Ino: ino, Type: uint32(typ)}, buf[reclen:], true
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
