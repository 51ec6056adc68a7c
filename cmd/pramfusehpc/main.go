// Command pramfusehpc mounts a caching passthrough filesystem: reads
// and writes against the mount point are served from an in-memory
// cache in front of a backing POSIX directory named by --hdd.
//
// Argument handling follows the C pramfusehpc CLI (src/program.c):
// --hdd <path> is mandatory and may be given at most once. The first
// other argument is the mount point; of the arguments after it, only
// -debug/--debug and -allow-other/--allow-other are recognized, and any
// other argument is ignored rather than passed to the FUSE layer.
// This is grounded on the flag
// handling in example/loopback/main.go's `-debug`/`-allow-other`
// pattern, with the --hdd-specific argv scan kept a manual loop rather
// than put through the flag package, so the exact error text of the C
// CLI survives.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/moby/sys/mountinfo"

	"github.com/maandree/pramfusehpc/internal/pramfs"
)

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "pramfusehpc: error: "+msg)
	os.Exit(1)
}

// parseArgs extracts --hdd <path> from args, returning it plus every
// remaining argument in order (mount point, mount options).
func parseArgs(args []string) (hdd string, rest []string) {
	seenHdd := false
	for i := 0; i < len(args); i++ {
		if args[i] != "--hdd" {
			rest = append(rest, args[i])
			continue
		}
		if seenHdd {
			fail("use of multiple --hdd")
		}
		if i+1 >= len(args) {
			fail("--hdd without argument")
		}
		hdd = args[i+1]
		seenHdd = true
		i++
	}
	if !seenHdd {
		fail("--hdd is not specified")
	}
	return hdd, rest
}

func main() {
	log.SetFlags(log.Lmicroseconds)

	hdd, rest := parseArgs(os.Args[1:])
	if len(rest) == 0 {
		fail("mount point is not specified")
	}
	mountPoint := rest[0]
	var allowOther, debug bool
	mountOpts := rest[1:]
	for _, o := range mountOpts {
		switch o {
		case "-debug", "--debug":
			debug = true
		case "-allow-other", "--allow-other":
			allowOther = true
		}
	}

	checkOwnMount(hdd)

	root, backingCache, err := pramfs.NewRoot(hdd)
	if err != nil {
		log.Fatalf("pramfusehpc: cannot open backing directory %q: %v", hdd, err)
	}

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Debug:      debug,
			AllowOther: allowOther,
			FsName:     hdd,
			Name:       "pramfusehpc",
		},
	}

	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		log.Fatalf("pramfusehpc: mount failed: %v", err)
	}

	log.Printf("mounted %s on %s", hdd, mountPoint)
	server.Wait()

	if err := backingCache.Close(); err != nil {
		log.Printf("pramfusehpc: cleanup after unmount: %v", err)
	}
}

// checkOwnMount logs (but does not fail on) the advisory check that
// --hdd names a directory that is itself a separate mount: caching a
// directory that is not its own mount point is harmless, but a stale
// bind-mount underneath a live pramfusehpc instance is a common
// misconfiguration worth flagging early.
func checkOwnMount(hdd string) {
	mounted, err := mountinfo.Mounted(hdd)
	if err != nil {
		return
	}
	if !mounted {
		log.Printf("pramfusehpc: note: %s is not itself a mount point", hdd)
	}
}
