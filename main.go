// Command packiod is an example daemon: it wires a Dispatcher, a Server
// Acceptor, and a file watcher together over a Unix domain socket rooted at
// a directory, to exercise the packio library end-to-end.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/firi/packio/internal/daemon"
)

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "packiod: %v\n", err)
		os.Exit(1)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "packiod: %q is not a directory\n", abs)
		os.Exit(1)
	}

	daemon.Run(abs)
}
