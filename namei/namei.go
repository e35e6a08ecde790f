// Package namei resolves slash-separated paths against the directory tree
// rooted at inode 0.
package namei

import (
	"fmt"
	"strings"

	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/dir"
	"github.com/mit-pdos/go-nufs/inode"
	"github.com/mit-pdos/go-nufs/util"
)

// Split returns the non-empty components of path.
func Split(path string) []string {
	var names []string
	for _, n := range strings.Split(path, "/") {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Parent splits path into the path of its directory and its final component.
// The final component of "/" is empty.
func Parent(path string) (string, string) {
	names := Split(path)
	if len(names) == 0 {
		return "/", ""
	}
	return "/" + strings.Join(names[:len(names)-1], "/"), names[len(names)-1]
}

// Lookup resolves path to an inode number. "." and ".." are followed through
// the records that name them, like any other name.
func Lookup(t *inode.Table, path string) (common.Inum, error) {
	inum := common.ROOTINUM
	for _, name := range Split(path) {
		next, err := dir.Lookup(t, t.Get(inum), name)
		if err != nil {
			util.DPrintf(5, "tree_lookup(%s) miss at %q\n", path, name)
			return 0, fmt.Errorf("resolve %s: %w", path, err)
		}
		inum = next
	}
	util.DPrintf(5, "tree_lookup(%s) -> %d\n", path, inum)
	return inum, nil
}
