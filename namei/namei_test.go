package namei

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-nufs/blocks"
	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/dir"
	"github.com/mit-pdos/go-nufs/inode"
)

func TestSplit(t *testing.T) {
	assert := assert.New(t)
	assert.Empty(Split("/"))
	assert.Empty(Split(""))
	assert.Equal([]string{"a"}, Split("/a"))
	assert.Equal([]string{"a", "b", "c"}, Split("/a//b/c/"))
	assert.Equal([]string{"a", ".", ".."}, Split("a/./.."))
}

func TestParent(t *testing.T) {
	assert := assert.New(t)
	tests := []struct {
		path, dir, name string
	}{
		{"/a", "/", "a"},
		{"/a/b", "/a", "b"},
		{"/x/y/z/", "/x/y", "z"},
		{"/", "/", ""},
	}
	for _, tt := range tests {
		d, n := Parent(tt.path)
		assert.Equal(tt.dir, d, tt.path)
		assert.Equal(tt.name, n, tt.path)
	}
}

// builds / with /a (a directory) and /a/f (a file)
func mkTree(t *testing.T) (*inode.Table, common.Inum, common.Inum) {
	blks, err := blocks.Mkfs(disk.NewMemDisk(common.NBLOCK), common.NINODE)
	require.NoError(t, err)
	tab := inode.MkTable(blks)
	require.NoError(t, dir.MkRoot(tab))
	root := tab.Get(common.ROOTINUM)

	a, err := tab.Alloc(common.DIRMODE)
	require.NoError(t, err)
	require.NoError(t, dir.InitDir(tab, tab.Get(a), root.Inum))
	require.NoError(t, dir.Insert(tab, root, "a", a))

	f, err := tab.Alloc(common.FILEMODE)
	require.NoError(t, err)
	require.NoError(t, dir.Insert(tab, tab.Get(a), "f", f))
	return tab, a, f
}

func TestLookup(t *testing.T) {
	assert := assert.New(t)
	tab, a, f := mkTree(t)

	tests := []struct {
		path string
		inum common.Inum
	}{
		{"/", common.ROOTINUM},
		{"/a", a},
		{"/a/", a},
		{"/a/f", f},
		{"//a//f", f},
		{"/a/.", a},
		{"/a/..", common.ROOTINUM},
		{"/a/../a/./f", f},
		{"/..", common.ROOTINUM},
	}
	for _, tt := range tests {
		inum, err := Lookup(tab, tt.path)
		if assert.NoError(err, tt.path) {
			assert.Equal(tt.inum, inum, tt.path)
		}
	}
}

func TestLookupMiss(t *testing.T) {
	tab, _, _ := mkTree(t)
	for _, path := range []string{"/b", "/a/g", "/b/f"} {
		_, err := Lookup(tab, path)
		assert.True(t, errors.Is(err, common.ErrNotFound), path)
	}
	_, err := Lookup(tab, "/a/f/x")
	assert.True(t, errors.Is(err, common.ErrNotDir))
}
