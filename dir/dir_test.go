package dir

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-nufs/blocks"
	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/inode"
)

func mkRoot(t *testing.T) (*inode.Table, *inode.Inode) {
	blks, err := blocks.Mkfs(disk.NewMemDisk(common.NBLOCK), common.NINODE)
	require.NoError(t, err)
	tab := inode.MkTable(blks)
	require.NoError(t, MkRoot(tab))
	return tab, tab.Get(common.ROOTINUM)
}

func mkFile(t *testing.T, tab *inode.Table) *inode.Inode {
	inum, err := tab.Alloc(common.FILEMODE)
	require.NoError(t, err)
	return tab.Get(inum)
}

func TestRecordCodec(t *testing.T) {
	assert := assert.New(t)
	rec := encodeDirEnt(&DirEnt{Name: "ab", Inum: 5})
	assert.Equal(7, len(rec))
	assert.Equal([]byte{'a', 'b', 0}, rec[:3])

	data := append(rec, encodeDirEnt(&DirEnt{Name: "xyz", Inum: 63})...)
	de, n := decodeDirEnt(data)
	assert.Equal(uint64(7), n)
	assert.Equal(DirEnt{Name: "ab", Inum: 5}, *de)
	de, n = decodeDirEnt(data[7:])
	assert.Equal(uint64(8), n)
	assert.Equal(DirEnt{Name: "xyz", Inum: 63}, *de)

	assert.Panics(func() { decodeDirEnt([]byte{'a', 0, 1}) })
}

func TestMkRoot(t *testing.T) {
	assert := assert.New(t)
	tab, root := mkRoot(t)
	assert.True(root.IsDir())
	assert.Equal([]string{".", ".."}, List(tab, root))
	assert.Equal(uint64(2), root.Entries)
	assert.Equal(uint64(6+7), root.Size)
	assert.Equal(int32(0), root.Refs)

	inum, err := Lookup(tab, root, ".")
	require.NoError(t, err)
	assert.Equal(common.ROOTINUM, inum)
	inum, err = Lookup(tab, root, "..")
	require.NoError(t, err)
	assert.Equal(common.ROOTINUM, inum)
}

func TestInsertLookup(t *testing.T) {
	assert := assert.New(t)
	tab, root := mkRoot(t)
	f := mkFile(t, tab)

	require.NoError(t, Insert(tab, root, "hello", f.Inum))
	assert.Equal(int32(1), f.Refs, "insert adds a link")
	assert.Equal(uint64(3), root.Entries)

	inum, err := Lookup(tab, root, "hello")
	require.NoError(t, err)
	assert.Equal(f.Inum, inum)

	_, err = Lookup(tab, root, "hell")
	assert.True(errors.Is(err, common.ErrNotFound), "names match exactly")
	_, err = Lookup(tab, f, "x")
	assert.True(errors.Is(err, common.ErrNotDir))

	require.NoError(t, Insert(tab, root, "alias", f.Inum))
	assert.Equal(int32(2), f.Refs)
	assert.Equal([]string{".", "..", "hello", "alias"}, List(tab, root))
	assert.Equal([]DirEnt{{".", 0}, {"..", 0}, {"hello", f.Inum}, {"alias", f.Inum}},
		ReadDir(tab, root))
}

func TestInsertInvalid(t *testing.T) {
	tab, root := mkRoot(t)
	f := mkFile(t, tab)
	for _, name := range []string{"", "a/b", "nul\x00", ".", ".."} {
		err := Insert(tab, root, name, f.Inum)
		assert.True(t, errors.Is(err, common.ErrInvalid), "name %q", name)
	}
	assert.Equal(t, int32(0), f.Refs)
	assert.Equal(t, uint64(2), root.Entries)
}

func TestRemoveCompacts(t *testing.T) {
	assert := assert.New(t)
	tab, root := mkRoot(t)
	a, b, c := mkFile(t, tab), mkFile(t, tab), mkFile(t, tab)
	require.NoError(t, Insert(tab, root, "a", a.Inum))
	require.NoError(t, Insert(tab, root, "bb", b.Inum))
	require.NoError(t, Insert(tab, root, "ccc", c.Inum))
	size := root.Size

	require.NoError(t, Remove(tab, root, "bb"))
	assert.Equal([]string{".", "..", "a", "ccc"}, List(tab, root))
	assert.Equal(size-(2+1+4), root.Size)
	assert.Equal(uint64(4), root.Entries)
	inum, err := Lookup(tab, root, "ccc")
	require.NoError(t, err)
	assert.Equal(c.Inum, inum, "later records survive the move")

	blk := tab.Blocks().Block(root.Direct[0])
	for i := root.Size; i < size; i++ {
		assert.Equal(byte(0), blk.Data[i], "freed tail is cleared")
	}

	err = Remove(tab, root, "bb")
	assert.True(errors.Is(err, common.ErrNotFound))
}

func TestRemoveReclaims(t *testing.T) {
	assert := assert.New(t)
	tab, root := mkRoot(t)
	free := tab.Blocks().NumFree()
	f := mkFile(t, tab)
	require.NoError(t, Insert(tab, root, "one", f.Inum))
	require.NoError(t, Insert(tab, root, "two", f.Inum))

	require.NoError(t, Remove(tab, root, "one"))
	assert.Equal(int32(1), f.Refs)
	assert.False(f.IsFree(), "still linked as two")

	require.NoError(t, Remove(tab, root, "two"))
	assert.True(f.IsFree())
	assert.Equal(free, tab.Blocks().NumFree())
}

func TestRemoveDirReleasesParent(t *testing.T) {
	assert := assert.New(t)
	tab, root := mkRoot(t)
	inum, err := tab.Alloc(common.DIRMODE)
	require.NoError(t, err)
	sub := tab.Get(inum)
	require.NoError(t, InitDir(tab, sub, root.Inum))
	require.NoError(t, Insert(tab, root, "sub", sub.Inum))
	sub.Refs = 1
	sub.WriteInode(tab)
	assert.Equal(int32(1), root.Refs, "held by sub/..")

	require.NoError(t, Remove(tab, root, "sub"))
	assert.True(sub.IsFree())
	assert.Equal(int32(0), root.Refs)
	assert.False(root.IsFree(), "root is never reclaimed")
}

func TestCapacity(t *testing.T) {
	assert := assert.New(t)
	tab, root := mkRoot(t)
	f := mkFile(t, tab)

	// 15 records of 255 bytes leave exactly 258 bytes
	for i := 0; i < 15; i++ {
		name := strings.Repeat(string(rune('a'+i)), 250)
		require.NoError(t, Insert(tab, root, name, f.Inum))
	}
	assert.Equal(uint64(MaxRecord-258), root.Size)

	exact := strings.Repeat("z", 253)
	require.NoError(t, Insert(tab, root, exact, f.Inum), "fills the block exactly")
	assert.Equal(uint64(MaxRecord), root.Size)

	entries, size, refs := root.Entries, root.Size, f.Refs
	err := Insert(tab, root, "y", f.Inum)
	assert.True(errors.Is(err, common.ErrNoSpace))
	assert.Equal(entries, root.Entries)
	assert.Equal(size, root.Size)
	assert.Equal(refs, f.Refs, "no link on failure")

	require.NoError(t, Remove(tab, root, exact))
	require.NoError(t, Insert(tab, root, "y", f.Inum), "room again")
	inum, err := Lookup(tab, root, "y")
	require.NoError(t, err)
	assert.Equal(f.Inum, inum)
}

func TestSetParent(t *testing.T) {
	assert := assert.New(t)
	tab, root := mkRoot(t)
	mkdir := func(parent *inode.Inode, name string) *inode.Inode {
		inum, err := tab.Alloc(common.DIRMODE)
		require.NoError(t, err)
		dp := tab.Get(inum)
		require.NoError(t, InitDir(tab, dp, parent.Inum))
		require.NoError(t, Insert(tab, parent, name, inum))
		dp.Refs = 1
		dp.WriteInode(tab)
		return dp
	}
	a := mkdir(root, "a")
	b := mkdir(a, "b")
	assert.Equal(int32(2), a.Refs)

	require.NoError(t, SetParent(tab, b, root.Inum))
	assert.Equal(int32(1), a.Refs)
	assert.Equal(int32(2), root.Refs)
	assert.Equal([]string{".", ".."}, List(tab, b), "rewritten in place")
	inum, err := Lookup(tab, b, "..")
	require.NoError(t, err)
	assert.Equal(root.Inum, inum)

	require.NoError(t, SetParent(tab, b, root.Inum))
	assert.Equal(int32(2), root.Refs, "same parent is a no-op")

	f := mkFile(t, tab)
	assert.True(errors.Is(SetParent(tab, f, root.Inum), common.ErrNotDir))
}
