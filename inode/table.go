package inode

import (
	"fmt"

	"github.com/mit-pdos/go-nufs/blocks"
	"github.com/mit-pdos/go-nufs/buf"
	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/util"
)

// Table is the inode table. The slot index of an inode is its inode number.
//
// Get hands out one in-memory Inode per inode number, so every holder of an
// inode sees the others' updates; mutators write the inode back with
// WriteInode.
type Table struct {
	blks   *blocks.Blocks
	inodes *buf.AddrMap // inode table address -> *Inode
}

func MkTable(blks *blocks.Blocks) *Table {
	return &Table{
		blks:   blks,
		inodes: buf.MkAddrMap(),
	}
}

func (t *Table) Blocks() *blocks.Blocks {
	return t.blks
}

func (t *Table) NInode() common.Inum {
	return t.blks.Super.NInode()
}

func (t *Table) Get(inum common.Inum) *Inode {
	a := t.blks.Super.Inum2Addr(inum)
	if obj := t.inodes.Lookup(a); obj != nil {
		return obj.(*Inode)
	}
	blk := t.blks.Block(a.Blkno)
	ip := Decode(buf.MkBufLoad(a, common.INODESZ*8, blk.Data), inum)
	t.inodes.Insert(a, ip)
	return ip
}

// Alloc takes the first free slot, gives it mode and one data block, and
// returns its number. The new inode has no references.
func (t *Table) Alloc(mode uint32) (common.Inum, error) {
	if mode == common.MODEFREE {
		return 0, fmt.Errorf("alloc inode with mode 0: %w", common.ErrInvalid)
	}
	for inum := common.Inum(0); inum < t.NInode(); inum++ {
		ip := t.Get(inum)
		if !ip.IsFree() {
			continue
		}
		bn, err := t.blks.AllocBlock()
		if err != nil {
			return 0, fmt.Errorf("alloc inode: %w", err)
		}
		ip.initInode(mode, bn)
		ip.WriteInode(t)
		util.DPrintf(1, "alloc_inode() -> %d\n", inum)
		return inum, nil
	}
	return 0, fmt.Errorf("alloc inode: table full: %w", common.ErrNoSpace)
}

// Reclaim releases every block of an unreferenced inode and returns its
// slot to the free pool. Reclaiming a referenced inode, a free inode, or the
// root is a caller bug and panics.
func (t *Table) Reclaim(inum common.Inum) {
	util.DPrintf(1, "free_inode(%d)\n", inum)
	ip := t.Get(inum)
	if inum == common.ROOTINUM {
		panic("Reclaim: root inode")
	}
	if ip.IsFree() {
		panic(fmt.Errorf("Reclaim: inode %d is free", inum))
	}
	if ip.Refs > 0 {
		panic(fmt.Errorf("Reclaim: inode %d still has %d refs", inum, ip.Refs))
	}
	err := ip.Shrink(t, 0)
	if err != nil {
		panic(err)
	}
	t.blks.FreeBlock(ip.Direct[0])
	ip.reset()
	ip.WriteInode(t)
}

// NumFree reports the number of free inode slots.
func (t *Table) NumFree() uint64 {
	var n uint64
	for inum := common.Inum(0); inum < t.NInode(); inum++ {
		if t.Get(inum).IsFree() {
			n++
		}
	}
	return n
}
