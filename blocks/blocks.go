// Package blocks is the block arena: a fixed number of fixed-size blocks on a
// disk, a free-block bitmap, and mutable in-memory views of blocks.
//
// Views are kept resident once loaded. A caller that modifies a view must mark
// it dirty; Flush writes dirty views back to the disk.
package blocks

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-nufs/addr"
	"github.com/mit-pdos/go-nufs/alloc"
	"github.com/mit-pdos/go-nufs/buf"
	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/super"
	"github.com/mit-pdos/go-nufs/util"
)

type Blocks struct {
	Super  *super.FsSuper
	d      disk.Disk
	bufs   *buf.BufMap
	balloc *alloc.Alloc
}

func mkBlocks(d disk.Disk, ninode uint64) (*Blocks, error) {
	fs := super.MkFsSuper(d, ninode)
	if err := fs.Validate(); err != nil {
		return nil, err
	}
	b := &Blocks{
		Super: fs,
		d:     d,
		bufs:  buf.MkBufMap(),
	}
	bitmap := make([]byte, fs.NBlockBitmap*disk.BlockSize)
	for i := uint64(0); i < fs.NBlockBitmap; i++ {
		blk := b.Block(fs.BitmapBlockStart() + i)
		copy(bitmap[i*disk.BlockSize:], blk.Data)
	}
	b.balloc = alloc.MkAlloc(bitmap, fs.Size)
	return b, nil
}

// Mkfs formats d: the inode table is cleared and only the reserved prefix is
// marked in use.
func Mkfs(d disk.Disk, ninode uint64) (*Blocks, error) {
	b, err := mkBlocks(d, ninode)
	if err != nil {
		return nil, err
	}
	b.format()
	return b, nil
}

// Open loads the arena on d. A disk whose reserved prefix is not marked in
// the bitmap is blank; Open formats it and reports fresh=true.
func Open(d disk.Disk, ninode uint64) (blks *Blocks, fresh bool, err error) {
	b, err := mkBlocks(d, ninode)
	if err != nil {
		return nil, false, err
	}
	if b.balloc.IsUsed(b.Super.DataStart() - 1) {
		util.DPrintf(1, "blocks: open existing volume, %d free\n", b.NumFree())
		return b, false, nil
	}
	b.format()
	return b, true, nil
}

func (b *Blocks) format() {
	fs := b.Super
	for bn := fs.InodeStart(); bn < fs.BitmapBlockStart(); bn++ {
		b.Block(bn).Zero()
	}
	for bn := fs.BitmapBlockStart(); bn < fs.DataStart(); bn++ {
		b.Block(bn).Zero()
	}
	b.balloc = alloc.MkMaxAlloc(fs.Size)
	for bn := uint64(0); bn < fs.DataStart(); bn++ {
		b.balloc.MarkUsed(bn)
		b.writeBit(bn, true)
	}
	util.DPrintf(1, "blocks: format %d blocks, data at %d\n", fs.Size, fs.DataStart())
}

// Block returns the mutable view of block bn.
func (b *Blocks) Block(bn common.Bnum) *buf.Buf {
	if bn >= b.Super.Size {
		panic(fmt.Errorf("Block: out-of-bounds block %d", bn))
	}
	a := b.Super.Block2Addr(bn)
	v := b.bufs.Lookup(a)
	if v == nil {
		v = buf.MkBuf(a, common.NBITBLOCK, b.d.Read(bn))
		b.bufs.Insert(v)
	}
	return v
}

// mirror bit n of the allocator into the bitmap blocks
func (b *Blocks) writeBit(n uint64, used bool) {
	a := addr.MkBitAddr(b.Super.BitmapBlockStart(), n)
	var v byte
	if used {
		v = 1 << (a.Off % 8)
	}
	bit := buf.MkBuf(a, 1, []byte{v})
	blk := b.Block(a.Blkno)
	bit.Install(blk.Data)
	blk.SetDirty()
}

// AllocBlock hands out a zeroed data block.
func (b *Blocks) AllocBlock() (common.Bnum, error) {
	bn := b.balloc.AllocNum()
	if bn == common.NULLBNUM {
		return common.NULLBNUM, fmt.Errorf("alloc block: %w", common.ErrNoSpace)
	}
	if bn < b.Super.DataStart() {
		panic(fmt.Errorf("AllocBlock: handed out metadata block %d", bn))
	}
	b.writeBit(bn, true)
	b.Block(bn).Zero()
	util.DPrintf(5, "alloc_block() -> %d\n", bn)
	return bn, nil
}

// FreeBlock returns bn to the free pool and drops its view; unflushed
// changes to it are discarded.
func (b *Blocks) FreeBlock(bn common.Bnum) {
	if bn < b.Super.DataStart() {
		panic(fmt.Errorf("FreeBlock: metadata block %d", bn))
	}
	util.DPrintf(5, "free_block(%d)\n", bn)
	b.balloc.FreeNum(bn)
	b.writeBit(bn, false)
	if b.bufs.Lookup(b.Super.Block2Addr(bn)) != nil {
		b.bufs.Del(b.Super.Block2Addr(bn))
	}
}

func (b *Blocks) IsAllocated(bn common.Bnum) bool {
	return b.balloc.IsUsed(bn)
}

func (b *Blocks) NumFree() uint64 {
	return b.balloc.NumFree()
}

// Flush writes every dirty block to the disk and waits for them to persist.
func (b *Blocks) Flush() {
	dirty := b.bufs.DirtyBufs()
	for _, v := range dirty {
		v.WriteDirect(b.d)
	}
	b.d.Barrier()
	util.DPrintf(3, "blocks: flushed %d blocks\n", len(dirty))
}

func (b *Blocks) Close() {
	b.Flush()
	b.d.Close()
}
