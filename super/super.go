// Package super computes the positional on-disk layout of a volume.
//
// The layout has no header: the inode table starts at block 0, the block
// bitmap follows it, and every block after that holds file data.
//
//	[ inode table | block bitmap | data ... ]
//	  0             InodeEnd       DataStart
package super

import (
	"fmt"
	"math"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-nufs/addr"
	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/util"
)

type FsSuper struct {
	Disk         disk.Disk
	Size         uint64 // in blocks
	NBlockBitmap uint64
	nInode       uint64
	nInodeBlk    uint64
}

func MkFsSuper(d disk.Disk, ninode uint64) *FsSuper {
	sz := d.Size()
	return &FsSuper{
		Disk:         d,
		Size:         sz,
		NBlockBitmap: util.RoundUp(sz, common.NBITBLOCK),
		nInode:       ninode,
		nInodeBlk:    util.RoundUp(ninode, common.INODEBLK),
	}
}

// Validate checks that the reserved prefix leaves room for data.
func (fs *FsSuper) Validate() error {
	if fs.nInode == 0 {
		return fmt.Errorf("super: no inodes: %w", common.ErrInvalid)
	}
	if fs.nInode > math.MaxUint32 {
		return fmt.Errorf("super: %d inodes overflow a directory record: %w",
			fs.nInode, common.ErrInvalid)
	}
	if fs.DataStart() >= fs.Size {
		return fmt.Errorf("super: %d blocks cannot hold %d metadata blocks: %w",
			fs.Size, fs.DataStart(), common.ErrInvalid)
	}
	return nil
}

func (fs *FsSuper) InodeStart() uint64 {
	return 0
}

func (fs *FsSuper) BitmapBlockStart() uint64 {
	return fs.InodeStart() + fs.nInodeBlk
}

func (fs *FsSuper) DataStart() uint64 {
	return fs.BitmapBlockStart() + fs.NBlockBitmap
}

func (fs *FsSuper) NInode() common.Inum {
	return common.Inum(fs.nInode)
}

func (fs *FsSuper) Block2Addr(blkno common.Bnum) addr.Addr {
	return addr.MkAddr(blkno, 0)
}

func (fs *FsSuper) Inum2Addr(inum common.Inum) addr.Addr {
	if inum >= fs.NInode() {
		panic(fmt.Errorf("Inum2Addr: inode %d out of range", inum))
	}
	return addr.MkAddr(fs.InodeStart()+uint64(inum)/common.INODEBLK,
		(uint64(inum)%common.INODEBLK)*common.INODESZ*8)
}
