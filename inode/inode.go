package inode

import (
	"fmt"
	"time"

	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-nufs/buf"
	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/util"
)

type Inode struct {
	// in-memory info:
	Inum common.Inum

	// the on-disk inode:
	Mode     uint32
	Refs     int32
	Size     uint64
	Entries  uint64 // directory records, for directories
	Direct   [common.NDIRECT]common.Bnum
	Indirect common.Bnum
	Ctime    time.Time
	Atime    time.Time
	Mtime    time.Time
}

func (ip *Inode) String() string {
	return fmt.Sprintf("# %d mode %04o refs %d sz %d entries %d blks %v ind %d",
		ip.Inum, ip.Mode, ip.Refs, ip.Size, ip.Entries, ip.Direct, ip.Indirect)
}

func (ip *Inode) IsFree() bool {
	return ip.Mode == common.MODEFREE
}

func (ip *Inode) IsDir() bool {
	return common.IsDir(ip.Mode)
}

// timestamps are stored as nanoseconds since the epoch; 0 is unset
func time2int(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func int2time(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns))
}

func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt32(ip.Mode)
	enc.PutInt32(uint32(ip.Refs))
	enc.PutInt(ip.Size)
	enc.PutInt(ip.Entries)
	enc.PutInts(ip.Direct[:])
	enc.PutInt(ip.Indirect)
	enc.PutInt(time2int(ip.Ctime))
	enc.PutInt(time2int(ip.Atime))
	enc.PutInt(time2int(ip.Mtime))
	return enc.Finish()
}

func Decode(buf *buf.Buf, inum common.Inum) *Inode {
	ip := &Inode{}
	dec := marshal.NewDec(buf.Data)
	ip.Inum = inum
	ip.Mode = dec.GetInt32()
	ip.Refs = int32(dec.GetInt32())
	ip.Size = dec.GetInt()
	ip.Entries = dec.GetInt()
	copy(ip.Direct[:], dec.GetInts(common.NDIRECT))
	ip.Indirect = dec.GetInt()
	ip.Ctime = int2time(dec.GetInt())
	ip.Atime = int2time(dec.GetInt())
	ip.Mtime = int2time(dec.GetInt())
	return ip
}

func (ip *Inode) initInode(mode uint32, bn common.Bnum) {
	now := time.Now()
	ip.Mode = mode
	ip.Refs = 0
	ip.Size = 0
	ip.Entries = 0
	ip.Direct[0] = bn
	for i := uint64(1); i < common.NDIRECT; i++ {
		ip.Direct[i] = common.NULLBNUM
	}
	ip.Indirect = common.NULLBNUM
	ip.Ctime = now
	ip.Atime = now
	ip.Mtime = now
}

func (ip *Inode) reset() {
	*ip = Inode{Inum: ip.Inum}
}

// WriteInode installs ip into its slot of the inode table.
func (ip *Inode) WriteInode(t *Table) {
	a := t.blks.Super.Inum2Addr(ip.Inum)
	b := buf.MkBuf(a, common.INODESZ*8, ip.Encode())
	blk := t.blks.Block(a.Blkno)
	b.Install(blk.Data)
	blk.SetDirty()
	util.DPrintf(10, "WriteInode %v\n", ip)
}

// NBlocks is the number of blocks backing a file of size sz. A file always
// owns its first block.
func NBlocks(sz uint64) uint64 {
	return util.Max(1, util.RoundUp(sz, disk.BlockSize))
}

// bmap returns the block holding logical block bi of ip.
func (ip *Inode) bmap(t *Table, bi uint64) common.Bnum {
	if bi < common.NDIRECT {
		return ip.Direct[bi]
	}
	slot := bi - common.NDIRECT
	if slot >= common.NBLKBLK || ip.Indirect == common.NULLBNUM {
		panic(fmt.Errorf("bmap: inode %d has no block %d", ip.Inum, bi))
	}
	ind := t.blks.Block(ip.Indirect)
	return ind.BnumGet(slot * common.BNUMSZ)
}

// Bmap translates a byte offset within ip into the block that holds it.
func (ip *Inode) Bmap(t *Table, off uint64) common.Bnum {
	return ip.bmap(t, off/disk.BlockSize)
}

// zero the bytes of the current last block between Size and sz
func (ip *Inode) zeroTail(t *Table, sz uint64) {
	capacity := NBlocks(ip.Size) * disk.BlockSize
	if ip.Size >= capacity || sz <= ip.Size {
		return
	}
	end := util.Min(sz, capacity)
	blk := t.blks.Block(ip.Bmap(t, ip.Size))
	start := ip.Size % disk.BlockSize
	for i := start; i < start+(end-ip.Size); i++ {
		blk.Data[i] = 0
	}
	blk.SetDirty()
}

// Grow extends ip to sz bytes, allocating one block per iteration: the
// second direct block, then slots of the indirect block (allocated together
// with its first slot). The new bytes read as zero.
//
// If the arena runs out of blocks, ip keeps the blocks it got and its size
// covers them.
func (ip *Inode) Grow(t *Table, sz uint64) error {
	if sz > common.MAXFILESZ {
		return fmt.Errorf("grow inode %d to %d: %w", ip.Inum, sz, common.ErrFileTooBig)
	}
	if sz < ip.Size {
		return fmt.Errorf("grow inode %d from %d to %d: %w", ip.Inum, ip.Size, sz,
			common.ErrInvalid)
	}
	ip.zeroTail(t, sz)
	cur := NBlocks(ip.Size)
	want := NBlocks(sz)
	for cur < want {
		err := ip.growOne(t, cur)
		if err != nil {
			ip.Size = util.Max(ip.Size, cur*disk.BlockSize)
			ip.WriteInode(t)
			return fmt.Errorf("grow inode %d to %d: %w", ip.Inum, sz, err)
		}
		cur++
	}
	ip.Size = sz
	ip.WriteInode(t)
	return nil
}

// attach a new block as logical block bi
func (ip *Inode) growOne(t *Table, bi uint64) error {
	var fresh bool
	if bi >= common.NDIRECT && ip.Indirect == common.NULLBNUM {
		ind, err := t.blks.AllocBlock()
		if err != nil {
			return err
		}
		ip.Indirect = ind
		fresh = true
	}
	bn, err := t.blks.AllocBlock()
	if err != nil {
		// an indirect block with no slots in use is never freed by Shrink
		if fresh {
			t.blks.FreeBlock(ip.Indirect)
			ip.Indirect = common.NULLBNUM
		}
		return err
	}
	if bi < common.NDIRECT {
		ip.Direct[bi] = bn
	} else {
		t.blks.Block(ip.Indirect).BnumPut((bi-common.NDIRECT)*common.BNUMSZ, bn)
	}
	return nil
}

// Shrink cuts ip down to sz bytes, freeing trailing blocks one at a time.
// The indirect block is freed when its first slot is released.
func (ip *Inode) Shrink(t *Table, sz uint64) error {
	if sz > ip.Size {
		return fmt.Errorf("shrink inode %d from %d to %d: %w", ip.Inum, ip.Size, sz,
			common.ErrInvalid)
	}
	cur := NBlocks(ip.Size)
	want := NBlocks(sz)
	for cur > want {
		last := cur - 1
		if last == 0 {
			return fmt.Errorf("shrink inode %d: last remaining block: %w", ip.Inum,
				common.ErrInvalid)
		}
		t.blks.FreeBlock(ip.bmap(t, last))
		if last < common.NDIRECT {
			ip.Direct[last] = common.NULLBNUM
		} else {
			slot := last - common.NDIRECT
			t.blks.Block(ip.Indirect).BnumPut(slot*common.BNUMSZ, common.NULLBNUM)
			if slot == 0 {
				t.blks.FreeBlock(ip.Indirect)
				ip.Indirect = common.NULLBNUM
			}
		}
		cur--
	}
	ip.Size = sz
	ip.WriteInode(t)
	return nil
}

// Resize grows or shrinks ip to sz bytes.
func (ip *Inode) Resize(t *Table, sz uint64) error {
	util.DPrintf(5, "Resize %d from %d to %d\n", ip.Inum, ip.Size, sz)
	if sz >= ip.Size {
		return ip.Grow(t, sz)
	}
	return ip.Shrink(t, sz)
}
