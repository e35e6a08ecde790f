package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	NBITBLOCK uint64 = disk.BlockSize * 8

	NBLOCK   uint64 = 256 // default volume size in blocks
	NINODE   uint64 = 64  // default inode table size
	INODESZ  uint64 = 128 // on-disk size
	INODEBLK uint64 = disk.BlockSize / INODESZ

	NDIRECT   uint64 = 2
	BNUMSZ    uint64 = 8 // width of a block number in the indirect block
	NBLKBLK   uint64 = disk.BlockSize / BNUMSZ
	MAXBLKS   uint64 = NDIRECT + NBLKBLK
	MAXFILESZ uint64 = MAXBLKS * disk.BlockSize

	DIRINUMSZ uint64 = 4 // inode-number field of a directory record
)

type Inum uint64
type Bnum = uint64

const (
	ROOTINUM Inum = 0
	NULLBNUM Bnum = 0
)

// Mode bits as stored in an inode. A zero mode marks a free inode.
const (
	S_IFMT  uint32 = 0170000
	S_IFLNK uint32 = 0120000
	S_IFREG uint32 = 0100000
	S_IFDIR uint32 = 0040000

	MODEFREE uint32 = 0
	DIRMODE  uint32 = S_IFDIR | 0755
	FILEMODE uint32 = S_IFREG | 0644
)

func IsDir(mode uint32) bool {
	return mode&S_IFMT == S_IFDIR
}

func IsLink(mode uint32) bool {
	return mode&S_IFMT == S_IFLNK
}
