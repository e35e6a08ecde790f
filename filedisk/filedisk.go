// Package filedisk implements a disk backed by a memory mapping of an image
// file. The image is created (or resized) to exactly numBlocks blocks.
package filedisk

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-nufs/util"
)

var _ disk.Disk = (*MmapDisk)(nil)

type MmapDisk struct {
	fd        int
	data      []byte
	numBlocks uint64
}

func NewMmapDisk(path string, numBlocks uint64) (*MmapDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := numBlocks * disk.BlockSize
	if uint64(stat.Size) != size {
		err = unix.Ftruncate(fd, int64(size))
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("truncate %s: %w", path, err)
		}
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	util.DPrintf(1, "filedisk: mapped %s, %d blocks\n", path, numBlocks)
	return &MmapDisk{fd: fd, data: data, numBlocks: numBlocks}, nil
}

func (d *MmapDisk) block(a uint64) []byte {
	if a >= d.numBlocks {
		panic(fmt.Errorf("out-of-bounds access at %v", a))
	}
	return d.data[a*disk.BlockSize : (a+1)*disk.BlockSize]
}

func (d *MmapDisk) ReadTo(a uint64, buf disk.Block) {
	if uint64(len(buf)) != disk.BlockSize {
		panic("buffer is not block-sized")
	}
	copy(buf, d.block(a))
}

func (d *MmapDisk) Read(a uint64) disk.Block {
	buf := make(disk.Block, disk.BlockSize)
	d.ReadTo(a, buf)
	return buf
}

func (d *MmapDisk) Write(a uint64, v disk.Block) {
	if uint64(len(v)) != disk.BlockSize {
		panic(fmt.Errorf("v is not block sized (%d bytes)", len(v)))
	}
	copy(d.block(a), v)
}

func (d *MmapDisk) Size() uint64 {
	return d.numBlocks
}

func (d *MmapDisk) Barrier() {
	err := unix.Msync(d.data, unix.MS_SYNC)
	if err != nil {
		panic("msync failed: " + err.Error())
	}
}

func (d *MmapDisk) Close() {
	d.Barrier()
	err := unix.Munmap(d.data)
	if err != nil {
		panic(err)
	}
	d.data = nil
	err = unix.Close(d.fd)
	if err != nil {
		panic(err)
	}
}
