package filedisk

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"
)

func tempImage(t *testing.T) string {
	dir, err := ioutil.TempDir("", "filedisk-*")
	require.NoError(t, err)
	return filepath.Join(dir, "nufs.img")
}

func block(b byte) disk.Block {
	blk := make(disk.Block, disk.BlockSize)
	for i := range blk {
		blk[i] = b
	}
	return blk
}

func TestCreateSize(t *testing.T) {
	path := tempImage(t)
	defer os.RemoveAll(filepath.Dir(path))

	d, err := NewMmapDisk(path, 16)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, uint64(16), d.Size())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(16*disk.BlockSize), fi.Size())
	assert.Equal(t, block(0), d.Read(15), "new image reads as zeros")
}

func TestPersistAcrossReopen(t *testing.T) {
	path := tempImage(t)
	defer os.RemoveAll(filepath.Dir(path))

	d, err := NewMmapDisk(path, 8)
	require.NoError(t, err)
	d.Write(3, block(0xAB))
	d.Write(7, block(0x01))
	d.Close()

	d, err = NewMmapDisk(path, 8)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, block(0xAB), d.Read(3))
	assert.Equal(t, block(0x01), d.Read(7))
	assert.Equal(t, block(0), d.Read(4))

	buf := make(disk.Block, disk.BlockSize)
	d.ReadTo(3, buf)
	assert.Equal(t, block(0xAB), buf)
}

func TestBounds(t *testing.T) {
	path := tempImage(t)
	defer os.RemoveAll(filepath.Dir(path))

	d, err := NewMmapDisk(path, 2)
	require.NoError(t, err)
	defer d.Close()
	assert.Panics(t, func() { d.Read(2) })
	assert.Panics(t, func() { d.Write(0, make(disk.Block, 10)) })
}
