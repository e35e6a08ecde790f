// Package config reads the volume geometry and debug level from the
// environment.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/util"
)

type Config struct {
	DiskPath string // backing image; empty for an in-memory volume
	NBlocks  uint64
	NInodes  uint64
	Debug    uint64
}

func Load() *Config {
	return &Config{
		DiskPath: getEnv("NUFS_DISK", ""),
		NBlocks:  getEnvUint64("NUFS_BLOCKS", common.NBLOCK),
		NInodes:  getEnvUint64("NUFS_INODES", common.NINODE),
		Debug:    getEnvUint64("NUFS_DEBUG", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

// Validate checks that the inode table and bitmap leave room for data, and
// applies the debug level.
func (c *Config) Validate() error {
	if c.NInodes == 0 {
		return fmt.Errorf("config: no inodes: %w", common.ErrInvalid)
	}
	if c.NInodes > math.MaxUint32 {
		return fmt.Errorf("config: %d inodes overflow a directory record: %w",
			c.NInodes, common.ErrInvalid)
	}
	inodeBlocks := util.RoundUp(c.NInodes, common.INODEBLK)
	bitmapBlocks := util.RoundUp(c.NBlocks, common.NBITBLOCK)
	if inodeBlocks+bitmapBlocks >= c.NBlocks {
		return fmt.Errorf("config: %d blocks cannot hold %d inodes: %w",
			c.NBlocks, c.NInodes, common.ErrInvalid)
	}
	util.Debug = c.Debug
	return nil
}

// Size is the volume size in bytes.
func (c *Config) Size() uint64 {
	return c.NBlocks * disk.BlockSize
}
