// Package config gathers rufs settings from the environment, with command
// line flags taking precedence.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/fs"
	"github.com/mit-pdos/go-rufs/util"
)

type Config struct {
	DiskFile string
	Debug    uint64
	MaxInum  uint64
	MaxDnum  uint64
	Format   bool // format even if the disk holds a file system
}

func Load() *Config {
	return &Config{
		DiskFile: getEnv("RUFS_DISKFILE", "./DISKFILE"),
		Debug:    getEnvUint64("RUFS_DEBUG", 0),
		MaxInum:  getEnvUint64("RUFS_MAX_INUM", common.MAXINUM),
		MaxDnum:  getEnvUint64("RUFS_MAX_DNUM", common.MAXDNUM),
		Format:   getEnvBool("RUFS_FORMAT", false),
	}
}

// RegisterFlags binds flags to c, using its current values as defaults.
func (c *Config) RegisterFlags(fl *flag.FlagSet) {
	fl.StringVar(&c.DiskFile, "disk", c.DiskFile, "path of the diskfile")
	fl.Uint64Var(&c.Debug, "debug", c.Debug, "debug log level")
	fl.Uint64Var(&c.MaxInum, "inodes", c.MaxInum, "inodes to format with")
	fl.Uint64Var(&c.MaxDnum, "blocks", c.MaxDnum, "blocks to format with")
	fl.BoolVar(&c.Format, "mkfs", c.Format, "format the diskfile before mounting")
}

func (c *Config) Geometry() fs.Geometry {
	return fs.Geometry{MaxInum: c.MaxInum, MaxDnum: c.MaxDnum}
}

// Apply installs process-wide settings.
func (c *Config) Apply() {
	util.Debug = c.Debug
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		v := strings.ToLower(value)
		return v == "true" || v == "1" || v == "yes"
	}
	return defaultValue
}
