package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mit-pdos/go-rufs/config"
	"github.com/mit-pdos/go-rufs/disk"
	"github.com/mit-pdos/go-rufs/fs"
	"github.com/mit-pdos/go-rufs/fuse"
	"github.com/mit-pdos/go-rufs/util"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] MOUNTPOINT\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	cfg := config.Load()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	mountpoint := flag.Arg(0)
	cfg.Apply()

	// never shrink an existing diskfile
	nblk := cfg.MaxDnum
	if st, err := os.Stat(cfg.DiskFile); err == nil {
		nblk = util.Max(nblk, uint64(st.Size())/disk.BlockSize)
	}
	d, err := disk.NewFileDisk(cfg.DiskFile, nblk)
	if err != nil {
		log.Fatalf("rufs: %v", err)
	}
	var fsys *fs.Fs
	if cfg.Format {
		fsys, err = fs.Mkfs(d, cfg.Geometry())
	} else {
		fsys, err = fs.MountOrFormat(d, cfg.Geometry())
	}
	if err != nil {
		d.Close()
		log.Fatalf("rufs: %s: %v", cfg.DiskFile, err)
	}
	log.Printf("rufs: serving %s (%v) at %s", cfg.DiskFile, fsys.Geometry(), mountpoint)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		if err := fuse.Unmount(mountpoint); err != nil {
			log.Printf("rufs: unmount %s: %v", mountpoint, err)
		}
	}()

	serveErr := fuse.Serve(mountpoint, fsys)
	if err := fsys.Close(); err != nil {
		log.Printf("rufs: close: %v", err)
	}
	if serveErr != nil {
		log.Fatalf("rufs: %v", serveErr)
	}
}
