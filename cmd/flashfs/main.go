/*
 main.go

 GNU GENERAL PUBLIC LICENSE
 Version 3, 29 June 2007
 Copyright (C) 2024 Jack Ng <jack.ng.ca@gmail.com>

 This program is free software: you can redistribute it and/or modify
 it under the terms of the GNU General Public License as published by
 the Free Software Foundation, either version 3 of the License, or
 (at your option) any later version.

 This program is distributed in the hope that it will be useful,
 but WITHOUT ANY WARRANTY; without even the implied warranty of
 MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 GNU General Public License for more details.

 You should have received a copy of the GNU General Public License
 along with this program.  If not, see <https://www.gnu.org/licenses/> */

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreflash/flashfs/core"
	"github.com/coreflash/flashfs/fs"

	"github.com/sirupsen/logrus"
)

var (
	devPath    = flag.String("dev", "./flash.img", "Backing file for the simulated block device")
	devSize    = flag.Int64("size", 4*1024*1024, "Device size in bytes; -dev is created at this size if missing, and an existing -dev must match it")
	sectorSize = flag.Int("sector", 4096, "Sector (erase granule) size in bytes")
	clusterSize = flag.Int("cluster", 512, "Cluster (allocation granule) size in bytes")

	doFormat  = flag.Bool("format", false, "Format the device before anything else")
	doLs      = flag.Bool("ls", false, "List every file")
	doStat    = flag.String("stat", "", "Print size and creation time for a file")
	doGet     = flag.String("get", "", "Export a file by name")
	getOut    = flag.String("out", "", "Local path to write -get's output to (default: same name in cwd)")
	doPut     = flag.String("put", "", "Import a local file")
	putAs     = flag.String("as", "", "Name to store -put's file as (default: its base name)")
	streamBatch = flag.Int64("batch", 64*1024, "Batch size in bytes for -get/-put streaming")
	doRm      = flag.String("rm", "", "Delete a file by name")
	doMv      = flag.String("mv", "", "Rename a file, as \"old:new\"")
	doCp      = flag.String("cp", "", "Copy a file, as \"src:dst\"")
	cpOverwrite = flag.Bool("overwrite", false, "Allow -cp to replace an existing destination")
	doCompact = flag.Bool("compact", false, "Reclaim every orphaned cluster")
	doWear    = flag.Bool("wear", false, "Render the per-sector erase-count heat map")
	verbose   = flag.Bool("v", false, "Debug-level logging")
)

func main() {
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	driver, err := core.OpenFileDevice(*devPath, *devSize, *sectorSize, *clusterSize)
	if err != nil {
		logrus.Errorf("open device failed: %s", err)
		os.Exit(1)
	}

	fsys, err := fs.NewFileSystem(driver)
	if err != nil {
		logrus.Errorf("init file system failed: %s", err)
		os.Exit(1)
	}

	start := time.Now()

	if *doFormat {
		if err := fsys.Format(); err != nil {
			logrus.Errorf("format failed: %s", err)
			os.Exit(1)
		}
		fmt.Println("device formatted")
	} else {
		formatted, err := fsys.CheckIfFormatted()
		if err != nil {
			logrus.Errorf("check-if-formatted failed: %s", err)
			os.Exit(1)
		}
		if !formatted {
			logrus.Errorf("device is not formatted; pass -format first")
			os.Exit(1)
		}
		if err := fsys.Mount(); err != nil {
			logrus.Errorf("mount failed: %s", err)
			os.Exit(1)
		}
	}

	switch {
	case *doLs:
		runLs(fsys)
	case *doStat != "":
		runStat(fsys, *doStat)
	case *doGet != "":
		runGet(fsys, *doGet, *getOut, *streamBatch)
	case *doPut != "":
		runPut(fsys, *doPut, *putAs, *streamBatch)
	case *doRm != "":
		runRm(fsys, *doRm)
	case *doMv != "":
		runMv(fsys, *doMv)
	case *doCp != "":
		runCp(fsys, *doCp, *cpOverwrite)
	case *doCompact:
		runCompact(fsys)
	case *doWear:
		fs.NewWearHeatMap(fsys.GetWearProfile()).Draw()
	}

	fmt.Printf("cmd cost: %.3fs\n", time.Since(start).Seconds())
}

func runLs(fsys *fs.FileSystem) {
	names, err := fsys.GetFiles()
	if err != nil {
		logrus.Errorf("ls failed: %s", err)
		os.Exit(1)
	}
	freeBytes, orphanedBytes, err := fsys.GetStats()
	if err != nil {
		logrus.Errorf("stats failed: %s", err)
		os.Exit(1)
	}
	for _, name := range names {
		size, err := fsys.GetFileSize(name)
		if err != nil {
			logrus.Errorf("size of %s failed: %s", name, err)
			continue
		}
		fmt.Printf("%-16s %10d bytes\n", name, size)
	}
	fmt.Printf("== %d files, %d free bytes, %d orphaned bytes ==\n", len(names), freeBytes, orphanedBytes)
}

func runStat(fsys *fs.FileSystem, name string) {
	size, err := fsys.GetFileSize(name)
	if err != nil {
		logrus.Errorf("stat %s failed: %s", name, err)
		os.Exit(1)
	}
	created, err := fsys.GetFileCreationTime(name)
	if err != nil {
		logrus.Errorf("stat %s failed: %s", name, err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d bytes, created %s\n", name, size, created.Format(time.RFC3339))
}

func runGet(fsys *fs.FileSystem, name, out string, batchSize int64) {
	if out == "" {
		out = name
	}
	consumer, err := fs.NewFileDataConsumer(out)
	if err != nil {
		logrus.Errorf("get %s failed: %s", name, err)
		os.Exit(1)
	}
	read, _, err := fs.ReadStream(fsys, name, consumer, batchSize, false)
	if err != nil {
		logrus.Errorf("get %s failed: %s", name, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d bytes to %s\n", read, out)
}

func runPut(fsys *fs.FileSystem, path, as string, batchSize int64) {
	if as == "" {
		as = filepath.Base(path)
	}
	provider, err := fs.NewFileDataProvider(path, batchSize)
	if err != nil {
		logrus.Errorf("put %s failed: %s", as, err)
		os.Exit(1)
	}
	written, _, err := fs.WriteStream(fsys, as, provider, false)
	if err != nil {
		logrus.Errorf("put %s failed: %s", as, err)
		os.Exit(1)
	}
	fmt.Printf("stored %s as %s (%d bytes)\n", path, as, written)
}

func runRm(fsys *fs.FileSystem, name string) {
	if err := fsys.Delete(name); err != nil {
		logrus.Errorf("rm %s failed: %s", name, err)
		os.Exit(1)
	}
	fmt.Printf("deleted %s\n", name)
}

func runMv(fsys *fs.FileSystem, spec string) {
	src, dst, ok := splitPair(spec)
	if !ok {
		logrus.Errorf("mv expects \"old:new\", got %q", spec)
		os.Exit(1)
	}
	if err := fsys.Move(src, dst); err != nil {
		logrus.Errorf("mv %s failed: %s", spec, err)
		os.Exit(1)
	}
	fmt.Printf("moved %s to %s\n", src, dst)
}

func runCp(fsys *fs.FileSystem, spec string, overwrite bool) {
	src, dst, ok := splitPair(spec)
	if !ok {
		logrus.Errorf("cp expects \"src:dst\", got %q", spec)
		os.Exit(1)
	}
	if err := fsys.Copy(src, dst, overwrite); err != nil {
		logrus.Errorf("cp %s failed: %s", spec, err)
		os.Exit(1)
	}
	fmt.Printf("copied %s to %s\n", src, dst)
}

func runCompact(fsys *fs.FileSystem) {
	before, orphanedBefore, _ := fsys.GetStats()
	if err := fsys.Compact(); err != nil {
		logrus.Errorf("compact failed: %s", err)
		os.Exit(1)
	}
	after, orphanedAfter, _ := fsys.GetStats()
	fmt.Printf("compact reclaimed %d bytes (orphaned %d -> %d, free %d -> %d)\n",
		after-before, orphanedBefore, orphanedAfter, before, after)
}

func splitPair(spec string) (string, string, bool) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
