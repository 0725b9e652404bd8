// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package main

import "fmt"
import "os"
import "strconv"
import "strings"
import "time"

import "github.com/docopt/docopt-go"
import "github.com/dustin/go-humanize"

import "github.com/eliottkespi/elbencho/bench"
import "github.com/eliottkespi/elbencho/logger"


type Config struct {
    Threads int
    Size string
    Block string
    Iodepth int
    Dirs int
    Files int

    Write bool
    Read bool
    Stat bool
    Delfiles bool
    Mkdirs bool
    Deldirs bool
    Sync bool

    Rand bool
    Norandalign bool
    Direct bool
    Trunc bool
    Nodelerr bool

    Timelimit int
    Seed int
    Zones string

    Gpubuf bool
    Gpudirect bool
    Gpuemul bool

    S3endpoint string
    S3key string
    S3secret string
    S3region string

    Rbdmon string
    Rbduser string
    Rbdkey string

    Log string

    Paths []string `docopt:"<paths>"`
}


/* Return a usage string for DocOpt argument parsing.
 */
func usage() string {
    return `Storage benchmark tool.
Usage:
  elbencho [options] <paths> ...
Options:
  -t COUNT, --threads COUNT    Number of I/O worker threads.  [default: 1]
  -s SIZE, --size SIZE         File size, or working set size per block device.  [default: 1G]
  -b SIZE, --block SIZE        Block size per I/O operation.  [default: 1M]
  --iodepth DEPTH              Number of in-flight I/O operations per thread; 1 selects synchronous I/O.  [default: 1]
  -n COUNT, --dirs COUNT       Directory mode: number of directories per thread.  [default: 1]
  -f COUNT, --files COUNT      Directory mode: number of files per directory.  [default: 1]
  -w, --write                  Run the write phase, creating files as needed.
  -r, --read                   Run the read phase.
  --stat                       Run the stat phase.
  -F, --delfiles               Run the file deletion phase.
  -d, --mkdirs                 Run the directory creation phase (directory mode only).
  -D, --deldirs                Run the directory deletion phase (directory mode only).
  --sync                       Run the sync phase, flushing written data to stable storage.
  --rand                       Use random offsets instead of sequential access.
  --norandalign                Allow random offsets that are not block-aligned.
  --direct                     Use direct I/O, bypassing the page cache.
  --trunc                      Truncate files to zero length when opening for write.
  --nodelerr                   Ignore errors during deletion phases.
  --timelimit SECS             Maximum seconds per phase; 0 disables the limit.  [default: 0]
  --seed NUM                   Random seed for reproducible offset sequences; 0 seeds from the clock.  [default: 0]
  --zones LIST                 Comma-separated NUMA zones to bind worker threads to (e.g. "0,1").
  --gpubuf                     Stage transfers through GPU-resident buffers.
  --gpudirect                  Transfer directly between storage and GPU buffers.
  --gpuemul                    Allow the emulated GPU device when no real GPU is present.
  --s3endpoint URL             S3 endpoint for s3:// paths.
  --s3key KEY                  S3 access key.
  --s3secret SECRET            S3 secret key.
  --s3region REGION            S3 region.  [default: us-east-1]
  --rbdmon HOST                Ceph monitor host for rbd:// paths.
  --rbduser USER               Ceph user for rbd:// paths.  [default: admin]
  --rbdkey KEY                 Ceph secret key for rbd:// paths.
  --log LEVEL                  Log level: error, warn, info, debug or trace.  [default: info]
`
}


func dieOnError(err error, format string, a ...interface{}) {
    if err != nil {
        fmt.Fprintf(os.Stderr, format, a...)
        fmt.Fprintf(os.Stderr, ": %v\n", err)
        os.Exit(1)
    }
}


func parseZones(zones string) ([]int, error) {
    if zones == "" {
        return nil, nil
    }

    var result []int

    for _, field := range strings.Split(zones, ",") {
        zone, err := strconv.Atoi(strings.TrimSpace(field))
        if err != nil {
            return nil, fmt.Errorf("Bad NUMA zone %q: %v", field, err)
        }

        result = append(result, zone)
    }

    return result, nil
}


func buildProgArgs(conf *Config) (*bench.ProgArgs, error) {
    fileSize, err := humanize.ParseBytes(conf.Size)
    if err != nil {
        return nil, fmt.Errorf("Bad file size %q: %v", conf.Size, err)
    }

    blockSize, err := humanize.ParseBytes(conf.Block)
    if err != nil {
        return nil, fmt.Errorf("Bad block size %q: %v", conf.Block, err)
    }

    zones, err := parseZones(conf.Zones)
    if err != nil {
        return nil, err
    }

    args := &bench.ProgArgs{
        NumWorkers: conf.Threads,
        BenchPaths: conf.Paths,
        FileSize: int64(fileSize),
        BlockSize: int64(blockSize),
        NumDirs: conf.Dirs,
        NumFiles: conf.Files,
        IODepth: conf.Iodepth,
        UseRandomOffsets: conf.Rand,
        UseRandomAligned: !conf.Norandalign,
        UseDirectIO: conf.Direct,
        DoTruncate: conf.Trunc,
        IgnoreDelErrors: conf.Nodelerr,
        PhaseTimeLimit: time.Duration(conf.Timelimit) * time.Second,
        RandSeed: int64(conf.Seed),
        NumaZones: zones,
        UseGPUBufs: conf.Gpubuf,
        UseGPUDirect: conf.Gpudirect,
        GPUEmulation: conf.Gpuemul,
        DoCreateDirs: conf.Mkdirs,
        DoCreateFiles: conf.Write,
        DoReadFiles: conf.Read,
        DoStatFiles: conf.Stat,
        DoSync: conf.Sync,
        DoDeleteFiles: conf.Delfiles,
        DoDeleteDirs: conf.Deldirs,
        S3: bench.S3Config{
            Endpoint: conf.S3endpoint,
            AccessKey: conf.S3key,
            SecretKey: conf.S3secret,
            Region: conf.S3region,
        },
        Rbd: bench.RbdConfig{
            Monitor: conf.Rbdmon,
            Username: conf.Rbduser,
            Key: conf.Rbdkey,
        },
    }

    return args, nil
}


func main() {
    // Error should never happen outside of development, since docopt is complaining that our usage string has bad syntax.
    opts, err := docopt.ParseDoc(usage())
    dieOnError(err, "Error parsing arguments")

    // Error should never happen outside of development, since docopt is complaining that our type bindings are wrong.
    var conf Config
    err = opts.Bind(&conf)
    dieOnError(err, "Failure binding config")

    err = logger.SetLevelByName(conf.Log)
    dieOnError(err, "Failure setting log level")

    // These can error on bad user input.
    args, err := buildProgArgs(&conf)
    dieOnError(err, "Failure translating arguments")

    err = args.Setup()
    dieOnError(err, "Failure validating arguments")

    coordinator := bench.NewCoordinator(args)

    err = coordinator.Run()

    coordinator.Report().Print(os.Stdout)

    dieOnError(err, "Benchmark failed")
}
