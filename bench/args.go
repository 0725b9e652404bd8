// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "fmt"
import "os"
import "strings"
import "time"

import "golang.org/x/sys/unix"

import "github.com/eliottkespi/elbencho/gpu"
import "github.com/eliottkespi/elbencho/logger"
import "github.com/eliottkespi/elbencho/numa"


/*
 * ProgArgs is the full configuration of a run.  The core consumes it strictly
 * read-only: everything here is set before PrepareThreads and only read after
 * that, so no locking is ever needed around it.
 */
type ProgArgs struct {
    NumWorkers int
    BenchPaths []string

    FileSize int64      // bytes per file (or per device working set)
    BlockSize int64     // bytes per single transfer
    NumDirs int         // dir mode: dirs per worker
    NumFiles int        // dir mode: files per dir
    IODepth int         // max in-flight async requests; 1 selects sync I/O

    UseRandomOffsets bool
    UseRandomAligned bool
    UseDirectIO bool
    DoTruncate bool
    IgnoreDelErrors bool

    /* Zero disables the per-phase ceiling. */
    PhaseTimeLimit time.Duration

    /* Explicit seed for reproducible offset sequences; zero seeds each worker
     * from the clock at pool setup instead. */
    RandSeed int64

    NumaZones []int

    UseGPUBufs bool     // stage transfers through a GPU-resident buffer
    UseGPUDirect bool   // cuFile-style direct storage<->GPU transfers
    GPUEmulation bool   // allow the emulated device when no GPU is present

    /* Which phases to run, in the fixed order dirs/write/read/stat/sync/
     * delete-files/delete-dirs. */
    DoCreateDirs bool
    DoCreateFiles bool
    DoReadFiles bool
    DoStatFiles bool
    DoSync bool
    DoDeleteFiles bool
    DoDeleteDirs bool

    S3 S3Config
    Rbd RbdConfig

    /* Resolved during Setup. */
    PathType BenchPathType
    Targets []Target
    DirFDs []int
    gpuDevice gpu.Device
}


func (args *ProgArgs) GPUDevice() gpu.Device {
    return args.gpuDevice
}


/* Path type for a single bench path. */
func detectPathType(path string) (BenchPathType, error) {
    if strings.HasPrefix(path, "s3://") {
        return PT_S3, nil
    }

    if strings.HasPrefix(path, "rbd://") {
        return PT_Rbd, nil
    }

    info, err := os.Stat(path)
    if err != nil {
        if os.IsNotExist(err) {
            // Not there yet; a write phase may create it as a regular file.
            return PT_File, nil
        }

        return PT_File, err
    }

    if info.IsDir() {
        return PT_Dir, nil
    }

    if (info.Mode() & os.ModeDevice) != 0 {
        return PT_BlockDev, nil
    }

    return PT_File, nil
}


/*
 * Validate the configuration and resolve path type, targets and capability
 * flags.  Must be called exactly once, before the worker pool is prepared.
 * Returns a ConfigError for anything that would invalidate the run.
 */
func (args *ProgArgs) Setup() error {
    if args.NumWorkers < 1 {
        return configErrorf("Need at least one worker, got %v", args.NumWorkers)
    }

    if len(args.BenchPaths) == 0 {
        return configErrorf("No benchmark paths given")
    }

    if args.BlockSize <= 0 {
        return configErrorf("Block size must be positive: %v", args.BlockSize)
    }

    if args.FileSize <= 0 {
        return configErrorf("File size must be positive: %v", args.FileSize)
    }

    if args.IODepth < 1 {
        return configErrorf("I/O depth must be at least 1: %v", args.IODepth)
    }

    // All paths must agree on their type.
    for i, path := range args.BenchPaths {
        pathType, err := detectPathType(path)
        if err != nil {
            return configErrorf("Unable to examine %v: %v", path, err)
        }

        if i == 0 {
            args.PathType = pathType
        } else if pathType != args.PathType {
            return configErrorf("Mixed path types: %v is %v but %v is %v",
                args.BenchPaths[0], args.PathType.ToString(), path, pathType.ToString())
        }
    }

    if args.PathType == PT_Dir {
        if (args.NumDirs < 1) || (args.NumFiles < 1) {
            return configErrorf("Directory mode needs positive dir and file counts "+
                "(dirs: %v, files: %v)", args.NumDirs, args.NumFiles)
        }
    } else {
        // Shared-range modes need at least one full block per worker, otherwise
        // the range partitioning degenerates.
        numBlocks := args.FileSize / args.BlockSize
        if numBlocks < int64(args.NumWorkers) {
            return configErrorf("File size %v gives %v blocks of %v bytes, fewer than "+
                "the %v workers that must share them", args.FileSize, numBlocks,
                args.BlockSize, args.NumWorkers)
        }
    }

    if args.PathType == PT_S3 {
        if args.UseRandomOffsets && !args.UseRandomAligned {
            return configErrorf("S3 targets are object-backed and need aligned access; " +
                "combine --rand with alignment")
        }

        if args.UseDirectIO {
            return configErrorf("Direct I/O does not apply to S3 targets")
        }
    }

    if len(args.PhaseSequence()) == 0 {
        return configErrorf("No phases selected")
    }

    if (args.DoCreateDirs || args.DoDeleteDirs) && (args.PathType != PT_Dir) {
        return configErrorf("Directory creation and deletion are not available in %v mode",
            args.PathType.ToString())
    }

    if (args.UseGPUBufs || args.UseGPUDirect) && (args.IODepth > 1) {
        return configErrorf("GPU buffers cannot be combined with I/O depth > 1; " +
            "the staging buffer is per worker, not per in-flight request")
    }

    if len(args.NumaZones) > 0 && !numa.IsAvailable() {
        return configErrorf("NUMA zones configured but this system exposes no NUMA topology")
    }

    err := args.resolveGPU()
    if err != nil {
        return err
    }

    return nil
}


/* Resolve the GPU capability flag once; later phases only consult the result. */
func (args *ProgArgs) resolveGPU() error {
    if !args.UseGPUBufs && !args.UseGPUDirect {
        return nil
    }

    dev, err := gpu.Detect()
    if err == nil {
        args.gpuDevice = dev
        return nil
    }

    if args.GPUEmulation {
        logger.Infof("No GPU available, using emulated device buffers\n")
        args.gpuDevice = gpu.Emulated()
        return nil
    }

    return configErrorf("GPU buffers requested but unavailable: %v", err)
}


/*
 * Open the configured targets.  File and block device mode pre-open one
 * descriptor per path which workers then share positionally; dir mode opens
 * directory descriptors for *at()-style path operations inside.
 */
func (args *ProgArgs) OpenTargets() error {
    forWrite := args.DoCreateFiles || args.DoSync

    switch args.PathType {
        case PT_Dir:
            for _, path := range args.BenchPaths {
                dirFD, err := unix.Open(path, unix.O_RDONLY | unix.O_DIRECTORY, 0)
                if err != nil {
                    args.CloseTargets()
                    return fmt.Errorf("Unable to open directory %v: %w", path, err)
                }

                args.DirFDs = append(args.DirFDs, dirFD)
            }

        case PT_File, PT_BlockDev:
            for _, path := range args.BenchPaths {
                t, err := OpenFileTarget(path, args.PathType, forWrite, args.UseDirectIO)
                if err != nil {
                    args.CloseTargets()
                    return err
                }

                if args.PathType == PT_BlockDev {
                    err = checkBlockDevSize(t, args.FileSize)
                    if err != nil {
                        t.Close()
                        args.CloseTargets()
                        return err
                    }
                }

                if (args.PathType == PT_File) && args.DoTruncate && args.DoCreateFiles {
                    err = unix.Ftruncate(int(t.fd), 0)
                    if err != nil {
                        t.Close()
                        args.CloseTargets()
                        return fmt.Errorf("Unable to truncate %v: %w", path, err)
                    }
                }

                args.Targets = append(args.Targets, t)
            }

        case PT_S3:
            for _, uri := range args.BenchPaths {
                t, err := OpenS3Target(uri, args.S3, args.BlockSize)
                if err != nil {
                    args.CloseTargets()
                    return err
                }

                args.Targets = append(args.Targets, t)
            }

        case PT_Rbd:
            for _, uri := range args.BenchPaths {
                t, err := OpenRbdTarget(uri, args.Rbd)
                if err != nil {
                    args.CloseTargets()
                    return err
                }

                args.Targets = append(args.Targets, t)
            }
    }

    return nil
}


func (args *ProgArgs) CloseTargets() {
    for _, t := range args.Targets {
        err := t.Close()
        if err != nil {
            logger.Warnf("Failure closing %v: %v\n", t.Name(), err)
        }
    }

    for _, dirFD := range args.DirFDs {
        unix.Close(dirFD)
    }

    args.Targets = nil
    args.DirFDs = nil
}


/* The phases this run executes, in order. */
func (args *ProgArgs) PhaseSequence() []BenchPhase {
    var phases []BenchPhase

    if args.DoCreateDirs {
        phases = append(phases, BP_CreateDirs)
    }

    if args.DoCreateFiles {
        phases = append(phases, BP_CreateFiles)
    }

    if args.DoReadFiles {
        phases = append(phases, BP_ReadFiles)
    }

    if args.DoStatFiles {
        phases = append(phases, BP_StatFiles)
    }

    if args.DoSync {
        phases = append(phases, BP_Sync)
    }

    if args.DoDeleteFiles {
        phases = append(phases, BP_DeleteFiles)
    }

    if args.DoDeleteDirs {
        phases = append(phases, BP_DeleteDirs)
    }

    return phases
}
