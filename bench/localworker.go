// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "context"
import "errors"
import "fmt"
import "math/rand"
import "time"

import "golang.org/x/sync/errgroup"
import "golang.org/x/sys/unix"

import "github.com/eliottkespi/elbencho/gpu"
import "github.com/eliottkespi/elbencho/logger"


/*
 * LocalWorker executes benchmark phases against the configured targets from a
 * goroutine of its own.  All strategy decisions (sync vs async engine, pread
 * vs pwrite vs GPU-direct, staging memcpys, handle bracketing) are bound once
 * per phase into a small set of function values, so the per-block hot loop
 * carries no branching on configuration.
 */
type LocalWorker struct {
    Worker

    randGen *rand.Rand
    ioBuf []byte
    gpuBuf gpu.Buffer
    offsetGen FileOffsetGenerator
    funcs phaseFuncs
}


/* The per-phase strategy bindings. */
type phaseFuncs struct {
    /* Transfer the whole offset sequence of the current generator. */
    rwBlockSized func(t Target, h gpu.Handle) error

    /* One positional transfer of len(buf) bytes. */
    positionalRW func(t Target, h gpu.Handle, buf []byte, off int64) (int, error)

    /* Staging copies around a transfer when data lives in a GPU buffer. */
    preRWMemcpy func(count int) error
    postRWMemcpy func(count int) error

    /* Per-descriptor GPU handle bracketing for direct transfers. */
    gpuHandleReg func(t Target) (gpu.Handle, error)
    gpuHandleDereg func(h gpu.Handle)
}


func NewLocalWorker(progArgs *ProgArgs, shared *WorkersSharedData, rank int) *LocalWorker {
    w := &LocalWorker{}
    w.progArgs = progArgs
    w.shared = shared
    w.rank = rank
    w.reseedRandGen()
    return w
}


/*
 * An explicit seed makes every worker's offset sequence reproducible; rank is
 * mixed in so workers do not mirror each other's draws.
 */
func (w *LocalWorker) reseedRandGen() {
    seed := w.progArgs.RandSeed
    if seed != 0 {
        seed += int64(w.rank)
    } else {
        seed = time.Now().UnixNano() + int64(w.rank)
    }

    w.randGen = rand.New(rand.NewSource(seed))
}


/*
 * Goroutine entry point.  Prepares buffers and bindings, signals preparation
 * completion, then serves phases until terminate or interruption.
 */
func (w *LocalWorker) run() {
    err := w.prepare()
    if err != nil {
        logger.Errorf("[worker %v] preparation failed: %v\n", w.rank, err)
        w.incNumWorkersDoneWithError()
        return
    }

    defer w.teardown()

    // Capture the idle-phase ID before counting preparation done: once the
    // counter is bumped, the manager may publish the first phase at any
    // moment, and a wait keyed on the new ID would miss that phase.
    currentPhaseID := w.currentPhaseID()

    // Preparation counts as completing the initial idle phase.
    w.incNumWorkersDone()

    for {
        phaseID, phase, err := w.waitForNextPhase(currentPhaseID)
        if err != nil {
            logger.Debugf("[worker %v] interrupted while idle\n", w.rank)
            return
        }

        currentPhaseID = phaseID
        w.phaseFinished = false

        if phase == BP_Terminate {
            logger.Debugf("[worker %v] terminating\n", w.rank)
            return
        }

        logger.Debugf("[worker %v] starting %v phase\n", w.rank, phase.ToString())

        err = w.runPhase(phase)

        if err == nil {
            w.finishPhase()
            continue
        }

        if errors.Is(err, ErrInterrupted) {
            logger.Infof("[worker %v] interrupted during %v phase\n", w.rank, phase.ToString())

            if !w.phaseFinished {
                w.finishPhase()
            }

            continue
        }

        logger.Errorf("[worker %v] %v phase failed: %v\n", w.rank, phase.ToString(), err)
        w.incNumWorkersDoneWithError()
        w.phaseFinished = true
    }
}


func (w *LocalWorker) prepare() error {
    err := w.applyNumaBinding()
    if err != nil {
        return err
    }

    err = w.allocIOBuffer()
    if err != nil {
        return err
    }

    return w.allocGPUIOBuffer()
}


func (w *LocalWorker) teardown() {
    if w.gpuBuf != nil {
        w.gpuBuf.Free()
        w.gpuBuf = nil
    }
}


func (w *LocalWorker) currentPhaseID() PhaseID {
    w.shared.Mutex.Lock()
    defer w.shared.Mutex.Unlock()
    return w.shared.CurrentPhaseID
}


/* Mark this worker finished with the current phase.  Idempotent within one
 * phase; the heavy lifting happens in incNumWorkersDone. */
func (w *LocalWorker) finishPhase() {
    w.incNumWorkersDone()
    w.phaseFinished = true
}


func (w *LocalWorker) allocIOBuffer() error {
    w.ioBuf = make([]byte, w.progArgs.BlockSize)
    fillBuffer(w.ioBuf, uint64(w.rank) + 1)
    return nil
}


func (w *LocalWorker) allocGPUIOBuffer() error {
    dev := w.progArgs.GPUDevice()
    if dev == nil {
        return nil
    }

    buf, err := dev.AllocBuffer(int(w.progArgs.BlockSize))
    if err != nil {
        return fmt.Errorf("Unable to allocate GPU buffer: %w", err)
    }

    err = buf.CopyFromHost(w.ioBuf)
    if err != nil {
        buf.Free()
        return err
    }

    w.gpuBuf = buf
    logger.Debugf("[worker %v] allocated %v byte buffer on %v device\n",
        w.rank, buf.Size(), dev.Name())

    return nil
}


/* Cheap xorshift step, fast enough to fill buffers at allocation time. */
func prngNext(lastValue uint64) uint64 {
    x := lastValue
    x ^= x << 13
    x ^= x >> 7
    x ^= x << 17
    return x
}


func fillBuffer(buf []byte, seed uint64) {
    next := prngNext(seed | 1)

    for i := 0; i < len(buf); i += 8 {
        next = prngNext(next)

        for j := 0; (j < 8) && (i + j < len(buf)); j++ {
            buf[i + j] = byte(next >> (8 * uint(j)))
        }
    }
}


/* Dispatch one phase.  Strategy bindings and the offset generator are fresh
 * per phase; iteration mode follows the path type. */
func (w *LocalWorker) runPhase(phase BenchPhase) error {
    args := w.progArgs

    if args.RandSeed != 0 {
        w.reseedRandGen()
    }

    w.initPhaseFuncs(phase)

    switch phase {
        case BP_CreateDirs, BP_DeleteDirs:
            return w.iterateDirs(phase)

        case BP_Sync:
            return w.syncPhase()
    }

    needsOffsets := (phase == BP_CreateFiles) || (phase == BP_ReadFiles)

    if args.PathType == PT_Dir {
        if needsOffsets {
            err := w.initPhaseOffsetGen(0, args.FileSize)
            if err != nil {
                return err
            }
        }

        return w.dirModeIterateFiles(phase)
    }

    if needsOffsets {
        rangeStart, rangeLen := w.getPhaseFileRange()

        err := w.initPhaseOffsetGen(rangeStart, rangeLen)
        if err != nil {
            return err
        }
    }

    return w.fileModeIterateFiles(phase)
}


/*
 * This worker's slice of the shared file or device range.  Every worker gets
 * the same whole number of blocks; the last worker also absorbs the remainder
 * blocks and any trailing partial block, so the union of all slices is exactly
 * [0, FileSize) with no overlap.
 */
func (w *LocalWorker) getPhaseFileRange() (int64, int64) {
    args := w.progArgs

    numBlocks := args.FileSize / args.BlockSize
    stride := args.BlockSize * (numBlocks / int64(args.NumWorkers))
    start := int64(w.rank) * stride

    if w.rank == (args.NumWorkers - 1) {
        return start, args.FileSize - start
    }

    return start, stride
}


func (w *LocalWorker) initPhaseOffsetGen(rangeStart int64, rangeLen int64) error {
    err := checkOffsetGenArgs(w.progArgs, rangeLen)
    if err != nil {
        return err
    }

    w.offsetGen = createOffsetGen(w.progArgs, w.randGen, rangeLen, rangeStart)
    return nil
}


func (w *LocalWorker) initPhaseFuncs(phase BenchPhase) {
    args := w.progArgs

    useGPUDirect := args.UseGPUDirect && (w.gpuBuf != nil)
    useGPUStaging := args.UseGPUBufs && (w.gpuBuf != nil) && !useGPUDirect

    if args.IODepth == 1 {
        w.funcs.rwBlockSized = w.rwBlockSizedSync
    } else {
        w.funcs.rwBlockSized = w.aioBlockSized
    }

    w.funcs.preRWMemcpy = w.noOpGPUMemcpy
    w.funcs.postRWMemcpy = w.noOpGPUMemcpy
    w.funcs.gpuHandleReg = w.noOpGPUHandleReg
    w.funcs.gpuHandleDereg = w.noOpGPUHandleDereg

    if phase == BP_CreateFiles {
        if useGPUDirect {
            w.funcs.positionalRW = w.gpuDirectWriteWrapper
        } else {
            w.funcs.positionalRW = w.pwriteWrapper
        }

        if useGPUStaging {
            w.funcs.preRWMemcpy = w.gpuCopyToHostMemcpy
        }
    } else {
        if useGPUDirect {
            w.funcs.positionalRW = w.gpuDirectReadWrapper
        } else {
            w.funcs.positionalRW = w.preadWrapper
        }

        if useGPUStaging && (phase == BP_ReadFiles) {
            w.funcs.postRWMemcpy = w.gpuCopyFromHostMemcpy
        }
    }

    if useGPUDirect {
        w.funcs.gpuHandleReg = w.registerGPUHandle
        w.funcs.gpuHandleDereg = w.deregisterGPUHandle
    }
}


/*
 * Synchronous engine: one transfer at a time, latency per block.  Interruption
 * is checked once per block, so cancellation latency is bounded by a single
 * transfer.
 */
func (w *LocalWorker) rwBlockSizedSync(t Target, h gpu.Handle) error {
    for w.offsetGen.BytesLeft() > 0 {
        if err := w.checkInterruptionRequest(); err != nil {
            return err
        }

        blockSize := w.offsetGen.NextBlockSize()
        offset := w.offsetGen.NextOffset()
        buf := w.ioBuf[:blockSize]

        if err := w.funcs.preRWMemcpy(int(blockSize)); err != nil {
            return err
        }

        startT := time.Now()

        n, err := w.funcs.positionalRW(t, h, buf, offset)
        if err != nil {
            return fmt.Errorf("Transfer failed. Target: %v, offset: %v: %w",
                t.Name(), offset, err)
        }

        w.ioLatency.Add(time.Since(startT))

        if err := w.funcs.postRWMemcpy(n); err != nil {
            return err
        }

        w.offsetGen.AddBytesSubmitted(int64(n))
        w.live.NumBytesDone.Add(uint64(n))
        w.live.NumIOPSDone.Add(1)
    }

    return nil
}


/*
 * Asynchronous engine: up to IODepth transfers in flight, each on its own
 * buffer from a fixed pool.  Submission blocks once the depth is reached, so
 * the configured depth is also the backpressure bound.
 */
func (w *LocalWorker) aioBlockSized(t Target, h gpu.Handle) error {
    args := w.progArgs

    group, ctx := errgroup.WithContext(context.Background())
    group.SetLimit(args.IODepth)

    bufPool := make(chan []byte, args.IODepth)
    for i := 0; i < args.IODepth; i++ {
        buf := make([]byte, args.BlockSize)
        copy(buf, w.ioBuf)
        bufPool <- buf
    }

    for w.offsetGen.BytesLeft() > 0 {
        if err := w.checkInterruptionRequest(); err != nil {
            group.Wait()
            return err
        }

        // A failed transfer cancels the context; stop submitting the rest of
        // the range and surface the first error.
        if ctx.Err() != nil {
            break
        }

        blockSize := w.offsetGen.NextBlockSize()
        offset := w.offsetGen.NextOffset()
        w.offsetGen.AddBytesSubmitted(blockSize)

        group.Go(func() error {
            slot := <-bufPool
            defer func() { bufPool <- slot }()

            buf := slot[:blockSize]
            startT := time.Now()

            n, err := w.funcs.positionalRW(t, h, buf, offset)
            if err != nil {
                return fmt.Errorf("Transfer failed. Target: %v, offset: %v: %w",
                    t.Name(), offset, err)
            }

            w.ioLatency.Add(time.Since(startT))
            w.live.NumBytesDone.Add(uint64(n))
            w.live.NumIOPSDone.Add(1)
            return nil
        })
    }

    return group.Wait()
}


/* Positional read of exactly len(buf) bytes, retrying short transfers. */
func (w *LocalWorker) preadWrapper(t Target, h gpu.Handle, buf []byte, off int64) (int, error) {
    total := 0

    for total < len(buf) {
        n, err := t.Pread(buf[total:], off + int64(total))
        if err != nil {
            return total, err
        }

        if n == 0 {
            return total, fmt.Errorf("Unexpected end of data after %v of %v bytes at offset %v",
                total, len(buf), off)
        }

        total += n
    }

    return total, nil
}


/* Positional write of exactly len(buf) bytes, retrying short transfers. */
func (w *LocalWorker) pwriteWrapper(t Target, h gpu.Handle, buf []byte, off int64) (int, error) {
    total := 0

    for total < len(buf) {
        n, err := t.Pwrite(buf[total:], off + int64(total))
        if err != nil {
            return total, err
        }

        if n == 0 {
            return total, fmt.Errorf("Short write with no progress after %v of %v bytes at offset %v",
                total, len(buf), off)
        }

        total += n
    }

    return total, nil
}


func (w *LocalWorker) gpuDirectReadWrapper(t Target, h gpu.Handle, buf []byte, off int64) (int, error) {
    n, err := h.ReadDirect(w.gpuBuf, len(buf), off)
    if err != nil {
        return n, err
    }

    if n < len(buf) {
        return n, fmt.Errorf("Short direct read: %v of %v bytes at offset %v", n, len(buf), off)
    }

    return n, nil
}


func (w *LocalWorker) gpuDirectWriteWrapper(t Target, h gpu.Handle, buf []byte, off int64) (int, error) {
    n, err := h.WriteDirect(w.gpuBuf, len(buf), off)
    if err != nil {
        return n, err
    }

    if n < len(buf) {
        return n, fmt.Errorf("Short direct write: %v of %v bytes at offset %v", n, len(buf), off)
    }

    return n, nil
}


func (w *LocalWorker) gpuCopyToHostMemcpy(count int) error {
    return w.gpuBuf.CopyToHost(w.ioBuf[:count])
}


func (w *LocalWorker) gpuCopyFromHostMemcpy(count int) error {
    return w.gpuBuf.CopyFromHost(w.ioBuf[:count])
}


func (w *LocalWorker) noOpGPUMemcpy(count int) error {
    return nil
}


func (w *LocalWorker) registerGPUHandle(t Target) (gpu.Handle, error) {
    return w.progArgs.GPUDevice().RegisterHandle(t)
}


func (w *LocalWorker) deregisterGPUHandle(h gpu.Handle) {
    if h != nil {
        h.Deregister()
    }
}


func (w *LocalWorker) noOpGPUHandleReg(t Target) (gpu.Handle, error) {
    return nil, nil
}


func (w *LocalWorker) noOpGPUHandleDereg(h gpu.Handle) {
}


/*
 * Directory create/delete phase.  Each worker owns an "r<rank>" subtree under
 * every bench path, so workers never contend on the same dentries.  Deletion
 * walks the same names in reverse nesting order.
 */
func (w *LocalWorker) iterateDirs(phase BenchPhase) error {
    args := w.progArgs

    for _, dirFD := range args.DirFDs {
        rankDir := fmt.Sprintf("r%d", w.rank)

        if phase == BP_CreateDirs {
            err := unix.Mkdirat(dirFD, rankDir, 0777)
            if (err != nil) && (err != unix.EEXIST) {
                return fmt.Errorf("Unable to create directory %v: %w", rankDir, err)
            }
        }

        for dirIndex := 0; dirIndex < args.NumDirs; dirIndex++ {
            if err := w.checkInterruptionRequest(); err != nil {
                return err
            }

            path := fmt.Sprintf("%s/d%d", rankDir, dirIndex)
            startT := time.Now()

            if phase == BP_CreateDirs {
                err := unix.Mkdirat(dirFD, path, 0777)
                if (err != nil) && (err != unix.EEXIST) {
                    return fmt.Errorf("Unable to create directory %v: %w", path, err)
                }
            } else {
                err := unix.Unlinkat(dirFD, path, unix.AT_REMOVEDIR)
                if (err != nil) && !args.IgnoreDelErrors {
                    return fmt.Errorf("Unable to remove directory %v: %w", path, err)
                }
            }

            w.entryLatency.Add(time.Since(startT))
            w.live.NumEntriesDone.Add(1)
        }

        if phase == BP_DeleteDirs {
            err := unix.Unlinkat(dirFD, rankDir, unix.AT_REMOVEDIR)
            if (err != nil) && !args.IgnoreDelErrors {
                return fmt.Errorf("Unable to remove directory %v: %w", rankDir, err)
            }
        }
    }

    return nil
}


/*
 * Directory mode file phases: iterate this worker's r<rank>/d<dir>/f<file>
 * namespace under every bench path and apply the phase operation per file.
 */
func (w *LocalWorker) dirModeIterateFiles(phase BenchPhase) error {
    args := w.progArgs

    for _, dirFD := range args.DirFDs {
        for dirIndex := 0; dirIndex < args.NumDirs; dirIndex++ {
            for fileIndex := 0; fileIndex < args.NumFiles; fileIndex++ {
                if err := w.checkInterruptionRequest(); err != nil {
                    return err
                }

                path := fmt.Sprintf("r%d/d%d/f%d", w.rank, dirIndex, fileIndex)
                startT := time.Now()

                err := w.dirModeProcessFile(phase, dirFD, path)
                if err != nil {
                    return err
                }

                w.entryLatency.Add(time.Since(startT))
                w.live.NumEntriesDone.Add(1)
            }
        }
    }

    return nil
}


func (w *LocalWorker) dirModeProcessFile(phase BenchPhase, dirFD int, path string) error {
    args := w.progArgs

    switch phase {
        case BP_StatFiles:
            var stat unix.Stat_t

            err := unix.Fstatat(dirFD, path, &stat, 0)
            if err != nil {
                return fmt.Errorf("Unable to stat %v: %w", path, err)
            }

            return nil

        case BP_DeleteFiles:
            err := unix.Unlinkat(dirFD, path, 0)
            if (err != nil) && !args.IgnoreDelErrors {
                return fmt.Errorf("Unable to delete %v: %w", path, err)
            }

            return nil
    }

    // Write or read: open, transfer the full per-file range, close.
    flags := unix.O_RDONLY
    if phase == BP_CreateFiles {
        flags = unix.O_CREAT | unix.O_RDWR
        if args.DoTruncate {
            flags |= unix.O_TRUNC
        }
    }

    if args.UseDirectIO {
        flags |= unix.O_DIRECT
    }

    fd, err := unix.Openat(dirFD, path, flags, 0644)
    if err != nil {
        return fmt.Errorf("Unable to open %v: %w", path, err)
    }

    t := &FileTarget{path: path, pathType: PT_File, fd: FileDescriptor(fd)}
    defer t.Close()

    h, err := w.funcs.gpuHandleReg(t)
    if err != nil {
        return err
    }
    defer w.funcs.gpuHandleDereg(h)

    w.offsetGen.Reset()

    return w.funcs.rwBlockSized(t, h)
}


/*
 * File and block device mode: the targets are shared, each worker transfers
 * only its own sub-range.  Workers start at a rank-dependent target so they
 * do not stampede the first path.  Deletion is exclusive per target since a
 * file can only be unlinked once.
 */
func (w *LocalWorker) fileModeIterateFiles(phase BenchPhase) error {
    args := w.progArgs
    numTargets := len(args.Targets)

    for i := 0; i < numTargets; i++ {
        idx := (w.rank + i) % numTargets

        if (phase == BP_DeleteFiles) && ((idx % args.NumWorkers) != w.rank) {
            continue
        }

        if err := w.checkInterruptionRequest(); err != nil {
            return err
        }

        t := args.Targets[idx]
        startT := time.Now()

        err := w.fileModeProcessTarget(phase, t)
        if err != nil {
            return err
        }

        w.entryLatency.Add(time.Since(startT))
        w.live.NumEntriesDone.Add(1)
    }

    return nil
}


func (w *LocalWorker) fileModeProcessTarget(phase BenchPhase, t Target) error {
    args := w.progArgs

    switch phase {
        case BP_StatFiles:
            _, err := t.Size()
            if err != nil {
                return fmt.Errorf("Unable to stat %v: %w", t.Name(), err)
            }

            return nil

        case BP_DeleteFiles:
            err := t.Remove()
            if (err != nil) && !args.IgnoreDelErrors {
                return fmt.Errorf("Unable to delete %v: %w", t.Name(), err)
            }

            return nil
    }

    h, err := w.funcs.gpuHandleReg(t)
    if err != nil {
        return err
    }
    defer w.funcs.gpuHandleDereg(h)

    w.offsetGen.Reset()

    return w.funcs.rwBlockSized(t, h)
}


/*
 * Sync phase.  File and device mode flushes the shared targets, partitioned
 * among workers; dir mode has no open descriptors at this point, so worker 0
 * asks the kernel to flush everything.
 */
func (w *LocalWorker) syncPhase() error {
    args := w.progArgs

    if args.PathType == PT_Dir {
        if w.rank == 0 {
            unix.Sync()
            w.live.NumEntriesDone.Add(1)
        }

        return nil
    }

    for i, t := range args.Targets {
        if (i % args.NumWorkers) != w.rank {
            continue
        }

        if err := w.checkInterruptionRequest(); err != nil {
            return err
        }

        startT := time.Now()

        err := t.Sync()
        if err != nil {
            return fmt.Errorf("Unable to sync %v: %w", t.Name(), err)
        }

        w.entryLatency.Add(time.Since(startT))
        w.live.NumEntriesDone.Add(1)
    }

    return nil
}
