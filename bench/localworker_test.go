// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

// End-to-end tests running real phases against temp files and directories.

package bench

import "fmt"
import "os"
import "path/filepath"
import "sync/atomic"
import "testing"
import "time"

import "github.com/stretchr/testify/require"


func makeFileModeArgs(t *testing.T, numWorkers int) (*ProgArgs, string) {
    path := filepath.Join(t.TempDir(), "bench.file")

    args := &ProgArgs{
        NumWorkers: numWorkers,
        BenchPaths: []string{path},
        FileSize: 4096,
        BlockSize: 1024,
        NumDirs: 1,
        NumFiles: 1,
        IODepth: 1,
        DoCreateFiles: true,
    }

    return args, path
}


func runBench(t *testing.T, args *ProgArgs) *Report {
    require.NoError(t, args.Setup())

    coordinator := NewCoordinator(args)
    err := coordinator.Run()
    require.NoError(t, err)

    return coordinator.Report()
}


// Four workers write disjoint ranges of one shared file.
func TestFileModeWrite(t *testing.T) {
    args, path := makeFileModeArgs(t, 4)

    report := runBench(t, args)
    results := report.Results()

    require.Len(t, results, 1)
    require.Equal(t, BP_CreateFiles, results[0].Phase)
    require.Equal(t, PEC_Completed, results[0].Cause)
    require.Equal(t, uint64(4), results[0].NumEntries)
    require.Equal(t, uint64(4096), results[0].NumBytes)
    require.True(t, results[0].StoneWallCaptured)
    require.Equal(t, 4, results[0].IOLatency.Count)

    info, err := os.Stat(path)
    require.NoError(t, err)
    require.Equal(t, int64(4096), info.Size())

    // The buffer fill never produces all-zero blocks.
    data, err := os.ReadFile(path)
    require.NoError(t, err)

    nonZero := false
    for _, b := range data {
        if b != 0 {
            nonZero = true
            break
        }
    }
    require.True(t, nonZero)
}


// Write, read back, stat, sync and delete the shared file in one run.
func TestFileModeFullSequence(t *testing.T) {
    args, path := makeFileModeArgs(t, 3)
    args.DoReadFiles = true
    args.DoStatFiles = true
    args.DoSync = true
    args.DoDeleteFiles = true

    report := runBench(t, args)
    results := report.Results()

    require.Len(t, results, 5)

    require.Equal(t, BP_CreateFiles, results[0].Phase)
    require.Equal(t, uint64(4096), results[0].NumBytes)

    require.Equal(t, BP_ReadFiles, results[1].Phase)
    require.Equal(t, uint64(4096), results[1].NumBytes)
    require.Equal(t, uint64(3), results[1].NumEntries)

    require.Equal(t, BP_StatFiles, results[2].Phase)
    require.Equal(t, uint64(3), results[2].NumEntries)

    require.Equal(t, BP_Sync, results[3].Phase)
    require.Equal(t, uint64(1), results[3].NumEntries)

    require.Equal(t, BP_DeleteFiles, results[4].Phase)
    require.Equal(t, uint64(1), results[4].NumEntries)

    _, err := os.Stat(path)
    require.True(t, os.IsNotExist(err))
}


// A worker count that does not divide the block count still covers the file.
func TestFileModeWriteUnevenPartition(t *testing.T) {
    args, path := makeFileModeArgs(t, 3)

    report := runBench(t, args)
    results := report.Results()

    require.Equal(t, uint64(4096), results[0].NumBytes)

    info, err := os.Stat(path)
    require.NoError(t, err)
    require.Equal(t, int64(4096), info.Size())
}


// The async engine transfers the same bytes as the sync engine.
func TestFileModeAsyncWriteRead(t *testing.T) {
    args, path := makeFileModeArgs(t, 2)
    args.IODepth = 4
    args.DoReadFiles = true

    report := runBench(t, args)
    results := report.Results()

    require.Len(t, results, 2)
    require.Equal(t, uint64(4096), results[0].NumBytes)
    require.Equal(t, uint64(4096), results[1].NumBytes)

    info, err := os.Stat(path)
    require.NoError(t, err)
    require.Equal(t, int64(4096), info.Size())
}


// Aligned random writes submit exactly the range length per worker.
func TestFileModeRandomWrite(t *testing.T) {
    args, _ := makeFileModeArgs(t, 2)
    args.UseRandomOffsets = true
    args.UseRandomAligned = true
    args.RandSeed = 99

    report := runBench(t, args)
    results := report.Results()

    require.Equal(t, uint64(4096), results[0].NumBytes)
}


// Directory mode: create dirs and files, stat, delete, remove dirs.
func TestDirModeFullSequence(t *testing.T) {
    base := t.TempDir()

    args := &ProgArgs{
        NumWorkers: 2,
        BenchPaths: []string{base},
        FileSize: 2048,
        BlockSize: 512,
        NumDirs: 2,
        NumFiles: 3,
        IODepth: 1,
        DoCreateDirs: true,
        DoCreateFiles: true,
        DoStatFiles: true,
        DoDeleteFiles: true,
        DoDeleteDirs: true,
    }

    report := runBench(t, args)
    results := report.Results()

    require.Len(t, results, 5)

    require.Equal(t, BP_CreateDirs, results[0].Phase)
    require.Equal(t, uint64(2 * 2), results[0].NumEntries)

    require.Equal(t, BP_CreateFiles, results[1].Phase)
    require.Equal(t, uint64(2 * 2 * 3), results[1].NumEntries)
    require.Equal(t, uint64(2 * 2 * 3 * 2048), results[1].NumBytes)

    require.Equal(t, BP_StatFiles, results[2].Phase)
    require.Equal(t, uint64(2 * 2 * 3), results[2].NumEntries)

    require.Equal(t, BP_DeleteFiles, results[3].Phase)
    require.Equal(t, BP_DeleteDirs, results[4].Phase)

    // Everything this run created is gone again.
    entries, err := os.ReadDir(base)
    require.NoError(t, err)
    require.Empty(t, entries)
}


// Directory mode write produces the r<rank>/d<dir>/f<file> namespace.
func TestDirModeNamespaceLayout(t *testing.T) {
    base := t.TempDir()

    args := &ProgArgs{
        NumWorkers: 2,
        BenchPaths: []string{base},
        FileSize: 1024,
        BlockSize: 512,
        NumDirs: 2,
        NumFiles: 2,
        IODepth: 1,
        DoCreateDirs: true,
        DoCreateFiles: true,
    }

    runBench(t, args)

    for rank := 0; rank < 2; rank++ {
        for dirIndex := 0; dirIndex < 2; dirIndex++ {
            for fileIndex := 0; fileIndex < 2; fileIndex++ {
                path := filepath.Join(base,
                    fmt.Sprintf("r%d", rank), fmt.Sprintf("d%d", dirIndex),
                    fmt.Sprintf("f%d", fileIndex))

                info, err := os.Stat(path)
                require.NoError(t, err)
                require.Equal(t, int64(1024), info.Size())
            }
        }
    }
}


// GPU staging through the emulated device writes the device buffer contents.
func TestFileModeGPUStagedWrite(t *testing.T) {
    args, path := makeFileModeArgs(t, 2)
    args.UseGPUBufs = true
    args.GPUEmulation = true
    args.DoReadFiles = true

    report := runBench(t, args)
    results := report.Results()

    require.Equal(t, uint64(4096), results[0].NumBytes)
    require.Equal(t, uint64(4096), results[1].NumBytes)

    info, err := os.Stat(path)
    require.NoError(t, err)
    require.Equal(t, int64(4096), info.Size())
}


// GPU-direct through the emulated device bypasses the host buffer.
func TestFileModeGPUDirectWriteRead(t *testing.T) {
    args, path := makeFileModeArgs(t, 2)
    args.UseGPUDirect = true
    args.GPUEmulation = true
    args.DoReadFiles = true

    report := runBench(t, args)
    results := report.Results()

    require.Equal(t, uint64(4096), results[0].NumBytes)
    require.Equal(t, uint64(4096), results[1].NumBytes)

    info, err := os.Stat(path)
    require.NoError(t, err)
    require.Equal(t, int64(4096), info.Size())
}


// A read phase against a missing file fails the workers, not the process.
func TestFileModeReadMissingFileFails(t *testing.T) {
    path := filepath.Join(t.TempDir(), "never.created")

    args := &ProgArgs{
        NumWorkers: 2,
        BenchPaths: []string{path},
        FileSize: 4096,
        BlockSize: 1024,
        NumDirs: 1,
        NumFiles: 1,
        IODepth: 1,
        DoReadFiles: true,
    }

    require.NoError(t, args.Setup())

    coordinator := NewCoordinator(args)
    err := coordinator.Run()
    require.Error(t, err)
}


// One failed transfer stops the asynchronous engine from submitting the rest
// of the range.
func TestAsyncEngineStopsAfterError(t *testing.T) {
    args := &ProgArgs{
        NumWorkers: 1,
        FileSize: 1 << 20,
        BlockSize: 1024,
        IODepth: 4,
    }

    target := &failingTarget{}

    w := NewLocalWorker(args, newWorkersSharedData(), 0)
    require.NoError(t, w.allocIOBuffer())

    w.initPhaseFuncs(BP_CreateFiles)
    require.NoError(t, w.initPhaseOffsetGen(0, args.FileSize))

    err := w.funcs.rwBlockSized(target, nil)
    require.Error(t, err)

    // The range holds 1024 blocks; a prompt stop attempts only a handful.
    require.Less(t, target.attempts.Load(), int64(64))
}


// An external interrupt during a transfer phase ends the run promptly, with
// only a fraction of the range written.
func TestInterruptDuringTransferPhase(t *testing.T) {
    target := &slowTarget{}

    args := &ProgArgs{
        NumWorkers: 2,
        PathType: PT_File,
        Targets: []Target{target},
        FileSize: 1 << 20,
        BlockSize: 1024,
        IODepth: 1,
    }

    m := NewWorkerManager(args)
    require.NoError(t, m.PrepareThreads())

    m.StartNextPhase(BP_CreateFiles, nil)

    // Wait until at least one transfer is in flight.
    for start := time.Now(); target.writes.Load() == 0; {
        if time.Since(start) > 5 * time.Second {
            t.Fatal("no transfer ever started")
        }
        time.Sleep(time.Millisecond)
    }

    m.InterruptAndNotifyWorkers()

    cause, numErrors := m.WaitForWorkersDone()
    require.Equal(t, PEC_Interrupted, cause)
    require.Zero(t, numErrors)

    // The range holds 1024 blocks; an interrupted run writes far fewer.
    require.Less(t, target.writes.Load(), int64(1000))

    m.StartNextPhase(BP_Terminate, nil)
    m.JoinAllThreads()
}


/* A target whose transfers always fail, counting every attempt. */
type failingTarget struct {
    attempts atomic.Int64
}


func (ft *failingTarget) Name() string {
    return "failing"
}


func (ft *failingTarget) Pread(p []byte, off int64) (int, error) {
    ft.attempts.Add(1)
    return 0, fmt.Errorf("transfer refused")
}


func (ft *failingTarget) Pwrite(p []byte, off int64) (int, error) {
    ft.attempts.Add(1)
    return 0, fmt.Errorf("transfer refused")
}


func (ft *failingTarget) Sync() error {
    return nil
}


func (ft *failingTarget) Size() (int64, error) {
    return 0, nil
}


func (ft *failingTarget) Remove() error {
    return nil
}


func (ft *failingTarget) Close() error {
    return nil
}


/* A target whose writes succeed slowly, counting every block. */
type slowTarget struct {
    writes atomic.Int64
}


func (st *slowTarget) Name() string {
    return "slow"
}


func (st *slowTarget) Pread(p []byte, off int64) (int, error) {
    return len(p), nil
}


func (st *slowTarget) Pwrite(p []byte, off int64) (int, error) {
    st.writes.Add(1)
    time.Sleep(2 * time.Millisecond)
    return len(p), nil
}


func (st *slowTarget) Sync() error {
    return nil
}


func (st *slowTarget) Size() (int64, error) {
    return st.writes.Load() * 1024, nil
}


func (st *slowTarget) Remove() error {
    return nil
}


func (st *slowTarget) Close() error {
    return nil
}
