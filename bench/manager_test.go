// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

// Tests for the phase protocol: transitions, completion counting, stonewall
// capture, interruption and the phase time limit.

package bench

import "sync"
import "testing"
import "time"

import "github.com/stretchr/testify/require"


// Shared data plus a pool of bare workers, without running their goroutines.
func makeTestPool(numWorkers int) (*WorkerManager, *WorkersSharedData) {
    args := &ProgArgs{NumWorkers: numWorkers, FileSize: 4096, BlockSize: 1024, IODepth: 1}

    m := NewWorkerManager(args)

    for rank := 0; rank < numWorkers; rank++ {
        worker := NewLocalWorker(args, m.shared, rank)
        m.workers = append(m.workers, worker)
        m.shared.Workers = append(m.shared.Workers, worker)
    }

    return m, m.shared
}


// A waiting worker observes a freshly published phase.
func TestWaitForNextPhaseSeesNewPhase(t *testing.T) {
    m, sd := makeTestPool(1)
    worker := m.workers[0]

    oldID := worker.currentPhaseID()
    require.Equal(t, nilPhaseID, oldID)

    type result struct {
        id PhaseID
        phase BenchPhase
        err error
    }
    resultChan := make(chan result, 1)

    go func() {
        id, phase, err := worker.waitForNextPhase(oldID)
        resultChan <- result{id, phase, err}
    }()

    var publishedID PhaseID
    m.StartNextPhase(BP_CreateFiles, &publishedID)

    got := <-resultChan
    require.NoError(t, got.err)
    require.Equal(t, publishedID, got.id)
    require.Equal(t, BP_CreateFiles, got.phase)

    sd.Mutex.Lock()
    require.Equal(t, publishedID, sd.CurrentPhaseID)
    sd.Mutex.Unlock()
}


// Interruption wakes a worker blocked on the phase wait.
func TestWaitForNextPhaseInterrupted(t *testing.T) {
    m, _ := makeTestPool(1)
    worker := m.workers[0]

    errChan := make(chan error, 1)

    go func() {
        _, _, err := worker.waitForNextPhase(worker.currentPhaseID())
        errChan <- err
    }()

    // Give the waiter a moment to actually block.
    time.Sleep(10 * time.Millisecond)

    m.InterruptAndNotifyWorkers()

    select {
        case err := <-errChan:
            require.ErrorIs(t, err, ErrInterrupted)
        case <-time.After(5 * time.Second):
            t.Fatal("interrupted worker never woke up")
    }
}


// A worker contributes exactly one counter per phase, however often it calls.
func TestIncNumWorkersDoneIdempotentPerPhase(t *testing.T) {
    m, sd := makeTestPool(2)

    m.StartNextPhase(BP_ReadFiles, nil)

    m.workers[0].incNumWorkersDone()
    m.workers[0].incNumWorkersDone()
    m.workers[0].incNumWorkersDoneWithError()

    sd.Mutex.Lock()
    require.Equal(t, 1, sd.NumWorkersDone)
    require.Equal(t, 0, sd.NumWorkersDoneWithError)
    sd.Mutex.Unlock()

    // A new phase opens a fresh counter for the same worker.
    m.StartNextPhase(BP_StatFiles, nil)

    m.workers[0].incNumWorkersDoneWithError()

    sd.Mutex.Lock()
    require.Equal(t, 1, sd.NumWorkersDone)
    require.Equal(t, 1, sd.NumWorkersDoneWithError)
    sd.Mutex.Unlock()
}


// The first finisher snapshots stonewall stats for every worker, exactly once.
func TestStoneWallCapturedOnceByFirstFinisher(t *testing.T) {
    m, _ := makeTestPool(3)

    m.StartNextPhase(BP_CreateFiles, nil)

    m.workers[1].live.NumBytesDone.Store(1111)
    m.workers[2].live.NumBytesDone.Store(2222)

    m.workers[1].incNumWorkersDone()

    for _, worker := range m.workers {
        require.NotNil(t, worker.StoneWallStats())
    }

    first := make([]*StoneWallStats, len(m.workers))
    for i, worker := range m.workers {
        first[i] = worker.StoneWallStats()
    }

    require.Equal(t, uint64(1111), first[1].Ops.NumBytesDone)
    require.Equal(t, uint64(2222), first[2].Ops.NumBytesDone)

    // Later finishers must not replace the snapshots.
    m.workers[2].live.NumBytesDone.Store(9999)
    m.workers[2].incNumWorkersDone()
    m.workers[0].incNumWorkersDone()

    for i, worker := range m.workers {
        require.Same(t, first[i], worker.StoneWallStats())
    }
}


// Racing finishers still produce exactly one stonewall capture.
func TestStoneWallCaptureUnderConcurrentFinish(t *testing.T) {
    m, sd := makeTestPool(8)

    m.StartNextPhase(BP_ReadFiles, nil)

    var wg sync.WaitGroup
    for _, worker := range m.workers {
        wg.Add(1)

        go func(w *LocalWorker) {
            defer wg.Done()
            w.incNumWorkersDone()
        }(worker)
    }
    wg.Wait()

    sd.Mutex.Lock()
    require.Equal(t, len(m.workers), sd.NumWorkersDone)
    require.True(t, sd.stoneWallTriggered)
    sd.Mutex.Unlock()

    for _, worker := range m.workers {
        require.NotNil(t, worker.StoneWallStats())
    }
}


// WaitForWorkersDone returns once all workers counted themselves done.
func TestWaitForWorkersDoneCompletes(t *testing.T) {
    m, _ := makeTestPool(4)

    m.StartNextPhase(BP_CreateFiles, nil)

    for _, worker := range m.workers {
        go worker.incNumWorkersDone()
    }

    done := make(chan struct{})
    var cause PhaseEndCause
    var numErrors int

    go func() {
        cause, numErrors = m.WaitForWorkersDone()
        close(done)
    }()

    select {
        case <-done:
        case <-time.After(5 * time.Second):
            t.Fatal("WaitForWorkersDone never returned")
    }

    require.Equal(t, PEC_Completed, cause)
    require.Equal(t, 0, numErrors)
    require.True(t, m.CheckWorkersDone(nil))
}


// An exceeded time limit interrupts the stragglers and is reported as cause.
func TestPhaseTimeLimitInterruptsWorkers(t *testing.T) {
    m, sd := makeTestPool(2)
    m.progArgs.PhaseTimeLimit = 50 * time.Millisecond

    m.StartNextPhase(BP_CreateFiles, nil)

    // Pretend the phase started long ago.
    sd.Mutex.Lock()
    sd.PhaseStartT = time.Now().Add(-time.Second)
    sd.Mutex.Unlock()

    m.CheckPhaseTimeLimit()

    for _, worker := range m.workers {
        require.ErrorIs(t, worker.checkInterruptionRequest(), ErrInterrupted)
    }

    // The interrupted workers finish through the normal counter.
    for _, worker := range m.workers {
        worker.finishPhase()
    }

    cause, numErrors := m.WaitForWorkersDone()
    require.Equal(t, PEC_TimeLimit, cause)
    require.Equal(t, 0, numErrors)
}


// The time limit does not fire while workers are still within budget.
func TestPhaseTimeLimitNotExceeded(t *testing.T) {
    m, _ := makeTestPool(1)
    m.progArgs.PhaseTimeLimit = time.Hour

    m.StartNextPhase(BP_CreateFiles, nil)
    m.CheckPhaseTimeLimit()

    require.NoError(t, m.workers[0].checkInterruptionRequest())
}


// Starting a phase resets counters, stats and the stonewall latch.
func TestStartNextPhaseResetsState(t *testing.T) {
    m, sd := makeTestPool(2)

    m.StartNextPhase(BP_CreateFiles, nil)

    m.workers[0].live.NumBytesDone.Store(777)
    m.workers[0].incNumWorkersDone()
    m.workers[1].incNumWorkersDone()

    var firstID PhaseID
    sd.Mutex.Lock()
    firstID = sd.CurrentPhaseID
    sd.Mutex.Unlock()

    m.StartNextPhase(BP_ReadFiles, nil)

    sd.Mutex.Lock()
    require.NotEqual(t, firstID, sd.CurrentPhaseID)
    require.Equal(t, 0, sd.NumWorkersDone)
    require.False(t, sd.stoneWallTriggered)
    sd.Mutex.Unlock()

    require.Nil(t, m.workers[0].StoneWallStats())
    require.Zero(t, m.workers[0].LiveSnapshot().NumBytesDone)
}


// Worker ranges tile [0, FileSize) exactly: disjoint and complete.
func TestPhaseFileRangePartition(t *testing.T) {
    cases := []struct {
        fileSize int64
        blockSize int64
        numWorkers int
    }{
        {4096, 1024, 4},
        {4096, 1024, 3},
        {1000000, 4096, 7},
        {8192, 8192, 1},
        {65536 + 123, 512, 9},
    }

    for _, c := range cases {
        args := &ProgArgs{NumWorkers: c.numWorkers, FileSize: c.fileSize, BlockSize: c.blockSize}

        var nextStart int64

        for rank := 0; rank < c.numWorkers; rank++ {
            w := &LocalWorker{}
            w.progArgs = args
            w.rank = rank

            start, length := w.getPhaseFileRange()

            require.Equal(t, nextStart, start,
                "fileSize=%v blockSize=%v workers=%v rank=%v",
                c.fileSize, c.blockSize, c.numWorkers, rank)
            require.Positive(t, length)

            if rank < c.numWorkers - 1 {
                require.Zero(t, start % c.blockSize)
            }

            nextStart = start + length
        }

        require.Equal(t, c.fileSize, nextStart)
    }
}


// A phase published the instant a worker counts its preparation done is still
// observed: the wait is keyed on the idle-phase ID captured before the count.
func TestPhasePublishedRightAfterPrepIsSeen(t *testing.T) {
    m, sd := makeTestPool(1)
    worker := m.workers[0]

    sd.Mutex.Lock()
    sd.CurrentPhaseID = newPhaseID()
    sd.CurrentBenchPhase = BP_Idle
    sd.PhaseStartT = time.Now()
    sd.Mutex.Unlock()

    // Same ordering as the worker goroutine: capture the idle-phase ID,
    // then count preparation done.
    oldID := worker.currentPhaseID()
    worker.incNumWorkersDone()

    // The manager reacts to the done count and publishes the first phase
    // before the worker reaches its wait.
    var publishedID PhaseID
    m.StartNextPhase(BP_CreateFiles, &publishedID)

    type result struct {
        id PhaseID
        phase BenchPhase
        err error
    }
    resultChan := make(chan result, 1)

    go func() {
        id, phase, err := worker.waitForNextPhase(oldID)
        resultChan <- result{id, phase, err}
    }()

    select {
        case got := <-resultChan:
            require.NoError(t, got.err)
            require.Equal(t, publishedID, got.id)
            require.Equal(t, BP_CreateFiles, got.phase)
        case <-time.After(5 * time.Second):
            t.Fatal("worker missed the phase published right after preparation")
    }
}
