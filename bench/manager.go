// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "fmt"
import "sync"
import "time"

import "github.com/eliottkespi/elbencho/logger"


/* Why a phase wait returned. */
type PhaseEndCause int
const (
    PEC_Completed PhaseEndCause = iota
    PEC_TimeLimit
    PEC_Interrupted
)


func (c PhaseEndCause) ToString() string {
    switch c {
        case PEC_Completed:    return "Completed"
        case PEC_TimeLimit:    return "TimeLimit"
        case PEC_Interrupted:  return "Interrupted"
        default:               return "Unknown PhaseEndCause"
    }
}


/*
 * WorkerManager owns the worker pool and drives the phase protocol: it mints
 * phase IDs, publishes phase transitions through the shared condition
 * variable, waits for completion counters and enforces the per-phase time
 * limit.  All mutable state lives in WorkersSharedData or behind its mutex.
 */
type WorkerManager struct {
    progArgs *ProgArgs
    shared *WorkersSharedData
    workers []*LocalWorker
    wg sync.WaitGroup

    /* Guarded by shared.Mutex. */
    timeLimitExceeded bool
    interrupted bool
}


func NewWorkerManager(progArgs *ProgArgs) *WorkerManager {
    return &WorkerManager{
        progArgs: progArgs,
        shared: newWorkersSharedData(),
    }
}


func (m *WorkerManager) Workers() []*LocalWorker {
    return m.workers
}


/*
 * Create and launch the worker pool, then wait for every worker to finish its
 * preparation (NUMA binding, buffer allocation).  Preparation runs under a
 * phase ID of its own, so the regular completion accounting applies.
 */
func (m *WorkerManager) PrepareThreads() error {
    sd := m.shared

    sd.Mutex.Lock()
    sd.CurrentPhaseID = newPhaseID()
    sd.CurrentBenchPhase = BP_Idle
    sd.PhaseStartT = time.Now()
    sd.Mutex.Unlock()

    for rank := 0; rank < m.progArgs.NumWorkers; rank++ {
        worker := NewLocalWorker(m.progArgs, sd, rank)
        m.workers = append(m.workers, worker)
        sd.Workers = append(sd.Workers, worker)
    }

    logger.Debugf("Starting %v worker threads\n", len(m.workers))

    for _, worker := range m.workers {
        m.wg.Add(1)

        go func(w *LocalWorker) {
            defer m.wg.Done()
            w.run()
        }(worker)
    }

    sd.Mutex.Lock()
    for sd.NumWorkersDone < len(m.workers) {
        sd.Cond.Wait()
    }
    numErrors := sd.NumWorkersDoneWithError
    sd.Mutex.Unlock()

    if numErrors > 0 {
        return fmt.Errorf("%v of %v workers failed to prepare", numErrors, len(m.workers))
    }

    return nil
}


/*
 * Publish the next phase: mint a fresh ID, reset the phase-scoped counters and
 * per-worker stats, then wake all workers.  The broadcast happens strictly
 * after every field is updated, so no worker can observe a half-published
 * phase.  When outPhaseID is non-nil it receives the minted ID.
 */
func (m *WorkerManager) StartNextPhase(phase BenchPhase, outPhaseID *PhaseID) {
    sd := m.shared

    sd.Mutex.Lock()
    defer sd.Mutex.Unlock()

    sd.CurrentPhaseID = newPhaseID()
    sd.CurrentBenchPhase = phase
    sd.PhaseStartT = time.Now()
    sd.NumWorkersDone = 0
    sd.NumWorkersDoneWithError = 0
    sd.stoneWallTriggered = false
    m.timeLimitExceeded = false

    for _, worker := range m.workers {
        worker.resetPhaseStatsUnlocked()
    }

    if outPhaseID != nil {
        *outPhaseID = sd.CurrentPhaseID
    }

    logger.Debugf("Starting %v phase (id %v)\n", phase.ToString(), sd.CurrentPhaseID)

    sd.Cond.Broadcast()
}


/*
 * Block until all workers counted themselves done with the current phase.
 * When a time limit is configured, a timer fires CheckPhaseTimeLimit, which
 * interrupts the stragglers; their completions still arrive through the
 * normal counter, so this wait always terminates.
 */
func (m *WorkerManager) WaitForWorkersDone() (PhaseEndCause, int) {
    sd := m.shared

    if m.progArgs.PhaseTimeLimit > 0 {
        timer := time.AfterFunc(m.progArgs.PhaseTimeLimit, m.CheckPhaseTimeLimit)
        defer timer.Stop()
    }

    sd.Mutex.Lock()
    defer sd.Mutex.Unlock()

    // An interrupted worker that was idle between phases exits without
    // counting, so an external interrupt also ends this wait.
    for (sd.NumWorkersDone < len(m.workers)) && !m.interrupted {
        sd.Cond.Wait()
    }

    cause := PEC_Completed
    if m.timeLimitExceeded {
        cause = PEC_TimeLimit
    } else if m.interrupted {
        cause = PEC_Interrupted
    }

    return cause, sd.NumWorkersDoneWithError
}


/* Non-blocking completion probe.  When outNumDone is non-nil it receives the
 * current done counter. */
func (m *WorkerManager) CheckWorkersDone(outNumDone *int) bool {
    m.shared.Mutex.Lock()
    defer m.shared.Mutex.Unlock()
    return m.checkWorkersDoneUnlocked(outNumDone)
}


/* Caller must hold shared.Mutex. */
func (m *WorkerManager) checkWorkersDoneUnlocked(outNumDone *int) bool {
    if outNumDone != nil {
        *outNumDone = m.shared.NumWorkersDone
    }

    return m.shared.NumWorkersDone >= len(m.workers)
}


/* Interrupt the running phase if its configured time limit has elapsed. */
func (m *WorkerManager) CheckPhaseTimeLimit() {
    m.shared.Mutex.Lock()
    defer m.shared.Mutex.Unlock()
    m.checkPhaseTimeLimitUnlocked()
}


/* Caller must hold shared.Mutex. */
func (m *WorkerManager) checkPhaseTimeLimitUnlocked() {
    limit := m.progArgs.PhaseTimeLimit

    if (limit <= 0) || m.timeLimitExceeded {
        return
    }

    if m.checkWorkersDoneUnlocked(nil) {
        return
    }

    if time.Since(m.shared.PhaseStartT) < limit {
        return
    }

    logger.Warnf("Phase time limit of %v exceeded, interrupting workers\n", limit)

    m.timeLimitExceeded = true
    m.interruptAndNotifyWorkersUnlocked()
}


/*
 * Request interruption on every worker and wake any that are blocked on the
 * condition variable.  Safe to call from a signal handler goroutine at any
 * time, including during phase waits.
 */
func (m *WorkerManager) InterruptAndNotifyWorkers() {
    m.shared.Mutex.Lock()
    defer m.shared.Mutex.Unlock()

    m.interrupted = true
    m.interruptAndNotifyWorkersUnlocked()
}


func (m *WorkerManager) IsInterrupted() bool {
    m.shared.Mutex.Lock()
    defer m.shared.Mutex.Unlock()
    return m.interrupted
}


/* Caller must hold shared.Mutex. */
func (m *WorkerManager) interruptAndNotifyWorkersUnlocked() {
    for _, worker := range m.workers {
        worker.RequestInterruption()
    }

    m.shared.Cond.Broadcast()
}


/* Wait for all worker goroutines to exit.  Call after the terminate phase was
 * published (or after interruption), never during a running phase. */
func (m *WorkerManager) JoinAllThreads() {
    m.wg.Wait()
    logger.Debugf("All worker threads joined\n")
}


/* Sum of live operation counters over all workers. */
func (m *WorkerManager) GetPhaseNumEntriesAndBytes() (uint64, uint64) {
    var numEntries uint64
    var numBytes uint64

    for _, worker := range m.workers {
        snap := worker.LiveSnapshot()
        numEntries += snap.NumEntriesDone
        numBytes += snap.NumBytesDone
    }

    return numEntries, numBytes
}


/*
 * Aggregate the stonewall snapshots of the current phase.  Returns the capture
 * elapsed time and the summed counters; ok is false if no worker finished and
 * hence no capture happened.
 */
func (m *WorkerManager) GetPhaseStoneWall() (time.Duration, OpsSnapshot, bool) {
    var total OpsSnapshot
    var elapsed time.Duration
    captured := false

    for _, worker := range m.workers {
        sw := worker.StoneWallStats()
        if sw == nil {
            continue
        }

        captured = true
        elapsed = sw.Elapsed
        total.NumBytesDone += sw.Ops.NumBytesDone
        total.NumIOPSDone += sw.Ops.NumIOPSDone
        total.NumEntriesDone += sw.Ops.NumEntriesDone
    }

    return elapsed, total, captured
}


/* The longest per-worker completion time of the current phase. */
func (m *WorkerManager) GetPhaseElapsed() time.Duration {
    var longest time.Duration

    for _, worker := range m.workers {
        elapsed := worker.Elapsed()
        if elapsed > longest {
            longest = elapsed
        }
    }

    return longest
}
