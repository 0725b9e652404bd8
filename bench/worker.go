// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "fmt"
import "runtime"
import "sync/atomic"
import "time"

import "github.com/eliottkespi/elbencho/logger"
import "github.com/eliottkespi/elbencho/numa"


/*
 * Worker is the behavior every worker thread shares: waiting for a phase to
 * start, cooperative cancellation checkpoints, completion accounting and the
 * stonewall capture performed by whichever worker finishes first.
 *
 * A worker's identity (rank, shared-data reference) is created once at pool
 * setup and lives until pool teardown; its phase-scoped stats are reset each
 * time a new phase is published.
 */
type Worker struct {
    progArgs *ProgArgs
    shared *WorkersSharedData
    rank int

    /* May be set by any thread; read lock-free at checkpoints.  Cancellation is
     * cooperative, so check-then-act is all we need. */
    interruptionRequested atomic.Bool

    /* Only touched by the owning goroutine. */
    phaseFinished bool

    /* Phase for which a completion counter was already bumped; guards against
     * double-counting.  Guarded by shared.Mutex. */
    donePhaseID PhaseID

    live LiveOps
    ioLatency LatencyRecorder
    entryLatency LatencyRecorder

    /* Set once per phase by the first finisher; guarded by shared.Mutex. */
    stoneWall *StoneWallStats

    /* Elapsed phase time at this worker's own completion. */
    elapsed time.Duration
}


func (w *Worker) Rank() int {
    return w.rank
}


func (w *Worker) RequestInterruption() {
    w.interruptionRequested.Store(true)
}


/*
 * Cooperative cancellation checkpoint.  Called at every phase-wait wakeup and
 * once per I/O operation inside the hot loops, so cancellation latency stays
 * bounded to one block-sized transfer.
 */
func (w *Worker) checkInterruptionRequest() error {
    if w.interruptionRequested.Load() {
        return ErrInterrupted
    }

    return nil
}


/*
 * Block until the manager publishes a phase ID different from oldPhaseID.
 * Rechecks interruption after every wakeup, so a cancelled worker never hangs
 * here.  Returns the new phase ID and phase with the lock released.
 */
func (w *Worker) waitForNextPhase(oldPhaseID PhaseID) (PhaseID, BenchPhase, error) {
    sd := w.shared

    sd.Mutex.Lock()
    defer sd.Mutex.Unlock()

    if err := w.checkInterruptionRequest(); err != nil {
        return nilPhaseID, BP_Idle, err
    }

    for oldPhaseID == sd.CurrentPhaseID {
        sd.Cond.Wait()

        if err := w.checkInterruptionRequest(); err != nil {
            return nilPhaseID, BP_Idle, err
        }
    }

    return sd.CurrentPhaseID, sd.CurrentBenchPhase, nil
}


/*
 * Count this worker as done with the current phase.  The first completion of a
 * phase snapshots stonewall stats for every worker still running; the mutex
 * guarantees no other worker advances the counter in the meantime, and the
 * phase-scoped latch keeps the capture from ever happening twice.
 *
 * Calling this again for the same phase is a no-op: a worker contributes to
 * exactly one counter per phase.
 */
func (w *Worker) incNumWorkersDone() {
    sd := w.shared

    sd.Mutex.Lock()
    defer sd.Mutex.Unlock()

    if w.donePhaseID == sd.CurrentPhaseID {
        return
    }

    w.donePhaseID = sd.CurrentPhaseID
    w.elapsed = time.Since(sd.PhaseStartT)
    sd.incNumWorkersDoneUnlocked()

    if (sd.NumWorkersDone == 1) && !sd.stoneWallTriggered {
        sd.stoneWallTriggered = true
        elapsed := time.Since(sd.PhaseStartT)

        for _, worker := range sd.Workers {
            worker.createStoneWallStatsUnlocked(elapsed)
        }
    }
}


/* Error completion.  No stonewall attempt; still at most one counter per
 * worker per phase. */
func (w *Worker) incNumWorkersDoneWithError() {
    sd := w.shared

    logger.Debugf("[worker %v] increasing done with error counter\n", w.rank)

    sd.Mutex.Lock()
    defer sd.Mutex.Unlock()

    if w.donePhaseID == sd.CurrentPhaseID {
        return
    }

    w.donePhaseID = sd.CurrentPhaseID
    w.elapsed = time.Since(sd.PhaseStartT)
    sd.incNumWorkersDoneWithErrorUnlocked()
}


/* Caller must hold shared.Mutex. */
func (w *Worker) createStoneWallStatsUnlocked(elapsed time.Duration) {
    if w.stoneWall != nil {
        return
    }

    w.stoneWall = &StoneWallStats{
        Elapsed: elapsed,
        Ops: w.live.snapshot(),
    }
}


/* The stonewall snapshot of the current phase, or nil if none was captured. */
func (w *Worker) StoneWallStats() *StoneWallStats {
    w.shared.Mutex.Lock()
    defer w.shared.Mutex.Unlock()
    return w.stoneWall
}


func (w *Worker) LiveSnapshot() OpsSnapshot {
    return w.live.snapshot()
}


/* Elapsed phase time at this worker's completion; only meaningful once the
 * worker counted itself done. */
func (w *Worker) Elapsed() time.Duration {
    w.shared.Mutex.Lock()
    defer w.shared.Mutex.Unlock()
    return w.elapsed
}


func (w *Worker) IOLatency() *LatencyRecorder {
    return &w.ioLatency
}


func (w *Worker) EntryLatency() *LatencyRecorder {
    return &w.entryLatency
}


/* Caller must hold shared.Mutex.  Invoked by the manager when publishing a new
 * phase, before any worker wakes up. */
func (w *Worker) resetPhaseStatsUnlocked() {
    w.live.reset()
    w.ioLatency.reset()
    w.entryLatency.reset()
    w.stoneWall = nil
    w.elapsed = 0
}


/*
 * Apply the configured NUMA binding to the calling worker thread; a no-op when
 * no zones are configured or the system has no NUMA topology.  A failed bind
 * is fatal to the worker: measurements on the wrong zone would be worthless.
 */
func (w *Worker) applyNumaBinding() error {
    zones := w.progArgs.NumaZones

    if (len(zones) == 0) || !numa.IsAvailable() {
        return nil
    }

    // Affinity is a thread property, so this goroutine must own its thread.
    runtime.LockOSThread()

    zone := zones[w.rank % len(zones)]

    err := numa.BindToZone(zone)
    if err != nil {
        return fmt.Errorf("[worker %v] NUMA binding failed: %w", w.rank, err)
    }

    logger.Debugf("[worker %v] bound to NUMA zone %v\n", w.rank, zone)
    return nil
}
