// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "sync"
import "time"


/*
 * WorkersSharedData is the one structure mutated by multiple threads: the
 * manager and every worker share a single instance of it.  It is a passive
 * synchronization record; all field access happens while holding Mutex, and
 * Cond is only broadcast after the protected fields have been updated.
 */
type WorkersSharedData struct {
    Mutex sync.Mutex
    Cond *sync.Cond

    CurrentPhaseID PhaseID
    CurrentBenchPhase BenchPhase
    PhaseStartT time.Time

    NumWorkersDone int
    NumWorkersDoneWithError int

    /* The worker collection, so that the first finisher of a phase can snapshot
     * stonewall stats for everyone still running. */
    Workers []*LocalWorker

    /* Phase-scoped latch guarding stonewall capture against the benign race of
     * several workers finishing near-simultaneously. */
    stoneWallTriggered bool
}


func newWorkersSharedData() *WorkersSharedData {
    sd := &WorkersSharedData{
        CurrentPhaseID: nilPhaseID,
        CurrentBenchPhase: BP_Idle,
    }

    sd.Cond = sync.NewCond(&sd.Mutex)
    return sd
}


/* Caller must hold Mutex. */
func (sd *WorkersSharedData) incNumWorkersDoneUnlocked() {
    sd.NumWorkersDone++
    sd.Cond.Broadcast()
}


/* Caller must hold Mutex.  An error completion still counts towards done, so
 * the manager's wait loop terminates no matter how workers finished. */
func (sd *WorkersSharedData) incNumWorkersDoneWithErrorUnlocked() {
    sd.NumWorkersDone++
    sd.NumWorkersDoneWithError++
    sd.Cond.Broadcast()
}
