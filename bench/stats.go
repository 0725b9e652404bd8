// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "sync"
import "sync/atomic"
import "time"

import "github.com/montanaflynn/stats"


/*
 * Per-worker operation counters, updated lock-free from the worker's I/O loop
 * and read by other threads (live stats, stonewall capture).
 */
type LiveOps struct {
    NumBytesDone atomic.Uint64
    NumIOPSDone atomic.Uint64
    NumEntriesDone atomic.Uint64
}


func (l *LiveOps) reset() {
    l.NumBytesDone.Store(0)
    l.NumIOPSDone.Store(0)
    l.NumEntriesDone.Store(0)
}


/* A plain-value snapshot of LiveOps, taken at a single point in time. */
type OpsSnapshot struct {
    NumBytesDone uint64
    NumIOPSDone uint64
    NumEntriesDone uint64
}


func (l *LiveOps) snapshot() OpsSnapshot {
    return OpsSnapshot{
        NumBytesDone: l.NumBytesDone.Load(),
        NumIOPSDone: l.NumIOPSDone.Load(),
        NumEntriesDone: l.NumEntriesDone.Load(),
    }
}


/*
 * StoneWallStats freezes one worker's progress at the moment the first worker
 * in the pool finished the phase.  Aggregating these instead of the final
 * counters keeps throughput numbers comparable when workers finish unevenly.
 */
type StoneWallStats struct {
    Elapsed time.Duration
    Ops OpsSnapshot
}


/*
 * LatencyRecorder collects per-operation latencies for one worker.  The async
 * I/O engine records from several goroutines, hence the lock; this is off the
 * submission path, one append per completed transfer.
 */
type LatencyRecorder struct {
    mutex sync.Mutex
    micros []float64
}


func (r *LatencyRecorder) Add(d time.Duration) {
    r.mutex.Lock()
    r.micros = append(r.micros, float64(d.Microseconds()))
    r.mutex.Unlock()
}


func (r *LatencyRecorder) reset() {
    r.mutex.Lock()
    r.micros = nil
    r.mutex.Unlock()
}


func (r *LatencyRecorder) Count() int {
    r.mutex.Lock()
    defer r.mutex.Unlock()
    return len(r.micros)
}


func (r *LatencyRecorder) takeSamples() []float64 {
    r.mutex.Lock()
    defer r.mutex.Unlock()
    return r.micros
}


/* Latency summary in microseconds for one phase. */
type LatencySummary struct {
    Count int
    AvgMicros float64
    MinMicros float64
    MaxMicros float64
    P50Micros float64
    P95Micros float64
    P99Micros float64
}


/*
 * Crunch the numbers for a set of latency recorders.  Returns a zero summary
 * if no operations were recorded (e.g. a phase that only stats entries).
 */
func SummarizeLatency(recorders []*LatencyRecorder) LatencySummary {
    var all []float64
    for _, r := range recorders {
        all = append(all, r.takeSamples()...)
    }

    var summary LatencySummary
    summary.Count = len(all)

    if summary.Count == 0 {
        return summary
    }

    // These only fail on empty input, which we ruled out above.
    summary.AvgMicros, _ = stats.Mean(all)
    summary.MinMicros, _ = stats.Min(all)
    summary.MaxMicros, _ = stats.Max(all)
    summary.P50Micros, _ = stats.Percentile(all, 50)
    summary.P95Micros, _ = stats.Percentile(all, 95)
    summary.P99Micros, _ = stats.Percentile(all, 99)

    return summary
}
