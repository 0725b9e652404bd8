// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "fmt"
import "io"
import "time"

import "github.com/dustin/go-humanize"


/* Everything worth printing about one finished phase. */
type PhaseResult struct {
    Phase BenchPhase
    Cause PhaseEndCause

    /* Slowest worker's completion time. */
    Elapsed time.Duration

    NumEntries uint64
    NumBytes uint64
    NumIOPS uint64
    NumWorkerErrors int

    /* First-finisher snapshot, valid when StoneWallCaptured. */
    StoneWallCaptured bool
    StoneWallElapsed time.Duration
    StoneWallOps OpsSnapshot

    IOLatency LatencySummary
    EntryLatency LatencySummary
}


/* Report accumulates per-phase results over one run. */
type Report struct {
    results []PhaseResult
}


func (r *Report) AddPhase(result PhaseResult) {
    r.results = append(r.results, result)
}


func (r *Report) Results() []PhaseResult {
    return r.results
}


func (r *Report) Print(w io.Writer) {
    for _, result := range r.results {
        printPhaseResult(w, result)
    }
}


func printPhaseResult(w io.Writer, result PhaseResult) {
    fmt.Fprintf(w, "%v:\n", result.Phase.ToString())

    if result.Cause != PEC_Completed {
        fmt.Fprintf(w, "  ended:       %v\n", result.Cause.ToString())
    }

    if result.NumWorkerErrors > 0 {
        fmt.Fprintf(w, "  errors:      %v workers failed\n", result.NumWorkerErrors)
    }

    fmt.Fprintf(w, "  elapsed:     %v\n", result.Elapsed.Round(time.Millisecond))
    fmt.Fprintf(w, "  entries:     %v\n", result.NumEntries)

    if result.NumBytes > 0 {
        fmt.Fprintf(w, "  bytes:       %v (%v)\n",
            result.NumBytes, humanize.IBytes(result.NumBytes))
        fmt.Fprintf(w, "  throughput:  %v/s\n",
            humanize.IBytes(throughputPerSec(result.NumBytes, result.Elapsed)))
    }

    if result.NumIOPS > 0 {
        fmt.Fprintf(w, "  iops:        %v (%v ops)\n",
            throughputPerSec(result.NumIOPS, result.Elapsed), result.NumIOPS)
    }

    if result.StoneWallCaptured && (result.StoneWallOps.NumBytesDone > 0) {
        fmt.Fprintf(w, "  stonewall:   %v/s (first finisher at %v)\n",
            humanize.IBytes(throughputPerSec(result.StoneWallOps.NumBytesDone, result.StoneWallElapsed)),
            result.StoneWallElapsed.Round(time.Millisecond))
    }

    printLatency(w, "IO", result.IOLatency)
    printLatency(w, "entry", result.EntryLatency)
}


func printLatency(w io.Writer, label string, summary LatencySummary) {
    if summary.Count == 0 {
        return
    }

    fmt.Fprintf(w, "  %v latency:  avg %vus  min %vus  max %vus  p50 %vus  p95 %vus  p99 %vus\n",
        label, uint64(summary.AvgMicros), uint64(summary.MinMicros), uint64(summary.MaxMicros),
        uint64(summary.P50Micros), uint64(summary.P95Micros), uint64(summary.P99Micros))
}


func throughputPerSec(numBytes uint64, elapsed time.Duration) uint64 {
    if elapsed <= 0 {
        return 0
    }

    return uint64(float64(numBytes) / elapsed.Seconds())
}
