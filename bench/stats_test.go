// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

// Tests for latency recording and summarizing.

package bench

import "testing"
import "time"

import "github.com/stretchr/testify/require"


// Summaries combine the samples of all recorders.
func TestSummarizeLatency(t *testing.T) {
    var a LatencyRecorder
    var b LatencyRecorder

    a.Add(100 * time.Microsecond)
    a.Add(200 * time.Microsecond)
    b.Add(300 * time.Microsecond)
    b.Add(400 * time.Microsecond)

    summary := SummarizeLatency([]*LatencyRecorder{&a, &b})

    require.Equal(t, 4, summary.Count)
    require.InDelta(t, 250, summary.AvgMicros, 0.01)
    require.InDelta(t, 100, summary.MinMicros, 0.01)
    require.InDelta(t, 400, summary.MaxMicros, 0.01)
    require.LessOrEqual(t, summary.P50Micros, summary.P95Micros)
    require.LessOrEqual(t, summary.P95Micros, summary.P99Micros)
}


// No samples yields a zero summary instead of an error.
func TestSummarizeLatencyEmpty(t *testing.T) {
    var r LatencyRecorder

    summary := SummarizeLatency([]*LatencyRecorder{&r})
    require.Zero(t, summary.Count)
    require.Zero(t, summary.AvgMicros)
}


// Reset drops the collected samples.
func TestLatencyRecorderReset(t *testing.T) {
    var r LatencyRecorder

    r.Add(time.Millisecond)
    require.Equal(t, 1, r.Count())

    r.reset()
    require.Zero(t, r.Count())
}
