// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

// Tests for NUMA topology parsing.

package numa

import "testing"

import "github.com/stretchr/testify/require"


// Single CPUs, ranges and combinations of both.
func TestParseCPUList(t *testing.T) {
    cpus, err := parseCPUList("0")
    require.NoError(t, err)
    require.Equal(t, []int{0}, cpus)

    cpus, err = parseCPUList("0-3")
    require.NoError(t, err)
    require.Equal(t, []int{0, 1, 2, 3}, cpus)

    cpus, err = parseCPUList("0-2,8-9,16")
    require.NoError(t, err)
    require.Equal(t, []int{0, 1, 2, 8, 9, 16}, cpus)
}


// Garbage input errors instead of silently binding to nothing.
func TestParseCPUListRejectsGarbage(t *testing.T) {
    _, err := parseCPUList("zero")
    require.Error(t, err)

    _, err = parseCPUList("1-x")
    require.Error(t, err)
}


// An empty list yields no CPUs and no error.
func TestParseCPUListEmpty(t *testing.T) {
    cpus, err := parseCPUList("")
    require.NoError(t, err)
    require.Empty(t, cpus)
}


// Binding to a zone that cannot exist fails with a decent message.
func TestBindToZoneInvalid(t *testing.T) {
    err := BindToZone(1 << 20)
    require.Error(t, err)
}
