// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package numa

import "fmt"
import "os"
import "strconv"
import "strings"

import "golang.org/x/sys/unix"


const sysNodePath = "/sys/devices/system/node"


/*
 * Whether the kernel exposes NUMA topology at all.  Probed once and cached;
 * absence cleanly degrades to the no-binding path.
 */
var numaAvailable bool
var probeDone bool


func IsAvailable() bool {
    if !probeDone {
        _, err := os.Stat(sysNodePath + "/node0")
        numaAvailable = (err == nil)
        probeDone = true
    }

    return numaAvailable
}


/* List the NUMA zone numbers present on this machine. */
func ListZones() ([]int, error) {
    entries, err := os.ReadDir(sysNodePath)
    if err != nil {
        return nil, fmt.Errorf("Unable to read NUMA topology: %v", err)
    }

    var zones []int
    for _, e := range entries {
        if !strings.HasPrefix(e.Name(), "node") {
            continue
        }

        zone, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "node"))
        if err != nil {
            continue
        }

        zones = append(zones, zone)
    }

    return zones, nil
}


/*
 * Bind the calling thread to the CPUs of the given NUMA zone.  The caller is
 * expected to have locked itself to an OS thread first, since affinity is a
 * thread property.
 */
func BindToZone(zone int) error {
    cpuListPath := fmt.Sprintf("%v/node%v/cpulist", sysNodePath, zone)

    data, err := os.ReadFile(cpuListPath)
    if err != nil {
        return fmt.Errorf("Invalid NUMA zone %v: %v", zone, err)
    }

    cpus, err := parseCPUList(strings.TrimSpace(string(data)))
    if err != nil {
        return fmt.Errorf("Unable to parse CPU list for NUMA zone %v: %v", zone, err)
    }

    var set unix.CPUSet
    for _, cpu := range cpus {
        set.Set(cpu)
    }

    err = unix.SchedSetaffinity(0, &set)
    if err != nil {
        return fmt.Errorf("Binding to NUMA zone %v failed: %v", zone, err)
    }

    return nil
}


/* Parse a kernel CPU list of the form "0-3,8-11,16". */
func parseCPUList(list string) ([]int, error) {
    var cpus []int

    for _, part := range strings.Split(list, ",") {
        if part == "" {
            continue
        }

        lo, hi, found := strings.Cut(part, "-")
        first, err := strconv.Atoi(lo)
        if err != nil {
            return nil, err
        }

        last := first
        if found {
            last, err = strconv.Atoi(hi)
            if err != nil {
                return nil, err
            }
        }

        for cpu := first; cpu <= last; cpu++ {
            cpus = append(cpus, cpu)
        }
    }

    return cpus, nil
}
