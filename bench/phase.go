// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "github.com/google/uuid"


/* The set of benchmark phases that the manager can start.  Exactly one phase is
 * active at a time; all workers observe the same sequence of phases. */
type BenchPhase int
const (
    BP_Idle BenchPhase = iota
    BP_CreateDirs
    BP_DeleteDirs
    BP_CreateFiles
    BP_ReadFiles
    BP_StatFiles
    BP_DeleteFiles
    BP_Sync
    BP_Terminate
)


func (p BenchPhase) ToString() string {
    switch p {
        case BP_Idle:         return "Idle"
        case BP_CreateDirs:   return "CreateDirs"
        case BP_DeleteDirs:   return "DeleteDirs"
        case BP_CreateFiles:  return "Write"
        case BP_ReadFiles:    return "Read"
        case BP_StatFiles:    return "Stat"
        case BP_DeleteFiles:  return "Delete"
        case BP_Sync:         return "Sync"
        case BP_Terminate:    return "Terminate"
        default:              return "Unknown BenchPhase"
    }
}


/*
 * A PhaseID is minted fresh by the manager each time a phase starts, so that a
 * worker can tell "a new phase began" apart from "the same phase continues"
 * when it wakes up on the shared condition variable.
 */
type PhaseID = uuid.UUID

var nilPhaseID = uuid.Nil


func newPhaseID() PhaseID {
    return uuid.New()
}
