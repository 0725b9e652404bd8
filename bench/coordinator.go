// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "fmt"
import "os"
import "os/signal"
import "syscall"

import "github.com/eliottkespi/elbencho/logger"


/*
 * Coordinator runs one complete benchmark: target setup, worker pool
 * preparation, the configured phase sequence, and teardown.  SIGINT and
 * SIGTERM translate into a cooperative interruption of the pool, so a ^C
 * still ends with joined threads and closed targets.
 */
type Coordinator struct {
    progArgs *ProgArgs
    manager *WorkerManager
    report Report
}


func NewCoordinator(progArgs *ProgArgs) *Coordinator {
    return &Coordinator{
        progArgs: progArgs,
        manager: NewWorkerManager(progArgs),
    }
}


func (c *Coordinator) Report() *Report {
    return &c.report
}


func (c *Coordinator) Run() error {
    err := c.progArgs.OpenTargets()
    if err != nil {
        return err
    }

    defer c.progArgs.CloseTargets()

    sigChan := make(chan os.Signal, 1)
    signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

    // Stop delivery before closing, so the signal package never sends on a
    // closed channel.
    defer func() {
        signal.Stop(sigChan)
        close(sigChan)
    }()

    go func() {
        sig, ok := <-sigChan
        if !ok {
            return
        }

        logger.Warnf("Received %v, interrupting workers\n", sig)
        c.manager.InterruptAndNotifyWorkers()
    }()

    err = c.manager.PrepareThreads()
    if err != nil {
        c.manager.InterruptAndNotifyWorkers()
        c.manager.JoinAllThreads()
        return err
    }

    runErr := c.runPhases()

    c.manager.StartNextPhase(BP_Terminate, nil)
    c.manager.JoinAllThreads()

    return runErr
}


func (c *Coordinator) runPhases() error {
    for _, phase := range c.progArgs.PhaseSequence() {
        if c.manager.IsInterrupted() {
            return ErrInterrupted
        }

        result := c.runPhase(phase)
        c.report.AddPhase(result)

        if result.NumWorkerErrors > 0 {
            return fmt.Errorf("%v workers failed during %v phase",
                result.NumWorkerErrors, phase.ToString())
        }

        if result.Cause == PEC_Interrupted {
            return ErrInterrupted
        }

        // A phase cut short by the time limit still produced valid numbers;
        // later phases would operate on incomplete data, so stop here.
        if result.Cause == PEC_TimeLimit {
            return fmt.Errorf("%v phase ended by time limit", phase.ToString())
        }
    }

    return nil
}


func (c *Coordinator) runPhase(phase BenchPhase) PhaseResult {
    m := c.manager

    m.StartNextPhase(phase, nil)
    cause, numErrors := m.WaitForWorkersDone()

    numEntries, numBytes := m.GetPhaseNumEntriesAndBytes()
    stoneWallElapsed, stoneWallOps, captured := m.GetPhaseStoneWall()

    var numIOPS uint64
    for _, worker := range m.Workers() {
        numIOPS += worker.LiveSnapshot().NumIOPSDone
    }

    var ioRecorders []*LatencyRecorder
    var entryRecorders []*LatencyRecorder
    for _, worker := range m.Workers() {
        ioRecorders = append(ioRecorders, worker.IOLatency())
        entryRecorders = append(entryRecorders, worker.EntryLatency())
    }

    return PhaseResult{
        Phase: phase,
        Cause: cause,
        Elapsed: m.GetPhaseElapsed(),
        NumEntries: numEntries,
        NumBytes: numBytes,
        NumIOPS: numIOPS,
        NumWorkerErrors: numErrors,
        StoneWallCaptured: captured,
        StoneWallElapsed: stoneWallElapsed,
        StoneWallOps: stoneWallOps,
        IOLatency: SummarizeLatency(ioRecorders),
        EntryLatency: SummarizeLatency(entryRecorders),
    }
}
