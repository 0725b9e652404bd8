// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

/*
 * Package gpu is the seam between the benchmark core and GPU-resident I/O
 * buffers.  The core only needs four things from a device: buffer allocation,
 * memcpy in both directions, and per-descriptor handle register/deregister for
 * direct storage-to-device transfers (the cuFile-style path).
 *
 * Real CUDA bindings are deliberately not part of this build.  Detect() probes
 * for a device once and reports ErrNotAvailable where there is none, so the
 * caller degrades to the CPU-buffer strategy; Emulated() provides a host-memory
 * device that preserves the full copy/register semantics for pipeline
 * validation and tests.
 */
package gpu

import "errors"
import "fmt"
import "os"


var ErrNotAvailable = errors.New("no GPU device available")


/* PositionalIO is what a device needs from a storage target to serve direct
 * transfers: positional read and write, as in pread/pwrite. */
type PositionalIO interface {
    Pread(p []byte, off int64) (int, error)
    Pwrite(p []byte, off int64) (int, error)
}


type Device interface {
    Name() string

    /* Allocate a device-resident buffer of the given size. */
    AllocBuffer(size int) (Buffer, error)

    /* Register a storage descriptor for direct transfers.  The returned handle
     * must be deregistered by the same worker before the descriptor closes. */
    RegisterHandle(io PositionalIO) (Handle, error)
}


type Buffer interface {
    Size() int

    /* Host-to-device copy, and the reverse. */
    CopyFromHost(src []byte) error
    CopyToHost(dst []byte) error

    Free()
}


/* A registered (descriptor, device) pair for direct transfers. */
type Handle interface {
    /* Move count bytes between the storage offset and the device buffer,
     * bypassing the host buffer.  Returns bytes transferred. */
    ReadDirect(buf Buffer, count int, off int64) (int, error)
    WriteDirect(buf Buffer, count int, off int64) (int, error)

    Deregister()
}


var detectDone bool
var detectErr error


/*
 * Probe for a usable GPU.  The result is cached; this build carries no CUDA
 * bindings, so a present device still reports ErrNotAvailable rather than
 * pretending it could be driven.
 */
func Detect() (Device, error) {
    if !detectDone {
        detectDone = true

        if _, err := os.Stat("/dev/nvidiactl"); err != nil {
            detectErr = ErrNotAvailable
        } else {
            detectErr = fmt.Errorf("GPU present but this build has no CUDA support: %w", ErrNotAvailable)
        }
    }

    return nil, detectErr
}


/* A host-memory device honouring the full Device contract. */
func Emulated() Device {
    return &emulatedDevice{}
}
