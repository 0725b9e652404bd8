// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package gpu

import "fmt"


/*
 * The emulated device keeps "device" buffers in ordinary host memory.  It
 * enforces the same usage rules a real device would: buffers must not be used
 * after Free, handles must not be used after Deregister, and direct transfers
 * must fit the buffer.
 */
type emulatedDevice struct {
    numHandles int
}


func (d *emulatedDevice) Name() string {
    return "emulated"
}


func (d *emulatedDevice) AllocBuffer(size int) (Buffer, error) {
    if size <= 0 {
        return nil, fmt.Errorf("Invalid GPU buffer size: %v", size)
    }

    return &emulatedBuffer{mem: make([]byte, size)}, nil
}


func (d *emulatedDevice) RegisterHandle(io PositionalIO) (Handle, error) {
    if io == nil {
        return nil, fmt.Errorf("Cannot register nil storage descriptor")
    }

    d.numHandles++
    return &emulatedHandle{dev: d, io: io, registered: true}, nil
}


type emulatedBuffer struct {
    mem []byte
}


func (b *emulatedBuffer) Size() int {
    return len(b.mem)
}


func (b *emulatedBuffer) CopyFromHost(src []byte) error {
    if b.mem == nil {
        return fmt.Errorf("GPU buffer used after Free")
    }

    if len(src) > len(b.mem) {
        return fmt.Errorf("Host-to-device copy of %v bytes exceeds buffer size %v", len(src), len(b.mem))
    }

    copy(b.mem, src)
    return nil
}


func (b *emulatedBuffer) CopyToHost(dst []byte) error {
    if b.mem == nil {
        return fmt.Errorf("GPU buffer used after Free")
    }

    if len(dst) > len(b.mem) {
        return fmt.Errorf("Device-to-host copy of %v bytes exceeds buffer size %v", len(dst), len(b.mem))
    }

    copy(dst, b.mem)
    return nil
}


func (b *emulatedBuffer) Free() {
    b.mem = nil
}


type emulatedHandle struct {
    dev *emulatedDevice
    io PositionalIO
    registered bool
}


func (h *emulatedHandle) ReadDirect(buf Buffer, count int, off int64) (int, error) {
    if !h.registered {
        return 0, fmt.Errorf("Direct read on deregistered GPU handle")
    }

    eb, ok := buf.(*emulatedBuffer)
    if !ok || eb.mem == nil {
        return 0, fmt.Errorf("Direct read needs a live emulated buffer")
    }

    if count > len(eb.mem) {
        return 0, fmt.Errorf("Direct read of %v bytes exceeds buffer size %v", count, len(eb.mem))
    }

    return h.io.Pread(eb.mem[:count], off)
}


func (h *emulatedHandle) WriteDirect(buf Buffer, count int, off int64) (int, error) {
    if !h.registered {
        return 0, fmt.Errorf("Direct write on deregistered GPU handle")
    }

    eb, ok := buf.(*emulatedBuffer)
    if !ok || eb.mem == nil {
        return 0, fmt.Errorf("Direct write needs a live emulated buffer")
    }

    if count > len(eb.mem) {
        return 0, fmt.Errorf("Direct write of %v bytes exceeds buffer size %v", count, len(eb.mem))
    }

    return h.io.Pwrite(eb.mem[:count], off)
}


func (h *emulatedHandle) Deregister() {
    if h.registered {
        h.registered = false
        h.dev.numHandles--
    }
}
