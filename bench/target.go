// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "fmt"
import "io"
import "os"

import "golang.org/x/sys/unix"

import "github.com/eliottkespi/elbencho/logger"


/* What kind of paths a phase operates on.  All bench paths of one run must be
 * of the same type. */
type BenchPathType int
const (
    PT_File BenchPathType = iota
    PT_Dir
    PT_BlockDev
    PT_S3
    PT_Rbd
)


func (t BenchPathType) ToString() string {
    switch t {
        case PT_File:      return "File"
        case PT_Dir:       return "Dir"
        case PT_BlockDev:  return "BlockDev"
        case PT_S3:        return "S3"
        case PT_Rbd:       return "Rbd"
        default:           return "Unknown BenchPathType"
    }
}


/*
 * Target is the abstraction of one storage endpoint a worker transfers against:
 * a plain file, a raw block device, an S3 bucket range or an RBD image.  All
 * access is positional, so one target may be shared by many workers, each
 * staying inside its own offset range.
 */
type Target interface {
    /* The path or URI this target was opened from, for convenience. */
    Name() string

    Pread(p []byte, off int64) (int, error)
    Pwrite(p []byte, off int64) (int, error)

    /* Flush outstanding writes to stable storage. */
    Sync() error

    Size() (int64, error)

    /* Remove the underlying object(s); used by the delete phase. */
    Remove() error

    Close() error
}


/* A unix file descriptor with positional I/O, for files and block devices. */
type FileDescriptor int

func (fd FileDescriptor) Pread(p []byte, off int64) (int, error) {
    return unix.Pread(int(fd), p, off)
}

func (fd FileDescriptor) Pwrite(p []byte, off int64) (int, error) {
    return unix.Pwrite(int(fd), p, off)
}

func (fd FileDescriptor) Fsync() error {
    return unix.Fsync(int(fd))
}

func (fd FileDescriptor) Size() (int64, error) {
    var stat unix.Stat_t

    err := unix.Fstat(int(fd), &stat)
    if err != nil {
        return 0, err
    }

    // Block devices report zero st_size; ask the fd for its end instead.
    if stat.Size == 0 {
        return unix.Seek(int(fd), 0, io.SeekEnd)
    }

    return stat.Size, nil
}

func (fd FileDescriptor) Close() error {
    if fd >= 0 {
        return unix.Close(int(fd))
    }

    return nil
}


/* FileTarget covers both regular files and raw block devices. */
type FileTarget struct {
    path string
    pathType BenchPathType
    fd FileDescriptor
}


/*
 * Open a file or block device target.  forWrite controls creation; useDirectIO
 * adds O_DIRECT so the page cache stays out of the measurement.
 */
func OpenFileTarget(path string, pathType BenchPathType, forWrite bool, useDirectIO bool) (*FileTarget, error) {
    flags := unix.O_RDONLY
    if forWrite {
        flags = unix.O_RDWR
        if pathType == PT_File {
            flags |= unix.O_CREAT
        }
    }

    if useDirectIO {
        flags |= unix.O_DIRECT
    }

    fd, err := unix.Open(path, flags, 0644)
    if err != nil {
        return nil, fmt.Errorf("Unable to open %v: %w", path, err)
    }

    logger.Debugf("Opened target %v (type %v, fd %v)\n", path, pathType.ToString(), fd)

    return &FileTarget{path: path, pathType: pathType, fd: FileDescriptor(fd)}, nil
}


func (t *FileTarget) Name() string {
    return t.path
}


func (t *FileTarget) Pread(p []byte, off int64) (int, error) {
    return t.fd.Pread(p, off)
}


func (t *FileTarget) Pwrite(p []byte, off int64) (int, error) {
    return t.fd.Pwrite(p, off)
}


func (t *FileTarget) Sync() error {
    return t.fd.Fsync()
}


func (t *FileTarget) Size() (int64, error) {
    return t.fd.Size()
}


func (t *FileTarget) Remove() error {
    if t.pathType == PT_BlockDev {
        return fmt.Errorf("Refusing to delete block device %v", t.path)
    }

    return os.Remove(t.path)
}


func (t *FileTarget) Close() error {
    err := t.fd.Close()
    t.fd = -1
    return err
}


/*
 * Make sure a block device is big enough for the configured working set, so
 * that we can fail fast with a decent message instead of erroring mid-phase.
 */
func checkBlockDevSize(t *FileTarget, neededBytes int64) error {
    size, err := t.Size()
    if err != nil {
        return err
    }

    if size < neededBytes {
        return configErrorf("Block device %v too small: only %v bytes when we need %v",
            t.path, size, neededBytes)
    }

    return nil
}
