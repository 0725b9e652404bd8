// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "fmt"
import "strings"

import "github.com/ceph/go-ceph/rados"
import "github.com/ceph/go-ceph/rbd"

import "github.com/eliottkespi/elbencho/logger"


/*
 * RbdTarget drives a Ceph RBD image through librbd, so raw image performance
 * can be measured without a kernel mount in between.  Images are expected to
 * exist already; we deliberately never create or remove them.
 */
type RbdTarget struct {
    uri string
    pool string
    imageName string
    client *rados.Conn
    ioctx *rados.IOContext
    image *rbd.Image
}


/* Ceph connection details that come from flags rather than the target URI. */
type RbdConfig struct {
    Monitor string
    Username string
    Key string
}


/*
 * Open a low-level Ceph connection.  Enables ceph debug logging if our logger
 * is set to trace mode.
 */
func newCephClient(cfg RbdConfig) (*rados.Conn, error) {
    client, err := rados.NewConnWithUser(cfg.Username)
    if err != nil {
        return nil, err
    }

    err = client.SetConfigOption("mon_host", cfg.Monitor)
    if err != nil {
        return nil, err
    }

    err = client.SetConfigOption("key", cfg.Key)
    if err != nil {
        return nil, err
    }

    if logger.IsTrace() {
        err = client.SetConfigOption("debug_rados", "20")
        if err != nil {
            return nil, err
        }

        err = client.SetConfigOption("log_to_stderr", "true")
        if err != nil {
            return nil, err
        }
    }

    logger.Infof("Creating rados client to %v as user %v\n", cfg.Monitor, cfg.Username)

    err = client.Connect()
    if err != nil {
        return nil, err
    }

    return client, nil
}


/* Open an "rbd://pool/image" target. */
func OpenRbdTarget(uri string, cfg RbdConfig) (*RbdTarget, error) {
    trimmed := strings.TrimPrefix(uri, "rbd://")
    pool, imageName, found := strings.Cut(trimmed, "/")

    if !found || (pool == "") || (imageName == "") {
        return nil, configErrorf("RBD target %v must have the form rbd://pool/image", uri)
    }

    client, err := newCephClient(cfg)
    if err != nil {
        return nil, err
    }

    ioctx, err := client.OpenIOContext(pool)
    if err != nil {
        client.Shutdown()
        return nil, err
    }

    image, err := rbd.OpenImage(ioctx, imageName, rbd.NoSnapshot)
    if err != nil {
        ioctx.Destroy()
        client.Shutdown()
        return nil, fmt.Errorf("Unable to open RBD image %v in pool %v: %w", imageName, pool, err)
    }

    logger.Debugf("Opened RBD image %v/%v\n", pool, imageName)

    t := &RbdTarget{
        uri: uri,
        pool: pool,
        imageName: imageName,
        client: client,
        ioctx: ioctx,
        image: image,
    }

    return t, nil
}


func (t *RbdTarget) Name() string {
    return t.uri
}


func (t *RbdTarget) Pread(p []byte, off int64) (int, error) {
    return t.image.ReadAt(p, off)
}


func (t *RbdTarget) Pwrite(p []byte, off int64) (int, error) {
    return t.image.WriteAt(p, off)
}


func (t *RbdTarget) Sync() error {
    return t.image.Flush()
}


func (t *RbdTarget) Size() (int64, error) {
    size, err := t.image.GetSize()
    return int64(size), err
}


func (t *RbdTarget) Remove() error {
    return fmt.Errorf("Refusing to delete RBD image %v", t.uri)
}


func (t *RbdTarget) Close() error {
    err := t.image.Close()

    t.ioctx.Destroy()
    t.client.Shutdown()

    return err
}
