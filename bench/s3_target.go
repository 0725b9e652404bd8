// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "bytes"
import "fmt"
import "io"
import "strings"

import "github.com/aws/aws-sdk-go/aws"
import "github.com/aws/aws-sdk-go/aws/credentials"
import "github.com/aws/aws-sdk-go/aws/session"
import "github.com/aws/aws-sdk-go/service/s3"

import "github.com/eliottkespi/elbencho/logger"


/*
 * S3Target maps positional I/O onto an object store: the byte range is split
 * into block-sized objects, one per aligned offset, named <prefix>/b<index>.
 * Writes put whole objects; reads fetch them back, with a ranged GET when the
 * request does not cover a full block.
 *
 * S3 has no byte-addressable writes, so this target requires aligned access
 * (sequential or random-aligned); ProgArgs validation enforces that.
 */
type S3Target struct {
    uri string
    bucket string
    prefix string
    blockSize int64
    client *s3.S3
}


/* S3 connection details that come from flags rather than the target URI. */
type S3Config struct {
    Endpoint string
    AccessKey string
    SecretKey string
    Region string
}


/* Open an "s3://bucket/prefix" target. */
func OpenS3Target(uri string, cfg S3Config, blockSize int64) (*S3Target, error) {
    trimmed := strings.TrimPrefix(uri, "s3://")
    bucket, prefix, _ := strings.Cut(trimmed, "/")

    if bucket == "" {
        return nil, configErrorf("S3 target %v carries no bucket name", uri)
    }

    if cfg.AccessKey == "" || cfg.SecretKey == "" {
        return nil, configErrorf("S3 access key and secret key must both be provided")
    }

    region := cfg.Region
    if region == "" {
        region = "us-east-1"
    }

    creds := credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")

    awsConfig := aws.NewConfig()
    awsConfig = awsConfig.WithRegion(region)
    awsConfig = awsConfig.WithCredentials(creds)
    awsConfig = awsConfig.WithS3ForcePathStyle(true)

    if cfg.Endpoint != "" {
        awsConfig = awsConfig.WithEndpoint(cfg.Endpoint)
        awsConfig = awsConfig.WithDisableSSL(!strings.HasPrefix(cfg.Endpoint, "https"))
    }

    sess, err := session.NewSession()
    if err != nil {
        return nil, err
    }

    logger.Infof("Creating S3 connection for bucket %v\n", bucket)

    t := &S3Target{
        uri: uri,
        bucket: bucket,
        prefix: prefix,
        blockSize: blockSize,
        client: s3.New(sess, awsConfig),
    }

    return t, nil
}


func (t *S3Target) Name() string {
    return t.uri
}


/* Object key for the block containing the given offset. */
func (t *S3Target) blockKey(off int64) string {
    key := fmt.Sprintf("b%v", off / t.blockSize)
    if t.prefix != "" {
        key = t.prefix + "/" + key
    }

    return key
}


func (t *S3Target) Pread(p []byte, off int64) (int, error) {
    key := t.blockKey(off)
    input := &s3.GetObjectInput{Bucket: aws.String(t.bucket), Key: aws.String(key)}

    // Partial block: ask for the byte range within the object.
    inBlockOff := off % t.blockSize
    if (inBlockOff != 0) || (int64(len(p)) < t.blockSize) {
        input.Range = aws.String(fmt.Sprintf("bytes=%v-%v", inBlockOff, inBlockOff + int64(len(p)) - 1))
    }

    obj, err := t.client.GetObject(input)
    if err != nil {
        return 0, err
    }

    defer obj.Body.Close()

    n, err := io.ReadFull(obj.Body, p)
    if err == io.ErrUnexpectedEOF {
        err = nil // short object; report the bytes we got, like pread at EOF
    }

    return n, err
}


func (t *S3Target) Pwrite(p []byte, off int64) (int, error) {
    if off % t.blockSize != 0 {
        return 0, fmt.Errorf("S3 writes must be block-aligned: offset %v, block size %v", off, t.blockSize)
    }

    key := t.blockKey(off)
    logger.Tracef("Put S3 object %v on %v with size %v\n", key, t.bucket, len(p))

    _, err := t.client.PutObject(&s3.PutObjectInput{
        Body: bytes.NewReader(p),
        Bucket: aws.String(t.bucket),
        Key: aws.String(key),
    })

    if err != nil {
        return 0, err
    }

    return len(p), nil
}


func (t *S3Target) Sync() error {
    // Puts are durable on completion; nothing buffered on our side.
    return nil
}


func (t *S3Target) Size() (int64, error) {
    objects, err := t.listObjects()
    if err != nil {
        return 0, err
    }

    return int64(len(objects)) * t.blockSize, nil
}


func (t *S3Target) listObjects() ([]string, error) {
    input := &s3.ListObjectsInput{Bucket: aws.String(t.bucket)}
    if t.prefix != "" {
        input.Prefix = aws.String(t.prefix + "/")
    }

    result, err := t.client.ListObjects(input)
    if err != nil {
        return nil, err
    }

    var objects []string
    for _, o := range result.Contents {
        objects = append(objects, aws.StringValue(o.Key))
    }

    return objects, nil
}


func (t *S3Target) Remove() error {
    objKeys, err := t.listObjects()
    if err != nil {
        return err
    }

    if len(objKeys) == 0 {
        return nil
    }

    objs := make([]*s3.ObjectIdentifier, len(objKeys))
    for i, key := range objKeys {
        objs[i] = &s3.ObjectIdentifier{Key: aws.String(key)}
    }

    var items s3.Delete
    items.SetObjects(objs)

    _, err = t.client.DeleteObjects(&s3.DeleteObjectsInput{
        Bucket: aws.String(t.bucket),
        Delete: &items,
    })

    return err
}


func (t *S3Target) Close() error {
    // S3 is stateless; there is no connection to tear down.
    return nil
}
