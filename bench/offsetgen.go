// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "math/rand"


/*
 * A FileOffsetGenerator produces the sequence of (offset, length) pairs that a
 * worker consumes during one phase, bounded to the worker's assigned sub-range.
 *
 * The usual consumption pattern is:
 *
 *     for gen.BytesLeft() > 0 {
 *         length := gen.NextBlockSize()
 *         offset := gen.NextOffset()
 *         ... submit transfer ...
 *         gen.AddBytesSubmitted(n)
 *     }
 *
 * Generators live for one phase per worker and are never shared between
 * workers, so none of this needs locking.
 */
type FileOffsetGenerator interface {
    /* Next offset to submit.  Only valid while BytesLeft() > 0. */
    NextOffset() int64

    /* Size of the next transfer; normally the block size, clipped at the end
     * of the range for sequential access. */
    NextBlockSize() int64

    BytesLeft() int64
    BytesTotal() int64

    /* Record n bytes as submitted, advancing the generator. */
    AddBytesSubmitted(n int64)

    /* Rewind for the next file (directory mode iterates many small files). */
    Reset()
}


/*
 * Factory function that builds the right generator for the configuration.
 * rangeStart/rangeLen describe the worker's assignment; randGen is the
 * worker's own seeded source.
 */
func createOffsetGen(args *ProgArgs, randGen *rand.Rand, rangeLen int64, rangeStart int64) FileOffsetGenerator {
    blockSize := args.BlockSize

    if !args.UseRandomOffsets {
        return newOffsetGenSequential(rangeLen, rangeStart, blockSize)
    }

    if args.UseRandomAligned {
        return newOffsetGenRandomAligned(randGen, rangeLen, rangeStart, blockSize)
    }

    return newOffsetGenRandom(randGen, rangeLen, rangeStart, blockSize)
}


/* Sequential: monotonically increasing block-aligned offsets over the range. */
type offsetGenSequential struct {
    rangeStart int64
    rangeLen int64
    blockSize int64
    bytesSubmitted int64
}


func newOffsetGenSequential(rangeLen int64, rangeStart int64, blockSize int64) *offsetGenSequential {
    return &offsetGenSequential{
        rangeStart: rangeStart,
        rangeLen: rangeLen,
        blockSize: blockSize,
    }
}


func (g *offsetGenSequential) NextOffset() int64 {
    return g.rangeStart + g.bytesSubmitted
}


func (g *offsetGenSequential) NextBlockSize() int64 {
    left := g.BytesLeft()
    if left < g.blockSize {
        return left
    }

    return g.blockSize
}


func (g *offsetGenSequential) BytesLeft() int64 {
    return g.rangeLen - g.bytesSubmitted
}


func (g *offsetGenSequential) BytesTotal() int64 {
    return g.rangeLen
}


func (g *offsetGenSequential) AddBytesSubmitted(n int64) {
    g.bytesSubmitted += n
}


func (g *offsetGenSequential) Reset() {
    g.bytesSubmitted = 0
}


/*
 * Random aligned: uniform draws from the block-aligned offset lattice within
 * the range, with replacement.  Recurring offsets are fine; locality, not
 * uniqueness, is the property under test for device-level random access.
 */
type offsetGenRandomAligned struct {
    randGen *rand.Rand
    rangeStart int64
    rangeLen int64
    blockSize int64
    numBlocks int64
    bytesSubmitted int64
}


func newOffsetGenRandomAligned(randGen *rand.Rand, rangeLen int64, rangeStart int64, blockSize int64) *offsetGenRandomAligned {
    return &offsetGenRandomAligned{
        randGen: randGen,
        rangeStart: rangeStart,
        rangeLen: rangeLen,
        blockSize: blockSize,
        numBlocks: rangeLen / blockSize,
    }
}


func (g *offsetGenRandomAligned) NextOffset() int64 {
    return g.rangeStart + (g.randGen.Int63n(g.numBlocks) * g.blockSize)
}


func (g *offsetGenRandomAligned) NextBlockSize() int64 {
    // Only full blocks fit the aligned lattice; trailing partial bytes of the
    // range are not accessed in aligned random mode.
    return g.blockSize
}


func (g *offsetGenRandomAligned) BytesLeft() int64 {
    return (g.numBlocks * g.blockSize) - g.bytesSubmitted
}


func (g *offsetGenRandomAligned) BytesTotal() int64 {
    return g.numBlocks * g.blockSize
}


func (g *offsetGenRandomAligned) AddBytesSubmitted(n int64) {
    g.bytesSubmitted += n
}


func (g *offsetGenRandomAligned) Reset() {
    g.bytesSubmitted = 0
}


/* Random unaligned: uniform block-length-sized draws anywhere in the range. */
type offsetGenRandom struct {
    randGen *rand.Rand
    rangeStart int64
    rangeLen int64
    blockSize int64
    bytesSubmitted int64
}


func newOffsetGenRandom(randGen *rand.Rand, rangeLen int64, rangeStart int64, blockSize int64) *offsetGenRandom {
    return &offsetGenRandom{
        randGen: randGen,
        rangeStart: rangeStart,
        rangeLen: rangeLen,
        blockSize: blockSize,
    }
}


func (g *offsetGenRandom) NextOffset() int64 {
    return g.rangeStart + g.randGen.Int63n(g.rangeLen - g.blockSize + 1)
}


func (g *offsetGenRandom) NextBlockSize() int64 {
    left := g.BytesLeft()
    if left < g.blockSize {
        return left
    }

    return g.blockSize
}


func (g *offsetGenRandom) BytesLeft() int64 {
    return g.rangeLen - g.bytesSubmitted
}


func (g *offsetGenRandom) BytesTotal() int64 {
    return g.rangeLen
}


func (g *offsetGenRandom) AddBytesSubmitted(n int64) {
    g.bytesSubmitted += n
}


func (g *offsetGenRandom) Reset() {
    g.bytesSubmitted = 0
}


/* Sanity checks shared by all generator constructions. */
func checkOffsetGenArgs(args *ProgArgs, rangeLen int64) error {
    if args.BlockSize <= 0 {
        return configErrorf("Block size must be positive: %v", args.BlockSize)
    }

    if args.UseRandomOffsets && (rangeLen < args.BlockSize) {
        return configErrorf("Range of %v bytes is smaller than one %v byte block, "+
            "so random offsets cannot be generated", rangeLen, args.BlockSize)
    }

    return nil
}
