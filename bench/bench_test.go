// Package bench provides reproducible micro-benchmarks for the local file
// cache.  Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a single relation shape so results are
// comparable across versions.  We measure:
//   1. Write        – write-only workload
//   2. Read         – read-only workload (after warm-up)
//   3. ReadParallel – highly concurrent reads (b.RunParallel)
//   4. Contains     – lookup without data movement
//
// NOTE: unit tests live next to the packages; this file is only for
// performance.
//
// © 2025 pagecache authors. MIT License.
package bench

import (
	"math/rand"
	"testing"

	"github.com/Voskan/pagecache/pkg/buftag"
	"github.com/Voskan/pagecache/pkg/lfc"
)

const cacheMB = 64

func newBenchCache(b *testing.B) *lfc.Cache {
	c, err := lfc.New(lfc.Config{
		MaxFileCacheSizeMB:   cacheMB,
		MaxInmemCacheSizeMB:  cacheMB,
		FileCacheSizeLimitMB: cacheMB,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = c.Close() })
	return c
}

func benchTag(blk uint32) buftag.Tag {
	return buftag.Tag{
		Rnode:    buftag.RelFileNode{SpcNode: 1663, DbNode: 1, RelNode: 16384},
		ForkNum:  buftag.MainFork,
		BlockNum: blk,
	}
}

func BenchmarkWrite(b *testing.B) {
	c := newBenchCache(b)
	page := make([]byte, lfc.PageSize)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Write(benchTag(uint32(i)), page)
	}
}

func BenchmarkRead(b *testing.B) {
	c := newBenchCache(b)
	page := make([]byte, lfc.PageSize)
	nResident := uint32(cacheMB / 2 * lfc.BlocksPerChunk)
	for blk := uint32(0); blk < nResident; blk++ {
		c.Write(benchTag(blk), page)
	}
	buf := make([]byte, lfc.PageSize)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Read(benchTag(uint32(i)%nResident), buf)
	}
}

func BenchmarkReadParallel(b *testing.B) {
	c := newBenchCache(b)
	page := make([]byte, lfc.PageSize)
	nResident := uint32(cacheMB / 2 * lfc.BlocksPerChunk)
	for blk := uint32(0); blk < nResident; blk++ {
		c.Write(benchTag(blk), page)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		buf := make([]byte, lfc.PageSize)
		rng := rand.New(rand.NewSource(1))
		for pb.Next() {
			c.Read(benchTag(uint32(rng.Intn(int(nResident)))), buf)
		}
	})
}

func BenchmarkContains(b *testing.B) {
	c := newBenchCache(b)
	page := make([]byte, lfc.PageSize)
	nResident := uint32(cacheMB / 2 * lfc.BlocksPerChunk)
	for blk := uint32(0); blk < nResident; blk++ {
		c.Write(benchTag(blk), page)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Contains(benchTag(uint32(i) % (2 * nResident)))
	}
}
