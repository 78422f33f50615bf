// Package cache implements the disk-backed LRU index: a hash-keyed table plus
// an arena-backed recency chain over files stored in a hash-sharded directory
// tree (<CacheDir>/<c0>/<c1>/<c2>/<hash>). The Index bounds total usage by a
// block budget (512-byte units, matching st_blocks), evicts the oldest entry
// first, and rebuilds itself from filesystem metadata alone via Resync, so the
// tree on disk is the only durable record. Physical byte movement, metadata
// lookups and key hashing go through the Transfer, Filesystem and Hasher
// interfaces so handlers and tests can swap them.
package cache
