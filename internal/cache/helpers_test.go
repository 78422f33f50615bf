package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// sizeFS wraps OSFilesystem but derives block counts from the file length so
// tests do not depend on the host filesystem's allocation granularity.
type sizeFS struct {
	OSFilesystem

	mu         sync.Mutex
	failUnlink map[string]error
}

func newSizeFS() *sizeFS {
	return &sizeFS{OSFilesystem: NewOSFilesystem(), failUnlink: map[string]error{}}
}

func (f *sizeFS) Stat(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Blocks: blocksFor(info.Size()), ModTime: info.ModTime()}, nil
}

func (f *sizeFS) Unlink(path string) error {
	f.mu.Lock()
	err, ok := f.failUnlink[filepath.Base(path)]
	f.mu.Unlock()
	if ok {
		return err
	}
	return f.OSFilesystem.Unlink(path)
}

func (f *sizeFS) failUnlinkFor(hash string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUnlink[hash] = err
}

func (f *sizeFS) clearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUnlink = map[string]error{}
}

// failingTransfer rejects every operation with the configured error.
type failingTransfer struct {
	err error
}

func (f failingTransfer) Copy(src, dst string) error { return f.err }
func (f failingTransfer) Move(src, dst string) error { return f.err }
func (f failingTransfer) Link(src, dst string) error { return f.err }

// stepClock advances by one second on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testIndex struct {
	*Index
	fs     *sizeFS
	srcDir string
}

func newTestIndex(t *testing.T, opts ...Option) *testIndex {
	t.Helper()
	fsys := newSizeFS()
	clock := newStepClock()
	base := []Option{WithFilesystem(fsys), WithClock(clock.Now)}
	x, err := New(t.TempDir(), append(base, opts...)...)
	require.NoError(t, err)
	return &testIndex{Index: x, fs: fsys, srcDir: t.TempDir()}
}

// source writes size bytes derived from name into the source directory.
func (ti *testIndex) source(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(ti.srcDir, name)
	payload := []byte(strings.Repeat(name, size/len(name)+1))[:size]
	require.NoError(t, os.WriteFile(path, payload, 0o644))
	return path
}

func (ti *testIndex) add(t *testing.T, hash string, size int) string {
	t.Helper()
	path, err := ti.Add(ti.source(t, "src-"+hash, size), hash, ModeCopy)
	require.NoError(t, err)
	return path
}

func hashes(entries []EntryInfo) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Hash
	}
	return out
}

// checkInvariants walks the chain and compares it against the table and the
// running total.
func checkInvariants(t *testing.T, x *Index) {
	t.Helper()
	x.mu.Lock()
	defer x.mu.Unlock()

	if len(x.table) == 0 {
		require.Equal(t, none, x.chain.oldest)
		require.Equal(t, none, x.chain.newest)
	}

	seen := map[string]bool{}
	var sum int64
	prev := none
	var last time.Time
	steps := 0
	for i := x.chain.oldest; i != none; i = x.chain.at(i).next {
		steps++
		require.LessOrEqual(t, steps, len(x.table), "chain longer than table: cycle")
		e := x.chain.at(i)
		require.Equal(t, prev, e.prev)
		require.False(t, seen[e.hash], "duplicate %s", e.hash)
		seen[e.hash] = true
		slot, ok := x.table[e.hash]
		require.True(t, ok)
		require.Equal(t, i, slot)
		require.False(t, e.lastAccess.Before(last), "chain out of access order at %s", e.hash)
		last = e.lastAccess
		sum += e.blocks
		prev = i
	}
	require.Equal(t, prev, x.chain.newest)
	require.Len(t, seen, len(x.table))
	require.Equal(t, len(x.table), x.chain.size)
	require.Equal(t, sum, x.totalBlocks)
}

var errInjected = errors.New("injected failure")
