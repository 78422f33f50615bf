package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// IncomingDir 是缓存根目录下保留给上传暂存的子目录，Resync 不会进入。
const IncomingDir = ".incoming"

// Index 是磁盘 LRU 的内存索引：hash → arena 槽位的查找表，加上一条
// oldest → newest 的访问顺序链，以及按块统计的总占用。
// 所有公开方法在同一把互斥锁内完成，链表重排、容量统计与对应的磁盘操作
// 对其它调用方表现为一个原子单元。
type Index struct {
	dir      string
	depth    int
	maxBytes int64

	mapper   *PathMapper
	fs       Filesystem
	transfer Transfer
	logger   logrus.FieldLogger
	now      func() time.Time
	onEvict  func(Eviction)

	mu          sync.Mutex
	table       map[string]int32
	chain       chain
	totalBlocks int64
	maxBlocks   int64
	ready       bool
	stats       Stats
}

// Stats 汇总索引当前状态与累计计数。
type Stats struct {
	Entries        int   `json:"entries"`
	TotalBlocks    int64 `json:"total_blocks"`
	MaxBlocks      int64 `json:"max_blocks"`
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Evictions      int64 `json:"evictions"`
	EvictionErrors int64 `json:"eviction_errors"`
	Ready          bool  `json:"ready"`
}

// EntryInfo 是对外暴露的条目快照。
type EntryInfo struct {
	Hash       string    `json:"hash"`
	Blocks     int64     `json:"blocks"`
	LastAccess time.Time `json:"last_access"`
}

// New 以 dir 为根目录构建索引并立即执行一次 Resync。dir 必须已存在。
func New(dir string, opts ...Option) (*Index, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: cache dir is empty", ErrInvalidConfiguration)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve cache dir: %v", ErrInvalidConfiguration, err)
	}

	x := &Index{
		dir:      abs,
		depth:    DefaultShardDepth,
		maxBytes: DefaultMaxBytes,
		fs:       NewOSFilesystem(),
		transfer: OSTransfer{},
		logger:   discardLogger(),
		now:      time.Now,
		table:    make(map[string]int32),
		chain:    newChain(),
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.maxBytes < BlockSize {
		return nil, fmt.Errorf("%w: max size %d smaller than one block", ErrInvalidConfiguration, x.maxBytes)
	}
	x.maxBlocks = x.maxBytes / BlockSize

	if !x.fs.Exists(abs) {
		return nil, fmt.Errorf("%w: cache dir %s does not exist", ErrInvalidConfiguration, abs)
	}

	x.mapper, err = NewPathMapper(abs, x.depth, x.fs)
	if err != nil {
		return nil, err
	}

	if err := x.Resync(); err != nil {
		return nil, err
	}
	return x, nil
}

// Dir 返回缓存根目录的绝对路径。
func (x *Index) Dir() string {
	return x.dir
}

// Mapper 暴露路径映射器，供上层计算暂存目录等辅助路径。
func (x *Index) Mapper() *PathMapper {
	return x.mapper
}

// Get 查找 hash 对应的缓存文件并将其提升为 newest。
// 未命中返回 ErrNotFound；索引存在但文件缺失返回 ErrInconsistentCache。
// 命中后同样会执行容量检查：若该条目本身就超出预算（例如 Resync 后未 Trim），
// 它可能在返回前即被淘汰，此时返回的路径已不存在，调用方打开失败应按未命中处理。
func (x *Index) Get(hash string) (string, error) {
	path, err := x.mapper.Path(hash)
	if err != nil {
		return "", err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.ready {
		return "", ErrNotReady
	}

	slot, ok := x.table[hash]
	if !ok {
		x.stats.Misses++
		return "", ErrNotFound
	}

	if !x.fs.Exists(path) {
		x.logger.WithFields(logrus.Fields{
			"action": "get",
			"hash":   hash,
			"path":   path,
		}).Warn("cache_inconsistent")
		return "", fmt.Errorf("%w: %s missing on disk", ErrInconsistentCache, hash)
	}

	x.touchLocked(slot)
	x.stats.Hits++
	x.enforceBudgetLocked()
	return path, nil
}

// Add 将 src 以指定模式放入缓存并以 hash 建立索引，返回缓存文件路径。
// hash 已存在时只刷新访问时间并提升为 newest，不会重新计量大小。
// 传输失败时返回 *TransferError，索引保持不变。
func (x *Index) Add(src, hash string, mode Mode) (string, error) {
	if err := ValidateKey(hash); err != nil {
		return "", err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.ready {
		return "", ErrNotReady
	}

	dst, err := x.mapper.Ensure(hash)
	if err != nil {
		return "", err
	}
	if filepath.Clean(src) == dst {
		return "", &TransferError{Op: mode.String(), Src: src, Dst: dst, Err: errors.New("source is the cached file itself")}
	}

	// 必须在传输之前读取源文件大小，move 之后源路径就不存在了。
	info, err := x.fs.Stat(src)
	if err != nil {
		return "", newTransferError("stat", src, "", err)
	}
	// 目录或符号链接进入分片树后，下一次 Resync 会判定为 corrupt tree。
	kind, err := x.fs.Kind(src)
	if err != nil {
		return "", newTransferError("stat", src, "", err)
	}
	if kind != EntryFile {
		return "", newTransferError("stat", src, "", fmt.Errorf("%w: %s", ErrNotRegularFile, kind))
	}

	if x.fs.Exists(dst) {
		if err := x.fs.Unlink(dst); err != nil && !isNotExist(err) {
			return "", fmt.Errorf("remove stale %s: %w", dst, err)
		}
	}

	if err := x.transferLocked(mode, src, dst); err != nil {
		return "", err
	}

	if slot, ok := x.table[hash]; ok {
		x.touchLocked(slot)
	} else {
		slot := x.chain.alloc(hash, info.Blocks, x.now())
		x.chain.pushNewest(slot)
		x.table[hash] = slot
		x.totalBlocks += info.Blocks
	}

	x.logger.WithFields(logrus.Fields{
		"action": "add",
		"hash":   hash,
		"mode":   mode.String(),
		"blocks": info.Blocks,
	}).Debug("cache_add")

	x.enforceBudgetLocked()
	return dst, nil
}

// Remove 删除 hash 对应的条目；不存在时为 no-op。
// 内存索引先行摘除，随后删除磁盘文件；删除失败会返回错误但不回滚索引，
// 两者的分歧只能通过 Resync 修复。
func (x *Index) Remove(hash string) error {
	if err := ValidateKey(hash); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.ready {
		return ErrNotReady
	}

	slot, ok := x.table[hash]
	if !ok {
		return nil
	}
	_, err := x.removeLocked(slot)
	return err
}

// Trim 立即执行一次容量检查，返回本次淘汰的条目数。
func (x *Index) Trim() (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.ready {
		return 0, ErrNotReady
	}
	return x.enforceBudgetLocked(), nil
}

// Resync 清空内存状态，遍历分片目录树并按文件修改时间重建访问顺序。
// 遍历失败时索引保持为空且进入 not ready 状态，直到下一次 Resync 成功。
func (x *Index) Resync() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	started := time.Now()
	x.ready = false
	x.table = make(map[string]int32)
	x.chain.reset()
	x.totalBlocks = 0

	var candidates []EntryInfo
	if err := x.scanLocked(x.dir, 0, &candidates); err != nil {
		x.logger.WithError(err).WithFields(logrus.Fields{
			"action": "resync",
			"dir":    x.dir,
		}).Error("cache_resync_failed")
		return err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LastAccess.Equal(candidates[j].LastAccess) {
			return candidates[i].Hash < candidates[j].Hash
		}
		return candidates[i].LastAccess.Before(candidates[j].LastAccess)
	})

	for _, c := range candidates {
		slot := x.chain.alloc(c.Hash, c.Blocks, c.LastAccess)
		x.chain.pushNewest(slot)
		x.table[c.Hash] = slot
		x.totalBlocks += c.Blocks
	}
	x.ready = true

	x.logger.WithFields(logrus.Fields{
		"action":       "resync",
		"dir":          x.dir,
		"entries":      len(candidates),
		"total_blocks": x.totalBlocks,
		"max_blocks":   x.maxBlocks,
		"elapsed_ms":   time.Since(started).Milliseconds(),
	}).Info("cache_resync_complete")
	return nil
}

// Stats 返回当前计数快照。
func (x *Index) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()

	stats := x.stats
	stats.Entries = len(x.table)
	stats.TotalBlocks = x.totalBlocks
	stats.MaxBlocks = x.maxBlocks
	stats.Ready = x.ready
	return stats
}

// Entries 按 oldest → newest 顺序返回所有条目的快照。
func (x *Index) Entries() []EntryInfo {
	x.mu.Lock()
	defer x.mu.Unlock()

	result := make([]EntryInfo, 0, len(x.table))
	x.chain.walk(func(e *entry) bool {
		result = append(result, EntryInfo{Hash: e.hash, Blocks: e.blocks, LastAccess: e.lastAccess})
		return true
	})
	return result
}

// Contains 报告 hash 是否已被索引，不改变访问顺序。
func (x *Index) Contains(hash string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	_, ok := x.table[hash]
	return ok
}

func (x *Index) transferLocked(mode Mode, src, dst string) error {
	var err error
	switch mode {
	case ModeMove:
		err = x.transfer.Move(src, dst)
	case ModeLink:
		err = x.transfer.Link(src, dst)
	default:
		err = x.transfer.Copy(src, dst)
	}
	return newTransferError(mode.String(), src, dst, err)
}

// touchLocked 刷新访问时间并提升为 newest。
func (x *Index) touchLocked(slot int32) {
	x.chain.at(slot).lastAccess = x.now()
	x.chain.promote(slot)
}

// removeLocked 摘除槽位、扣减容量，再删除磁盘文件。
func (x *Index) removeLocked(slot int32) (Eviction, error) {
	e := x.chain.at(slot)
	ev := Eviction{Hash: e.hash, Blocks: e.blocks}

	delete(x.table, ev.Hash)
	x.chain.detach(slot)
	x.chain.release(slot)
	x.totalBlocks -= ev.Blocks

	path, err := x.mapper.Path(ev.Hash)
	if err == nil {
		err = x.fs.Unlink(path)
	}
	if err != nil {
		err = fmt.Errorf("unlink %s: %w", ev.Hash, err)
	}
	ev.Err = err
	return ev, err
}

// enforceBudgetLocked 在总占用达到上限时持续淘汰最旧条目，直到低于上限或链表为空。
func (x *Index) enforceBudgetLocked() int {
	evicted := 0
	for x.totalBlocks >= x.maxBlocks && x.chain.oldest != none {
		ev, err := x.removeLocked(x.chain.oldest)
		evicted++
		x.stats.Evictions++

		fields := logrus.Fields{
			"action":       "evict",
			"hash":         ev.Hash,
			"blocks":       ev.Blocks,
			"total_blocks": x.totalBlocks,
			"max_blocks":   x.maxBlocks,
		}
		if err != nil {
			x.stats.EvictionErrors++
			x.logger.WithError(err).WithFields(fields).Warn("cache_evict_failed")
		} else {
			x.logger.WithFields(fields).Debug("cache_evict")
		}
		if x.onEvict != nil {
			x.onEvict(ev)
		}
	}
	return evicted
}

// scanLocked 递归遍历目录，收集候选条目。
func (x *Index) scanLocked(dir string, level int, out *[]EntryInfo) error {
	items, err := x.fs.ListEntries(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	for _, item := range items {
		path := filepath.Join(dir, item.Name)
		switch item.Type {
		case EntryDir:
			if level == 0 && item.Name == IncomingDir {
				continue
			}
			if err := x.scanLocked(path, level+1, out); err != nil {
				return err
			}
		case EntryFile:
			if isStageFile(item.Name) {
				if err := x.fs.Unlink(path); err != nil && !isNotExist(err) {
					return fmt.Errorf("remove stale stage file %s: %w", path, err)
				}
				x.logger.WithFields(logrus.Fields{
					"action": "resync",
					"path":   path,
				}).Warn("cache_stage_leftover_removed")
				continue
			}
			expected, err := x.mapper.Path(item.Name)
			if err != nil {
				return fmt.Errorf("%w: unexpected file %s: %v", ErrCorruptTree, path, err)
			}
			if expected != path {
				return fmt.Errorf("%w: %s is outside its shard (expected %s)", ErrCorruptTree, path, expected)
			}
			info, err := x.fs.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			*out = append(*out, EntryInfo{Hash: item.Name, Blocks: info.Blocks, LastAccess: info.ModTime})
		default:
			return fmt.Errorf("%w: unsupported object %s", ErrCorruptTree, path)
		}
	}
	return nil
}
