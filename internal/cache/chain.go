package cache

import "time"

// none 表示链表中不存在的槽位。
const none int32 = -1

// entry 是 arena 中的一个槽位；prev/next 是槽位下标而非指针。
type entry struct {
	hash       string
	lastAccess time.Time
	blocks     int64
	prev       int32
	next       int32
}

// chain 是定位在 arena 上的侵入式双向链表，oldest → newest。
// 释放的槽位进入 free 列表复用，slot 下标在条目存活期间保持稳定。
type chain struct {
	slots  []entry
	free   []int32
	oldest int32
	newest int32
	size   int
}

func newChain() chain {
	return chain{oldest: none, newest: none}
}

func (c *chain) reset() {
	c.slots = c.slots[:0]
	c.free = c.free[:0]
	c.oldest = none
	c.newest = none
	c.size = 0
}

func (c *chain) at(i int32) *entry {
	return &c.slots[i]
}

// alloc 为新条目分配槽位，但不挂入链表。
func (c *chain) alloc(hash string, blocks int64, at time.Time) int32 {
	e := entry{hash: hash, blocks: blocks, lastAccess: at, prev: none, next: none}
	if n := len(c.free); n > 0 {
		i := c.free[n-1]
		c.free = c.free[:n-1]
		c.slots[i] = e
		return i
	}
	c.slots = append(c.slots, e)
	return int32(len(c.slots) - 1)
}

// release 归还已经摘链的槽位。
func (c *chain) release(i int32) {
	c.slots[i] = entry{prev: none, next: none}
	c.free = append(c.free, i)
}

// pushNewest 将槽位挂到 newest 端；链为空时同时成为 oldest。
func (c *chain) pushNewest(i int32) {
	e := c.at(i)
	e.prev = c.newest
	e.next = none
	if c.newest != none {
		c.at(c.newest).next = i
	} else {
		c.oldest = i
	}
	c.newest = i
	c.size++
}

// detach 把槽位从链上摘下并连接其前后邻居，必要时更新 oldest/newest。
func (c *chain) detach(i int32) {
	e := c.at(i)
	if e.prev != none {
		c.at(e.prev).next = e.next
	} else {
		c.oldest = e.next
	}
	if e.next != none {
		c.at(e.next).prev = e.prev
	} else {
		c.newest = e.prev
	}
	e.prev = none
	e.next = none
	c.size--
}

// promote 将槽位移动到 newest；已是 newest 时不做任何事。
func (c *chain) promote(i int32) {
	if c.newest == i {
		return
	}
	c.detach(i)
	c.pushNewest(i)
}

// walk 按 oldest → newest 顺序遍历，fn 返回 false 时停止。
func (c *chain) walk(fn func(*entry) bool) {
	for i := c.oldest; i != none; i = c.at(i).next {
		if !fn(c.at(i)) {
			return
		}
	}
}
