package service

import (
	"hash/fnv"
	"sync"
)

const lockShardCount = 32

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// KeyedMutex serializes work per key. Different keys never contend beyond a shard map lookup.
type KeyedMutex struct {
	shards [lockShardCount]*lockShard
}

func NewKeyedMutex() *KeyedMutex {
	k := &KeyedMutex{}
	for i := range k.shards {
		k.shards[i] = &lockShard{locks: make(map[string]*keyLock)}
	}
	return k
}

func (k *KeyedMutex) shard(key string) *lockShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return k.shards[h.Sum32()%lockShardCount]
}

// Lock blocks until key is free and returns the matching unlock.
func (k *KeyedMutex) Lock(key string) func() {
	s := k.shard(key)

	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// size reports the number of live keys; used by tests to check entries are released.
func (k *KeyedMutex) size() int {
	n := 0
	for _, s := range k.shards {
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
