package services

import (
	"context"
	"sync"
)

// fakeKV is an in-memory stand-in for the redis command surface, good enough
// for single-process tests.
type fakeKV struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	sets    map[string]map[string]bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		strings: map[string]string{},
		hashes:  map[string]map[string]string{},
		lists:   map[string][]string{},
		sets:    map[string]map[string]bool{},
	}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.strings[key]
	return value, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[key] = value
	return nil
}

func (f *fakeKV) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.strings, key)
		delete(f.hashes, key)
		delete(f.lists, key)
		delete(f.sets, key)
	}
	return nil
}

func (f *fakeKV) HSet(_ context.Context, key string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash, ok := f.hashes[key]
	if !ok {
		hash = map[string]string{}
		f.hashes[key] = hash
	}
	for field, value := range fields {
		hash[field] = value
	}
	return nil
}

func (f *fakeKV) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := map[string]string{}
	for field, value := range f.hashes[key] {
		result[field] = value
	}
	return result, nil
}

func (f *fakeKV) SAdd(_ context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		set = map[string]bool{}
		f.sets[key] = set
	}
	set[member] = true
	return nil
}

func (f *fakeKV) SRem(_ context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sets[key], member)
	return nil
}

func (f *fakeKV) SMembers(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]string, 0, len(f.sets[key]))
	for member := range f.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

func (f *fakeKV) RPush(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(f.lists[key], value)
	return nil
}

func (f *fakeKV) LTrim(_ context.Context, key string, start, stop int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	from, to := normalizeRange(start, stop, int64(len(list)))
	if from > to {
		f.lists[key] = nil
		return nil
	}
	f.lists[key] = append([]string(nil), list[from:to+1]...)
	return nil
}

func (f *fakeKV) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	from, to := normalizeRange(start, stop, int64(len(list)))
	if from > to {
		return nil, nil
	}
	return append([]string(nil), list[from:to+1]...), nil
}

func normalizeRange(start, stop, length int64) (int64, int64) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	return start, stop
}
