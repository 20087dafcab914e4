// Package memory provides an in-process engine implementation. It backs
// the test suites and the daemon's memory mode; listings follow the same
// prefix/delimiter/start-after contract as the S3 engine.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/objgw/objgw/pkg/engine"
)

type object struct {
	data  []byte
	mtime time.Time
}

// Engine stores buckets and objects in process memory.
type Engine struct {
	mu      sync.RWMutex
	buckets map[string]map[string]object
}

var _ engine.Engine = (*Engine)(nil)

// New returns an empty in-memory engine.
func New() *Engine {
	return &Engine{buckets: make(map[string]map[string]object)}
}

func (e *Engine) ListBuckets(_ context.Context, marker string, fn engine.ListFunc) (bool, error) {
	e.mu.RLock()
	names := make([]string, 0, len(e.buckets))
	for name := range e.buckets {
		names = append(names, name)
	}
	e.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		if marker != "" && name <= marker {
			continue
		}
		if !fn(name, name, false) {
			return false, nil
		}
	}
	return false, nil
}

func (e *Engine) ListObjects(_ context.Context, bucket, prefix, delimiter, marker string, max int32, fn engine.ListFunc) (bool, error) {
	e.mu.RLock()
	objs, ok := e.buckets[bucket]
	if !ok {
		e.mu.RUnlock()
		return false, engine.ErrNotFound
	}
	keys := make([]string, 0, len(objs))
	for k := range objs {
		keys = append(keys, k)
	}
	e.mu.RUnlock()
	sort.Strings(keys)

	if max <= 0 {
		max = 1000
	}

	emitted := int32(0)
	lastPrefix := ""
	for i := 0; i < len(keys); i++ {
		k := keys[i]
		if !strings.HasPrefix(k, prefix) || k <= marker {
			continue
		}

		name, isPrefix := k, false
		if delimiter != "" {
			rest := k[len(prefix):]
			if j := strings.Index(rest, delimiter); j >= 0 {
				name = prefix + rest[:j+len(delimiter)]
				isPrefix = true
				if name == lastPrefix {
					continue
				}
				lastPrefix = name
			}
		}

		if emitted >= max {
			return true, nil
		}
		emitted++
		// A grouped prefix sorts before every key it groups, so its
		// continuation marker must be the last grouped key.
		m := name
		if isPrefix {
			m = lastKeyUnder(keys, i, name)
		}
		if !fn(name, m, isPrefix) {
			return false, nil
		}
	}
	return false, nil
}

// lastKeyUnder returns the greatest key sharing the grouped prefix,
// starting the scan at i (the first key of the group).
func lastKeyUnder(keys []string, i int, prefix string) string {
	last := keys[i]
	for j := i + 1; j < len(keys); j++ {
		if !strings.HasPrefix(keys[j], prefix) {
			break
		}
		last = keys[j]
	}
	return last
}

func (e *Engine) HeadBucket(_ context.Context, bucket string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.buckets[bucket]
	return ok, nil
}

func (e *Engine) CreateBucket(_ context.Context, bucket string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buckets[bucket]; !ok {
		e.buckets[bucket] = make(map[string]object)
	}
	return nil
}

func (e *Engine) DeleteBucket(_ context.Context, bucket string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buckets[bucket]; !ok {
		return engine.ErrNotFound
	}
	delete(e.buckets, bucket)
	return nil
}

func (e *Engine) HeadObject(_ context.Context, bucket, key string) (engine.ObjectInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	objs, ok := e.buckets[bucket]
	if !ok {
		return engine.ObjectInfo{}, engine.ErrNotFound
	}
	o, ok := objs[key]
	if !ok {
		return engine.ObjectInfo{}, engine.ErrNotFound
	}
	return engine.ObjectInfo{Size: int64(len(o.data)), Mtime: o.mtime}, nil
}

func (e *Engine) PutObject(_ context.Context, bucket, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	objs, ok := e.buckets[bucket]
	if !ok {
		return engine.ErrNotFound
	}
	objs[key] = object{data: data, mtime: time.Now()}
	return nil
}

func (e *Engine) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	objs, ok := e.buckets[bucket]
	if !ok {
		return nil, engine.ErrNotFound
	}
	o, ok := objs[key]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

func (e *Engine) DeleteObject(_ context.Context, bucket, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	objs, ok := e.buckets[bucket]
	if !ok {
		return engine.ErrNotFound
	}
	delete(objs, key)
	return nil
}
