package kernel

import (
	"container/list"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// programCache is a thread-safe LRU cache of compiled expr-lang programs,
// keyed on source text, modeled on the teacher's ConditionCache
// (pkg/engine/condition_cache.go) since compilation is the expensive part
// of evaluating a cell's statement values and cells are frequently re-run
// unchanged.
type programCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type programEntry struct {
	key     string
	program *vm.Program
}

func newProgramCache(capacity int) *programCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &programCache{capacity: capacity, cache: make(map[string]*list.Element), lru: list.New()}
}

func (c *programCache) get(key string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.cache[key]; ok {
		c.lru.MoveToFront(el)
		return el.Value.(*programEntry).program, true
	}
	return nil, false
}

func (c *programCache) put(key string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.cache[key]; ok {
		c.lru.MoveToFront(el)
		el.Value.(*programEntry).program = program
		return
	}
	el := c.lru.PushFront(&programEntry{key: key, program: program})
	c.cache[key] = el
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*programEntry).key)
		}
	}
}

// compile compiles src against env, reusing a cached program when one
// exists for this exact source text. The env itself (a map[string]any) is
// only used for expr's option handling, not embedded in the cache key, so
// a changed set of globals between calls is safe to reuse a cached program
// against — expr resolves identifiers dynamically through vm.Run's env
// argument, not at compile time, for a map[string]any environment.
func (c *programCache) compile(src string, env map[string]any) (*vm.Program, error) {
	if p, ok := c.get(src); ok {
		return p, nil
	}
	p, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, err
	}
	c.put(src, p)
	return p, nil
}
