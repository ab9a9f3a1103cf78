// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/warp/reception-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a hierarchical in-memory store. Values are kept in normalized
// tree form, so reads never alias caller data.
type Memory struct {
	mu     sync.RWMutex
	root   map[string]any
	faults map[string]error
	writes int
}

func NewMemory() *Memory {
	return &Memory{
		root:   make(map[string]any),
		faults: make(map[string]error),
	}
}

// InjectFault makes every write touching pathPrefix (or below it) fail
// with err. Reads are unaffected. Used to exercise partial failures.
func (m *Memory) InjectFault(pathPrefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[strings.Trim(pathPrefix, "/")] = err
}

// ClearFaults removes every injected fault.
func (m *Memory) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[string]error)
}

// WriteCount returns how many write calls were applied successfully.
func (m *Memory) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *Memory) Get(_ context.Context, path string, dest any) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := lookup(m.root, ledger.Split(path))
	if !ok {
		return false, nil
	}
	if err := ledger.Decode(node, dest); err != nil {
		return true, fmt.Errorf("get %s: %w", path, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, path string, value any) error {
	v, err := ledger.Normalize(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faultLocked(path); err != nil {
		return err
	}
	m.setLocked(path, v)
	m.writes++
	return nil
}

// Update applies all writes atomically. Every value is normalized before
// the tree is touched, so a bad value leaves the store unchanged.
func (m *Memory) Update(_ context.Context, writes ledger.Writes) error {
	if err := ledger.ValidateWrites(writes); err != nil {
		return err
	}
	normalized := make(map[string]any, len(writes))
	for p, value := range writes {
		v, err := ledger.Normalize(value)
		if err != nil {
			return fmt.Errorf("update %s: %w", p, err)
		}
		normalized[p] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range normalized {
		if err := m.faultLocked(p); err != nil {
			return err
		}
	}
	for p, v := range normalized {
		m.setLocked(p, v)
	}
	m.writes++
	return nil
}

func (m *Memory) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faultLocked(path); err != nil {
		return err
	}
	m.setLocked(path, nil)
	m.writes++
	return nil
}

func (m *Memory) faultLocked(path string) error {
	path = strings.Trim(path, "/")
	for prefix, err := range m.faults {
		if prefix == path || ledger.IsAncestor(prefix, path) || ledger.IsAncestor(path, prefix) {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func (m *Memory) setLocked(path string, v any) {
	segs := ledger.Split(path)
	if len(segs) == 0 {
		if tree, ok := v.(map[string]any); ok {
			m.root = tree
		} else {
			m.root = make(map[string]any)
		}
		return
	}

	if v == nil {
		removeAt(m.root, segs)
		return
	}

	node := m.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = v
}

// removeAt deletes the node and prunes ancestors left empty.
func removeAt(node map[string]any, segs []string) {
	if len(segs) == 1 {
		delete(node, segs[0])
		return
	}
	child, ok := node[segs[0]].(map[string]any)
	if !ok {
		return
	}
	removeAt(child, segs[1:])
	if len(child) == 0 {
		delete(node, segs[0])
	}
}

func lookup(root map[string]any, segs []string) (any, bool) {
	if len(segs) == 0 {
		if len(root) == 0 {
			return nil, false
		}
		return root, true
	}
	var cur any = root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
