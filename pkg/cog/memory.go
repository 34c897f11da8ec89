package cog

import (
	"context"
	"sync"
)

// Memory is an in-process Catalog filled programmatically, for offline runs and tests.
type Memory struct {
	mu          sync.Mutex
	lists       map[string][]Area
	parents     map[string]string
	children    map[string][]Area
	projections map[string]Area
	calls       map[string]int
}

// NewMemory returns an empty catalog.
func NewMemory() *Memory {
	return &Memory{
		lists:       make(map[string][]Area),
		parents:     make(map[string]string),
		children:    make(map[string][]Area),
		projections: make(map[string]Area),
		calls:       make(map[string]int),
	}
}

func listKey(t AreaType, date string) string { return string(t) + "@" + date }

func relKey(t AreaType, code, date string, other AreaType) string {
	return string(t) + ":" + code + "@" + date + ">" + string(other)
}

// AddAreas appends areas to the list of type t at date.
func (m *Memory) AddAreas(t AreaType, date string, areas ...Area) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range areas {
		if areas[i].Type == "" {
			areas[i].Type = t
		}
	}
	m.lists[listKey(t, date)] = append(m.lists[listKey(t, date)], areas...)
	return m
}

// AddParent records that code (type t) belongs to parent (type parentType) at date.
func (m *Memory) AddParent(t AreaType, code, date string, parentType AreaType, parent string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parents[relKey(t, code, date, parentType)] = parent
	return m
}

// AddChildren records the childType areas of code at date.
func (m *Memory) AddChildren(t AreaType, code, date string, childType AreaType, children ...Area) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range children {
		if children[i].Type == "" {
			children[i].Type = childType
		}
	}
	k := relKey(t, code, date, childType)
	m.children[k] = append(m.children[k], children...)
	return m
}

// AddProjection records that commune code, valid at date, became to at target.
func (m *Memory) AddProjection(code, date, target, to string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projections[code+"@"+date+">"+target] = Area{Code: to, Type: Commune}
	return m
}

// Calls returns how many times method was invoked.
func (m *Memory) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Memory) ListAreas(_ context.Context, t AreaType, date string) ([]Area, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListAreas"]++
	src := m.lists[listKey(t, date)]
	out := make([]Area, len(src))
	copy(out, src)
	return out, nil
}

func (m *Memory) Ascending(_ context.Context, code string, t AreaType, date string, parentType AreaType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Ascending"]++
	return m.parents[relKey(t, code, date, parentType)], nil
}

func (m *Memory) Descending(_ context.Context, code string, t AreaType, date string, childType AreaType) ([]Area, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Descending"]++
	src := m.children[relKey(t, code, date, childType)]
	out := make([]Area, len(src))
	copy(out, src)
	return out, nil
}

func (m *Memory) Project(_ context.Context, code string, t AreaType, date, target string) (*Area, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Project"]++
	a, ok := m.projections[code+"@"+date+">"+target]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
