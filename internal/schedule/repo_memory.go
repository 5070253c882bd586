package schedule

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development. Update/Delete replace or remove the whole item under one lock,
// matching the all-or-nothing transition contract.
type MemoryRepo struct {
	mu     sync.Mutex
	items  map[string]CallItem
	agents map[string]Agent
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		items:  make(map[string]CallItem),
		agents: make(map[string]Agent),
	}
}

func itemKey(workspaceID, id string) string { return workspaceID + "/" + id }

func (r *MemoryRepo) CreateCallItem(ctx context.Context, item CallItem) error {
	if item.ID == "" || item.WorkspaceID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[itemKey(item.WorkspaceID, item.ID)] = cloneItem(item)
	return nil
}

func (r *MemoryRepo) GetCallItem(ctx context.Context, workspaceID, id string) (CallItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemKey(workspaceID, id)]
	if !ok {
		return CallItem{}, ErrNotFound
	}
	return cloneItem(item), nil
}

func (r *MemoryRepo) UpdateCallItem(ctx context.Context, item CallItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := itemKey(item.WorkspaceID, item.ID)
	if _, ok := r.items[key]; !ok {
		return ErrNotFound
	}
	r.items[key] = cloneItem(item)
	return nil
}

func (r *MemoryRepo) DeleteCallItem(ctx context.Context, workspaceID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := itemKey(workspaceID, id)
	if _, ok := r.items[key]; !ok {
		return ErrNotFound
	}
	delete(r.items, key)
	return nil
}

func (r *MemoryRepo) PutAgent(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[itemKey(a.WorkspaceID, a.ID)] = a
}

func (r *MemoryRepo) GetAgent(ctx context.Context, workspaceID, id string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[itemKey(workspaceID, id)]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) CountAgents(ctx context.Context, workspaceID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.agents {
		if a.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func cloneItem(item CallItem) CallItem {
	out := item
	if len(item.RetryReasons) > 0 {
		out.RetryReasons = make([]RetryReason, len(item.RetryReasons))
		copy(out.RetryReasons, item.RetryReasons)
	}
	return out
}
