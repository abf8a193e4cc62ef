package task

import (
	"sync"
)

// Registry is the process-wide collection of in-flight and completed tasks.
// Tasks live in a map for O(1) lookup plus a slice preserving insertion
// order, so reports list tasks in the order they were created.
//
// The registry itself cannot fail; errors belong to individual tasks.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
	}
}

// Add inserts a task. Id uniqueness is the caller's responsibility; a
// duplicate id replaces the stored task but keeps the original position.
func (r *Registry) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.id]; !exists {
		r.order = append(r.order, t.id)
	}
	r.tasks[t.id] = t
}

func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Remove deletes a task after its result has been delivered.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return
	}
	delete(r.tasks, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// ForApp returns the tasks belonging to one GUI client, in insertion order.
func (r *Registry) ForApp(appID string) []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Task
	for _, id := range r.order {
		if t := r.tasks[id]; t.appID == appID {
			out = append(out, t)
		}
	}
	return out
}

// AppIDs returns every distinct app id with at least one registered task,
// in first-seen order. Used for broadcast tasks such as token refresh.
func (r *Registry) AppIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range r.order {
		appID := r.tasks[id].appID
		if !seen[appID] {
			seen[appID] = true
			out = append(out, appID)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
