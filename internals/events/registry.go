package events

import "sync"

// Registry maps task ids to their live event queues. A queue exists only
// while a task is being observed or run; publishes to an unregistered
// task are dropped.
type Registry struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*Queue)}
}

// Subscribe returns the task's queue, creating it on first use.
func (r *Registry) Subscribe(taskID string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue, ok := r.queues[taskID]
	if !ok {
		queue = NewQueue()
		r.queues[taskID] = queue
	}
	return queue
}

// Publish appends the event to the task's queue if one is registered.
// Events published after Remove are lost, which is fine: the store holds
// the durable state.
func (r *Registry) Publish(taskID string, event TaskEvent) {
	r.mu.Lock()
	queue, ok := r.queues[taskID]
	r.mu.Unlock()
	if ok {
		queue.Put(event)
	}
}

// Remove drops the task's queue. Safe to call when no queue exists.
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	delete(r.queues, taskID)
	r.mu.Unlock()
}

// Has reports whether the task currently has a queue.
func (r *Registry) Has(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queues[taskID]
	return ok
}
