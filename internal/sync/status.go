package sync

import (
	"sync"
	"time"
)

// ServiceStatus is the per-entity sync status surfaced by the local API.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	LastPull  time.Time `json:"last_pull"`
	LastPush  time.Time `json:"last_push"`
	LastError string    `json:"last_error,omitempty"`
	PullCount int64     `json:"pull_count"`
	PushCount int64     `json:"push_count"`
}

// StatusRegistry tracks per-service sync activity for diagnostics.
type StatusRegistry struct {
	mu       sync.RWMutex
	services map[string]*ServiceStatus
	order    []string
}

func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{services: make(map[string]*ServiceStatus)}
}

// Register adds a service to track, preserving registration order.
func (r *StatusRegistry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return
	}
	r.services[name] = &ServiceStatus{Name: name}
	r.order = append(r.order, name)
}

// MarkRunning flags a service as mid-pull.
func (r *StatusRegistry) MarkRunning(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if svc, exists := r.services[name]; exists {
		svc.Running = true
	}
}

// MarkPull records a completed pull attempt.
func (r *StatusRegistry) MarkPull(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if svc, exists := r.services[name]; exists {
		svc.Running = false
		svc.LastPull = time.Now()
		svc.PullCount++
		if err != nil {
			svc.LastError = err.Error()
		} else {
			svc.LastError = ""
		}
	}
}

// MarkPush records a completed push attempt.
func (r *StatusRegistry) MarkPush(name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if svc, exists := r.services[name]; exists {
		svc.LastPush = time.Now()
		svc.PushCount++
		if !ok && svc.LastError == "" {
			svc.LastError = "push failed"
		}
	}
}

// All returns statuses in registration order.
func (r *StatusRegistry) All() []ServiceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.services[name])
	}
	return out
}
