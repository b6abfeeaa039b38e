package chatroom

import "iter"

// Registry tracks the live connections of one room. It is owned by the
// room goroutine and is not safe for concurrent use.
type Registry struct {
	conns map[string]Socket
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Socket)}
}

// Register adds or replaces the socket for id
func (r *Registry) Register(id string, s Socket) {
	r.conns[id] = s
}

// Unregister removes id; unknown ids are ignored
func (r *Registry) Unregister(id string) {
	delete(r.conns, id)
}

// Get returns the socket registered under id
func (r *Registry) Get(id string) (Socket, bool) {
	s, ok := r.conns[id]
	return s, ok
}

// All yields every registered connection. Entries unregistered during
// iteration and not yet visited are skipped.
func (r *Registry) All() iter.Seq2[string, Socket] {
	return func(yield func(string, Socket) bool) {
		for id, s := range r.conns {
			if !yield(id, s) {
				return
			}
		}
	}
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	return len(r.conns)
}

// Clear removes every connection
func (r *Registry) Clear() {
	clear(r.conns)
}
