package notifications

import "sync"

// Registry tracks which socket currently represents each connected user.
// A user has at most one bound socket; the latest connection wins.
type Registry struct {
	mu            sync.RWMutex
	socketsByUser map[string]string
	usersBySocket map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		socketsByUser: make(map[string]string),
		usersBySocket: make(map[string]string),
	}
}

// Bind associates socketID with userID, replacing any earlier socket of that user.
func (r *Registry) Bind(userID, socketID string) {
	if userID == "" || socketID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.usersBySocket[socketID]; ok && previous != userID {
		if r.socketsByUser[previous] == socketID {
			delete(r.socketsByUser, previous)
		}
	}
	r.socketsByUser[userID] = socketID
	r.usersBySocket[socketID] = userID
}

// Unbind forgets socketID. The user entry is removed only while it still
// points at socketID, so a reconnect that already rebound the user survives.
func (r *Registry) Unbind(socketID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.usersBySocket[socketID]
	if !ok {
		return "", false
	}
	delete(r.usersBySocket, socketID)
	if r.socketsByUser[userID] == socketID {
		delete(r.socketsByUser, userID)
	}
	return userID, true
}

func (r *Registry) SocketFor(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	socketID, ok := r.socketsByUser[userID]
	return socketID, ok
}

func (r *Registry) UserFor(socketID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.usersBySocket[socketID]
	return userID, ok
}

// Len reports the number of bound sockets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.usersBySocket)
}
