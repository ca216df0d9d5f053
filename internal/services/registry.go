package services

import (
	"errors"
	"hash/fnv"
	"sync"

	"github.com/darkwinzo/queen-mini-go/internal/transport"
)

// ErrDuplicateHandle is returned when a bot already has a live connection
var ErrDuplicateHandle = errors.New("bot already has an active connection")

const registryShards = 16

// Registry tracks the live transport handle for each bot. Sharded so unrelated
// bots never contend on the same lock. The lifecycle manager is the only
// writer for a given bot id; reads may come from anywhere.
type Registry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu      sync.RWMutex
	clients map[string]transport.Client
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].clients = make(map[string]transport.Client)
	}
	return r
}

func (r *Registry) shard(botID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(botID))
	return &r.shards[h.Sum32()%registryShards]
}

// Register stores the live handle for a bot. Fails if one is already present,
// so at most one connection can exist per bot at any time.
func (r *Registry) Register(botID string, client transport.Client) error {
	s := r.shard(botID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[botID]; exists {
		return ErrDuplicateHandle
	}
	s.clients[botID] = client
	return nil
}

// Lookup returns the live handle for a bot, or false if none is registered
func (r *Registry) Lookup(botID string) (transport.Client, bool) {
	s := r.shard(botID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[botID]
	return client, exists
}

// Unregister removes the handle for a bot if present
func (r *Registry) Unregister(botID string) {
	s := r.shard(botID)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, botID)
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	total := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		total += len(s.clients)
		s.mu.RUnlock()
	}
	return total
}

// Range calls fn for every registered connection
func (r *Registry) Range(fn func(botID string, client transport.Client)) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for botID, client := range s.clients {
			fn(botID, client)
		}
		s.mu.RUnlock()
	}
}
