// Package snapshot holds the client's keyed copy of the backend's posts.
package snapshot

import (
	"slices"
	"sync"

	"github.com/ibeckermayer/post4me/internal/types"
)

// Snapshot is a mutex-guarded map of posts keyed by id. Writers do not carry
// versions: whichever write lands last wins, and the next poll corrects any
// stale value.
type Snapshot struct {
	mu      sync.RWMutex
	posts   map[int64]types.Post
	version uint64
}

func New() *Snapshot {
	return &Snapshot{posts: make(map[int64]types.Post)}
}

// Get returns the cached post.
func (s *Snapshot) Get(id int64) (types.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	return p, ok
}

// Put stores p after normalising it.
func (s *Snapshot) Put(p types.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = p.Normalize()
	s.version++
}

// Update applies fn to the cached post, if present.
func (s *Snapshot) Update(id int64, fn func(*types.Post)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return false
	}
	fn(&p)
	s.posts[id] = p.Normalize()
	s.version++
	return true
}

// Remove drops a post.
func (s *Snapshot) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; ok {
		delete(s.posts, id)
		s.version++
	}
}

// Merge applies a poll result. Every fetched post replaces its cached copy;
// cached posts whose status is in scope but that were not fetched are gone
// from that listing and are dropped. An empty scope means the result covers
// every status.
func (s *Snapshot) Merge(fetched []types.Post, scope []types.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{}, len(fetched))
	for _, p := range fetched {
		seen[p.ID] = struct{}{}
		s.posts[p.ID] = p.Normalize()
	}
	for id, p := range s.posts {
		if _, ok := seen[id]; ok {
			continue
		}
		if len(scope) == 0 || slices.Contains(scope, p.Status) {
			delete(s.posts, id)
		}
	}
	s.version++
}

// Filter returns the cached posts whose status is in scope, by ascending id.
// An empty scope returns everything.
func (s *Snapshot) Filter(scope ...types.Status) []types.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if len(scope) == 0 || slices.Contains(scope, p.Status) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b types.Post) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of cached posts.
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}

// Version increases on every change. Presenters compare it to skip redraws.
func (s *Snapshot) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
