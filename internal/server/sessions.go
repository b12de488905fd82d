package server

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"math-tutor/internal/helper"
	"math-tutor/internal/tutor"
)

// SessionStore keeps tutoring sessions in memory. Every lookup pushes the
// expiry back by the configured TTL.
type SessionStore struct {
	cache *cache.Cache
	deps  tutor.Deps
}

func NewSessionStore(ttl time.Duration, deps tutor.Deps) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	store := &SessionStore{
		cache: cache.New(ttl, ttl/2),
		deps:  deps,
	}
	store.cache.OnEvicted(func(id string, _ any) {
		log.Debug().Str("session", id).Msg("Session expired")
	})
	return store
}

// Create starts a new empty session.
func (st *SessionStore) Create() (*tutor.Session, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	s := tutor.NewSession(id, st.deps)
	st.cache.SetDefault(id, s)
	return s, nil
}

func (st *SessionStore) Get(id string) (*tutor.Session, bool) {
	v, ok := st.cache.Get(id)
	if !ok {
		return nil, false
	}
	s := v.(*tutor.Session)
	st.cache.SetDefault(id, s)
	return s, true
}

func (st *SessionStore) Delete(id string) bool {
	if _, ok := st.cache.Get(id); !ok {
		return false
	}
	st.cache.Delete(id)
	return true
}

func (st *SessionStore) Len() int {
	return st.cache.ItemCount()
}
