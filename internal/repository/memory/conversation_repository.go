package memory

import (
	"strconv"
	"sync"
	"time"

	"random-chat-be/internal/entity"

	"github.com/patrickmn/go-cache"
)

// ConversationRepository holds the live automation sessions keyed by user id.
// Sessions are removed explicitly when the pair ends; the expiry only collects
// sessions orphaned by a crash of the owning goroutine.
type ConversationRepository struct {
	// mu orders writers so DeleteIf compares and deletes atomically.
	mu    sync.Mutex
	cache *cache.Cache
}

func NewConversationRepository(ttl time.Duration) *ConversationRepository {
	return &ConversationRepository{
		cache: cache.New(ttl, ttl/2),
	}
}

func key(userId int64) string {
	return strconv.FormatInt(userId, 10)
}

func (r *ConversationRepository) Save(session *entity.ConversationSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Set(key(session.UserId), session, cache.DefaultExpiration)
}

func (r *ConversationRepository) Get(userId int64) (*entity.ConversationSession, bool) {
	if x, found := r.cache.Get(key(userId)); found {
		return x.(*entity.ConversationSession), true
	}
	return nil, false
}

// Touch extends the lifetime of an active session.
func (r *ConversationRepository) Touch(userId int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.Get(userId); ok {
		r.cache.Set(key(userId), s, cache.DefaultExpiration)
	}
}

func (r *ConversationRepository) Delete(userId int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Delete(key(userId))
}

// DeleteIf removes the session of its user only while it is still the stored
// one, so a stale owner cannot drop a newer conversation.
func (r *ConversationRepository) DeleteIf(session *entity.ConversationSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.Get(session.UserId)
	if !ok || current != session {
		return false
	}
	r.cache.Delete(key(session.UserId))
	return true
}

func (r *ConversationRepository) Count() int {
	return r.cache.ItemCount()
}

func (r *ConversationRepository) Flush() {
	r.cache.Flush()
}
