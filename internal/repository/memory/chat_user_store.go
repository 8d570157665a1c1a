package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"random-chat-be/internal/entity"
	"random-chat-be/internal/repository/contract"
	"random-chat-be/internal/repository/unitofwork"
)

// ChatUserStore is an in-process substitute for the chat_users table. A unit of
// work holds the store lock from Begin until Commit or Rollback, so transactions
// are fully serialized and writes become visible only on Commit.
type ChatUserStore struct {
	mu   sync.Mutex
	rows map[int64]entity.ChatUser
}

var _ unitofwork.RepositoryFactory = (*ChatUserStore)(nil)

func NewChatUserStore() *ChatUserStore {
	return &ChatUserStore{rows: make(map[int64]entity.ChatUser)}
}

func (s *ChatUserStore) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return &unitOfWork{store: s}
}

type unitOfWork struct {
	store  *ChatUserStore
	inTx   bool
	staged map[int64]entity.ChatUser
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.inTx {
		return fmt.Errorf("transaction already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	u.store.mu.Lock()
	u.inTx = true
	u.staged = make(map[int64]entity.ChatUser)
	return nil
}

func (u *unitOfWork) Commit() error {
	if !u.inTx {
		return fmt.Errorf("no transaction to commit")
	}
	for id, row := range u.staged {
		u.store.rows[id] = row
	}
	u.finish()
	return nil
}

func (u *unitOfWork) Rollback() error {
	if !u.inTx {
		return fmt.Errorf("no transaction to rollback")
	}
	u.finish()
	return nil
}

func (u *unitOfWork) finish() {
	u.staged = nil
	u.inTx = false
	u.store.mu.Unlock()
}

func (u *unitOfWork) ChatUserRepository() contract.ChatUserRepository {
	return &chatUserRepository{uow: u}
}

type chatUserRepository struct {
	uow *unitOfWork
}

// view runs fn with a consistent view of the rows. Inside a transaction the lock
// is already held.
func (r *chatUserRepository) view(fn func()) {
	if r.uow.inTx {
		fn()
		return
	}
	r.uow.store.mu.Lock()
	defer r.uow.store.mu.Unlock()
	fn()
}

func (r *chatUserRepository) get(id int64) (entity.ChatUser, bool) {
	if r.uow.inTx {
		if row, ok := r.uow.staged[id]; ok {
			return row, true
		}
	}
	row, ok := r.uow.store.rows[id]
	return row, ok
}

func (r *chatUserRepository) put(row entity.ChatUser) {
	if r.uow.inTx {
		r.uow.staged[row.Id] = row
		return
	}
	r.uow.store.rows[row.Id] = row
}

// each visits every row, staged rows shadowing committed ones.
func (r *chatUserRepository) each(fn func(entity.ChatUser)) {
	for id, row := range r.uow.store.rows {
		if r.uow.inTx {
			if staged, ok := r.uow.staged[id]; ok {
				row = staged
			}
		}
		fn(row)
	}
	if r.uow.inTx {
		for id, row := range r.uow.staged {
			if _, ok := r.uow.store.rows[id]; !ok {
				fn(row)
			}
		}
	}
}

func (r *chatUserRepository) FindByID(ctx context.Context, id int64) (*entity.ChatUser, error) {
	var out *entity.ChatUser
	r.view(func() {
		if row, ok := r.get(id); ok {
			out = &row
		}
	})
	return out, nil
}

func (r *chatUserRepository) FindWaitingCandidate(ctx context.Context, excludeID int64) (*entity.ChatUser, error) {
	var out *entity.ChatUser
	r.view(func() {
		r.each(func(row entity.ChatUser) {
			if row.Id == excludeID || !row.WaitingForHuman() {
				return
			}
			if out == nil || row.UpdatedAt.Before(out.UpdatedAt) ||
				(row.UpdatedAt.Equal(out.UpdatedAt) && row.Id < out.Id) {
				candidate := row
				out = &candidate
			}
		})
	})
	return out, nil
}

func (r *chatUserRepository) LockByIDs(ctx context.Context, ids ...int64) (map[int64]*entity.ChatUser, error) {
	out := make(map[int64]*entity.ChatUser, len(ids))
	r.view(func() {
		for _, id := range ids {
			if row, ok := r.get(id); ok {
				out[id] = &row
			}
		}
	})
	return out, nil
}

func (r *chatUserRepository) EnsureExists(ctx context.Context, id int64) error {
	r.view(func() {
		if _, ok := r.get(id); ok {
			return
		}
		now := time.Now()
		r.put(entity.ChatUser{Id: id, CreatedAt: now, UpdatedAt: now})
	})
	return nil
}

func (r *chatUserRepository) Save(ctx context.Context, user *entity.ChatUser) error {
	var err error
	r.view(func() {
		row, ok := r.get(user.Id)
		if !ok {
			err = fmt.Errorf("chat user %d not found", user.Id)
			return
		}
		row.Partner = user.Partner
		row.Searching = user.Searching
		row.UpdatedAt = time.Now()
		r.put(row)
		user.UpdatedAt = row.UpdatedAt
	})
	return err
}

func (r *chatUserRepository) ResetAll(ctx context.Context) (int64, error) {
	var changed int64
	r.view(func() {
		var dirty []entity.ChatUser
		r.each(func(row entity.ChatUser) {
			if row.Searching || !row.Partner.IsNone() {
				dirty = append(dirty, row)
			}
		})
		now := time.Now()
		for _, row := range dirty {
			row.ClearPairing()
			row.UpdatedAt = now
			r.put(row)
		}
		changed = int64(len(dirty))
	})
	return changed, nil
}

func (r *chatUserRepository) CountByState(ctx context.Context) (map[entity.UserState]int64, error) {
	counts := map[entity.UserState]int64{
		entity.UserStateIdle:             0,
		entity.UserStateSearching:        0,
		entity.UserStatePairedHuman:      0,
		entity.UserStatePairedAutomation: 0,
	}
	r.view(func() {
		r.each(func(row entity.ChatUser) {
			counts[row.State()]++
		})
	})
	return counts, nil
}
