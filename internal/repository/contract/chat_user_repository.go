package contract

import (
	"context"

	"random-chat-be/internal/entity"
)

type ChatUserRepository interface {
	// FindByID returns nil, nil when the user has never been seen.
	FindByID(ctx context.Context, id int64) (*entity.ChatUser, error)

	// FindWaitingCandidate returns any one user other than excludeID that is
	// searching and unclaimed, or nil. It takes no locks.
	FindWaitingCandidate(ctx context.Context, excludeID int64) (*entity.ChatUser, error)

	// LockByIDs locks the given rows in ascending id order and returns them keyed by id.
	// Missing ids are absent from the result.
	LockByIDs(ctx context.Context, ids ...int64) (map[int64]*entity.ChatUser, error)

	// EnsureExists creates an IDLE record for id if there is none.
	EnsureExists(ctx context.Context, id int64) error

	Save(ctx context.Context, user *entity.ChatUser) error

	// ResetAll puts every record back to IDLE and returns how many rows changed.
	ResetAll(ctx context.Context) (int64, error)

	CountByState(ctx context.Context) (map[entity.UserState]int64, error)
}
