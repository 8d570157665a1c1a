package service

import (
	"context"
	"fmt"

	"random-chat-be/internal/entity"
	"random-chat-be/internal/metrics"
	"random-chat-be/internal/pkg/logger"
	"random-chat-be/internal/repository/contract"
	"random-chat-be/internal/repository/unitofwork"
)

type IStateStore interface {
	SetSearching(ctx context.Context, id int64) error
	// TryFormPair claims one waiting user for id. It returns NoPartner when nobody
	// is waiting or when id itself was claimed concurrently.
	TryFormPair(ctx context.Context, id int64) (entity.Partner, error)
	// BreakPair returns id to IDLE, together with its human partner if any, and
	// returns the former partner.
	BreakPair(ctx context.Context, id int64) (entity.Partner, error)
	GetPartner(ctx context.Context, id int64) (entity.Partner, error)
	// SetAutomationPair pairs id with the automation backend only if id is still
	// waiting for a human. It reports whether the transition happened.
	SetAutomationPair(ctx context.Context, id int64) (bool, error)
	GetState(ctx context.Context, id int64) (entity.UserState, error)
	Stats(ctx context.Context) (map[entity.UserState]int64, error)
	ResetAll(ctx context.Context) (int64, error)
}

type stateStore struct {
	uowFactory unitofwork.RepositoryFactory
	maxRetries int
	logger     logger.ILogger
}

func NewStateStore(uowFactory unitofwork.RepositoryFactory, maxRetries int, logger logger.ILogger) IStateStore {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &stateStore{
		uowFactory: uowFactory,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// txFunc runs inside a transaction. Returning retry=true rolls back and runs the
// whole transaction again.
type txFunc func(ctx context.Context, repo contract.ChatUserRepository) (retry bool, err error)

func (s *stateStore) runTx(ctx context.Context, fn txFunc) (bool, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return false, err
	}
	defer uow.Rollback()

	retry, err := fn(ctx, uow.ChatUserRepository())
	if err != nil || retry {
		return retry, err
	}

	return false, uow.Commit()
}

func (s *stateStore) withRetry(ctx context.Context, op string, id int64, fn txFunc) error {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		retry, err := s.runTx(ctx, fn)
		if err != nil && isRetryableStoreError(err) {
			retry, err = true, nil
		}
		if err != nil {
			return fmt.Errorf("%s for user %d: %w", op, id, err)
		}
		if !retry {
			return nil
		}

		metrics.IncStoreConflicts()
		s.logger.Debug("StateStore", "Transaction conflict, retrying", map[string]interface{}{
			"op":      op,
			"user_id": id,
			"attempt": attempt,
		})
	}

	return fmt.Errorf("%w: %s for user %d after %d attempts", ErrStoreConflict, op, id, s.maxRetries)
}

func (s *stateStore) SetSearching(ctx context.Context, id int64) error {
	return s.withRetry(ctx, "set searching", id, func(ctx context.Context, repo contract.ChatUserRepository) (bool, error) {
		if err := repo.EnsureExists(ctx, id); err != nil {
			return false, err
		}
		rows, err := repo.LockByIDs(ctx, id)
		if err != nil {
			return false, err
		}
		user, ok := rows[id]
		if !ok {
			return false, fmt.Errorf("user %d vanished", id)
		}

		user.Searching = true
		user.Partner = entity.NoPartner
		return false, repo.Save(ctx, user)
	})
}

func (s *stateStore) TryFormPair(ctx context.Context, id int64) (entity.Partner, error) {
	result := entity.NoPartner

	err := s.withRetry(ctx, "form pair", id, func(ctx context.Context, repo contract.ChatUserRepository) (bool, error) {
		result = entity.NoPartner

		candidate, err := repo.FindWaitingCandidate(ctx, id)
		if err != nil {
			return false, err
		}
		if candidate == nil {
			return false, nil
		}

		// Both rows are locked in id order and re-checked: the optimistic pick
		// may have been claimed or withdrawn in the meantime.
		rows, err := repo.LockByIDs(ctx, id, candidate.Id)
		if err != nil {
			return false, err
		}
		me, them := rows[id], rows[candidate.Id]

		if !me.WaitingForHuman() {
			return false, nil
		}
		if !them.WaitingForHuman() {
			return true, nil
		}

		me.Searching, me.Partner = false, entity.HumanPartner(them.Id)
		them.Searching, them.Partner = false, entity.HumanPartner(me.Id)

		if err := repo.Save(ctx, me); err != nil {
			return false, err
		}
		if err := repo.Save(ctx, them); err != nil {
			return false, err
		}

		result = entity.HumanPartner(them.Id)
		return false, nil
	})
	if err != nil {
		return entity.NoPartner, err
	}

	return result, nil
}

func (s *stateStore) BreakPair(ctx context.Context, id int64) (entity.Partner, error) {
	former := entity.NoPartner

	err := s.withRetry(ctx, "break pair", id, func(ctx context.Context, repo contract.ChatUserRepository) (bool, error) {
		former = entity.NoPartner

		seen, err := repo.FindByID(ctx, id)
		if err != nil {
			return false, err
		}
		if seen == nil {
			return false, nil
		}

		ids := []int64{id}
		if seen.Partner.IsHuman() {
			ids = append(ids, seen.Partner.ID)
		}
		rows, err := repo.LockByIDs(ctx, ids...)
		if err != nil {
			return false, err
		}

		me := rows[id]
		if me == nil {
			return false, nil
		}
		if me.Partner != seen.Partner {
			return true, nil
		}

		former = me.Partner
		me.ClearPairing()
		if err := repo.Save(ctx, me); err != nil {
			return false, err
		}

		if former.IsHuman() {
			partner := rows[former.ID]
			if partner != nil && partner.Partner == entity.HumanPartner(id) {
				partner.ClearPairing()
				if err := repo.Save(ctx, partner); err != nil {
					return false, err
				}
			}
		}
		return false, nil
	})
	if err != nil {
		return entity.NoPartner, err
	}

	return former, nil
}

func (s *stateStore) SetAutomationPair(ctx context.Context, id int64) (bool, error) {
	paired := false

	err := s.withRetry(ctx, "automation pair", id, func(ctx context.Context, repo contract.ChatUserRepository) (bool, error) {
		paired = false

		rows, err := repo.LockByIDs(ctx, id)
		if err != nil {
			return false, err
		}
		me := rows[id]
		if !me.WaitingForHuman() {
			return false, nil
		}

		me.Searching = false
		me.Partner = entity.AutomationPartner
		if err := repo.Save(ctx, me); err != nil {
			return false, err
		}

		paired = true
		return false, nil
	})
	if err != nil {
		return false, err
	}

	return paired, nil
}

func (s *stateStore) GetPartner(ctx context.Context, id int64) (entity.Partner, error) {
	user, err := s.uowFactory.NewUnitOfWork(ctx).ChatUserRepository().FindByID(ctx, id)
	if err != nil {
		return entity.NoPartner, fmt.Errorf("get partner for user %d: %w", id, err)
	}
	if user == nil {
		return entity.NoPartner, nil
	}
	return user.Partner, nil
}

func (s *stateStore) GetState(ctx context.Context, id int64) (entity.UserState, error) {
	user, err := s.uowFactory.NewUnitOfWork(ctx).ChatUserRepository().FindByID(ctx, id)
	if err != nil {
		return entity.UserStateIdle, fmt.Errorf("get state for user %d: %w", id, err)
	}
	return user.State(), nil
}

func (s *stateStore) Stats(ctx context.Context) (map[entity.UserState]int64, error) {
	return s.uowFactory.NewUnitOfWork(ctx).ChatUserRepository().CountByState(ctx)
}

func (s *stateStore) ResetAll(ctx context.Context) (int64, error) {
	var changed int64
	err := s.withRetry(ctx, "reset all", 0, func(ctx context.Context, repo contract.ChatUserRepository) (bool, error) {
		n, err := repo.ResetAll(ctx)
		changed = n
		return false, err
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("StateStore", "Pairing state reset", map[string]interface{}{"rows": changed})
	return changed, nil
}
