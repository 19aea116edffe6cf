// Package checkup coordinates checkup fan-out and each check's lifecycle.
package checkup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webcheckup/webcheckup/internal/domain/chat"
	domain "github.com/webcheckup/webcheckup/internal/domain/checkup"
	"github.com/webcheckup/webcheckup/internal/executor"
	"github.com/webcheckup/webcheckup/internal/probe"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
	"github.com/webcheckup/webcheckup/internal/summarizer"
)

// transitionTimeout bounds one terminal transition (summarizer call plus
// the atomic commit).
const transitionTimeout = 2 * time.Minute

// Orchestrator fans a checkup out into its checks, dispatches every probe
// on the execution pool, and drives each check to exactly one terminal
// state when its outcome arrives.
type Orchestrator struct {
	checkupRepo domain.Repository
	chatRepo    chat.Repository
	registry    *probe.Registry
	pool        *executor.Pool
	summarizer  summarizer.Summarizer
	logger      *zap.Logger

	reactors sync.WaitGroup
}

// NewOrchestrator wires the orchestrator. The pool is owned by the caller
// and shared process-wide; tests inject a single-worker pool for
// deterministic ordering.
func NewOrchestrator(
	checkupRepo domain.Repository,
	chatRepo chat.Repository,
	registry *probe.Registry,
	pool *executor.Pool,
	summ summarizer.Summarizer,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		checkupRepo: checkupRepo,
		chatRepo:    chatRepo,
		registry:    registry,
		pool:        pool,
		summarizer:  summ,
		logger:      logger,
	}
}

// StartCheckup creates the checkup and starts all five checks. It returns
// as soon as every probe is dispatched; it never waits for one to finish.
// A check whose creation fails is logged and absent from the returned
// checkup (no probe was dispatched, so no terminal transition applies).
func (o *Orchestrator) StartCheckup(ctx context.Context, rawURL, ownerID string) (*domain.Checkup, error) {
	cu, err := domain.NewCheckup(rawURL, ownerID)
	if err != nil {
		return nil, err
	}
	if err := o.checkupRepo.SaveCheckup(ctx, cu); err != nil {
		return nil, fmt.Errorf("save checkup: %w", err)
	}

	for _, checkType := range domain.AllCheckTypes() {
		chk, err := o.startCheck(ctx, cu, checkType)
		if err != nil {
			o.logger.Error("check creation failed, check type skipped",
				zap.String("checkup_id", cu.ID()),
				zap.String("check_type", string(checkType)),
				zap.Error(err),
			)
			continue
		}
		cu.AttachCheck(chk)
	}

	return cu, nil
}

// startCheck creates the check and its chat, persists both, transitions the
// check to running, and submits the probe. All of this happens
// synchronously; only the probe itself runs on the pool.
func (o *Orchestrator) startCheck(ctx context.Context, cu *domain.Checkup, checkType domain.CheckType) (*domain.Check, error) {
	prober, err := o.registry.For(checkType)
	if err != nil {
		return nil, err
	}

	chk, err := domain.NewCheck(cu.ID(), checkType)
	if err != nil {
		return nil, err
	}
	if err := o.checkupRepo.SaveCheck(ctx, chk); err != nil {
		return nil, fmt.Errorf("save check: %w", err)
	}

	ch, err := chat.NewChat(chk.ID())
	if err != nil {
		return nil, err
	}
	if err := o.chatRepo.SaveChat(ctx, ch); err != nil {
		return nil, fmt.Errorf("save chat: %w", err)
	}
	chk.AttachChat(ch)

	if err := chk.Start(); err != nil {
		return nil, err
	}
	if err := o.checkupRepo.MarkCheckRunning(ctx, chk.ID()); err != nil {
		return nil, fmt.Errorf("mark check running: %w", err)
	}

	target := cu.URL()
	// The probe outlives the request that created the check: a client
	// disconnect must not abort a queued or running probe.
	handle := o.pool.Submit(context.WithoutCancel(ctx), func(probeCtx context.Context) (map[string]any, error) {
		return prober.Run(probeCtx, target)
	})

	o.reactors.Add(1)
	go o.awaitOutcome(chk.ID(), checkType, handle)

	o.logger.Info("check dispatched",
		zap.String("checkup_id", cu.ID()),
		zap.String("check_id", chk.ID()),
		zap.String("check_type", string(checkType)),
	)
	return chk, nil
}

// awaitOutcome consumes the handle's single outcome. The channel closes
// after one delivery, so a terminal transition runs at most once per check.
func (o *Orchestrator) awaitOutcome(checkID string, checkType domain.CheckType, handle *executor.Handle) {
	defer o.reactors.Done()
	for outcome := range handle.Done() {
		o.applyOutcome(checkID, checkType, outcome)
	}
}

// applyOutcome commits the terminal transition. It runs on its own scoped
// context: the request that created the check has long since returned.
// Storage or summarizer failures are logged and not retried; the check
// stays in running, a known limitation.
func (o *Orchestrator) applyOutcome(checkID string, checkType domain.CheckType, outcome executor.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), transitionTimeout)
	defer cancel()

	if outcome.Err != nil {
		o.logger.Info("check failed",
			zap.String("check_id", checkID),
			zap.String("check_type", string(checkType)),
			zap.Error(outcome.Err),
		)
		failure := domain.FailurePayload(outcome.Err.Error())
		if err := o.checkupRepo.CompleteCheckWithFailure(ctx, checkID, failure); err != nil {
			o.logger.Error("failure transition not persisted, check stays running",
				zap.String("check_id", checkID),
				zap.Error(err),
			)
		}
		return
	}

	reduced := ReduceForSummary(checkType, outcome.Payload)
	description, err := o.summarizer.Summarize(ctx, checkType, reduced)
	if err != nil {
		o.logger.Error("summarization failed, check stays running",
			zap.String("check_id", checkID),
			zap.String("check_type", string(checkType)),
			zap.Error(err),
		)
		return
	}

	if err := o.checkupRepo.CompleteCheckWithResults(ctx, checkID, outcome.Payload, description); err != nil {
		o.logger.Error("completed transition not persisted, check stays running",
			zap.String("check_id", checkID),
			zap.Error(err),
		)
		return
	}

	o.logger.Info("check completed",
		zap.String("check_id", checkID),
		zap.String("check_type", string(checkType)),
	)
}

// Drain blocks until every in-flight lifecycle reaction has finished. Used
// on shutdown and by tests.
func (o *Orchestrator) Drain() {
	o.reactors.Wait()
}

// CheckupForOwner fetches a checkup and asserts ownership.
func (o *Orchestrator) CheckupForOwner(ctx context.Context, checkupID, ownerID string) (*domain.Checkup, error) {
	cu, err := o.checkupRepo.CheckupByID(ctx, checkupID)
	if err != nil {
		return nil, err
	}
	if cu.OwnerID() != ownerID {
		return nil, sharedErrors.ErrCheckupForbidden
	}
	return cu, nil
}

// CheckForOwner fetches a check, asserting it belongs to the checkup and
// the checkup to the owner.
func (o *Orchestrator) CheckForOwner(ctx context.Context, checkupID, checkID, ownerID string) (*domain.Check, error) {
	cu, err := o.CheckupForOwner(ctx, checkupID, ownerID)
	if err != nil {
		return nil, err
	}
	if _, ok := cu.CheckByID(checkID); !ok {
		return nil, sharedErrors.ErrCheckNotFound
	}
	return o.checkupRepo.CheckByID(ctx, checkID)
}

// CheckupsByOwner lists an owner's checkups, newest first.
func (o *Orchestrator) CheckupsByOwner(ctx context.Context, ownerID string) ([]*domain.Checkup, error) {
	return o.checkupRepo.CheckupsByOwner(ctx, ownerID)
}
