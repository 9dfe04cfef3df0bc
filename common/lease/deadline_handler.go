// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
)

var (
	// ErrLeaseExpired is the cause when the deadline passed without a successful renewal
	ErrLeaseExpired = errors.New("lease expired")
	// ErrLeaseLost is returned by a RenewFunc when the storage reports the lease is held by someone else
	ErrLeaseLost = errors.New("lease lost")
)

// RenewFunc extends the lease in the storage. Returning an error wrapping ErrLeaseLost,
// or any error marked terminal by the caller, revokes the lease at once.
// Other errors are retried at the next refresh until the deadline passes
type RenewFunc func(ctx context.Context) error

// DeadlineHandler holds a renewable time-bounded claim.
// The deadline is an explicit wall clock value, checked every time the refresh timer fires.
// Lost is closed exactly once, when the deadline passes or a renewal revokes the claim
type DeadlineHandler struct {
	leaseDuration time.Duration
	refreshPeriod time.Duration
	renew         RenewFunc
	isTerminal    func(error) bool
	logger        log.Logger

	mu       sync.Mutex
	deadline time.Time
	cause    error

	lost      chan struct{}
	lostOnce  sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
	gate      TimerGate
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// NewDeadlineHandler starts the refresh loop of a claim acquired just now
func NewDeadlineHandler(
	leaseDuration, refreshPeriod time.Duration, renew RenewFunc, logger log.Logger,
) *DeadlineHandler {
	return NewDeadlineHandlerWithTerminalErrors(leaseDuration, refreshPeriod, renew, nil, logger)
}

// NewDeadlineHandlerWithTerminalErrors is NewDeadlineHandler where isTerminal decides which
// renewal errors revoke the claim immediately, on top of ErrLeaseLost
func NewDeadlineHandlerWithTerminalErrors(
	leaseDuration, refreshPeriod time.Duration, renew RenewFunc, isTerminal func(error) bool, logger log.Logger,
) *DeadlineHandler {
	runCtx, cancelRun := context.WithCancel(context.Background())
	h := &DeadlineHandler{
		leaseDuration: leaseDuration,
		refreshPeriod: refreshPeriod,
		renew:         renew,
		isTerminal:    isTerminal,
		logger:        logger,
		deadline:      time.Now().Add(leaseDuration),
		lost:          make(chan struct{}),
		stop:          make(chan struct{}),
		gate:          NewLocalTimerGate(),
		runCtx:        runCtx,
		cancelRun:     cancelRun,
	}
	h.gate.Update(h.nextFireTime())
	go h.run()
	return h
}

func (h *DeadlineHandler) run() {
	defer h.gate.Close()
	for {
		select {
		case <-h.stop:
			return
		case <-h.gate.FireChan():
			if h.Expired() {
				h.Revoke(ErrLeaseExpired)
				return
			}
			h.tryRenew()
			select {
			case <-h.lost:
				return
			default:
			}
			h.gate.Update(h.nextFireTime())
		}
	}
}

func (h *DeadlineHandler) tryRenew() {
	ctx, cancel := context.WithDeadline(h.runCtx, h.Deadline())
	defer cancel()

	err := h.renew(ctx)
	if err == nil {
		h.mu.Lock()
		h.deadline = time.Now().Add(h.leaseDuration)
		h.mu.Unlock()
		return
	}
	if errors.Is(err, ErrLeaseLost) || (h.isTerminal != nil && h.isTerminal(err)) {
		h.Revoke(err)
		return
	}
	select {
	case <-h.stop:
		// released while renewing
	default:
		h.logger.Warn("failed to renew lease, retrying at next refresh", tag.Error(err))
	}
}

// nextFireTime is the next refresh, or the deadline itself when it comes first
func (h *DeadlineHandler) nextFireTime() time.Time {
	next := time.Now().Add(h.refreshPeriod)
	deadline := h.Deadline()
	if deadline.Before(next) {
		return deadline
	}
	return next
}

func (h *DeadlineHandler) Deadline() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deadline
}

// Expired compares the deadline with the wall clock
func (h *DeadlineHandler) Expired() bool {
	return time.Now().After(h.Deadline())
}

// Lost is closed once the claim cannot be held anymore
func (h *DeadlineHandler) Lost() <-chan struct{} {
	return h.lost
}

// Err is the reason the claim was lost, nil while it is held
func (h *DeadlineHandler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cause
}

// Revoke signals the loss of the claim with the cause. Only the first call has an effect
func (h *DeadlineHandler) Revoke(cause error) {
	h.lostOnce.Do(func() {
		h.mu.Lock()
		h.cause = cause
		h.mu.Unlock()
		close(h.lost)
	})
}

// Release stops the renewals without signaling a loss
func (h *DeadlineHandler) Release() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.cancelRun()
	})
}
