package mail

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sendTimeout = 30 * time.Second

// Async dispatches each message on its own goroutine and logs failures.
// Send methods always return nil.
type Async struct {
	next   Mailer
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewAsync(next Mailer, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{next: next, logger: logger}
}

func (a *Async) SendPasswordReset(ctx context.Context, m PasswordResetMail) error {
	a.dispatch(ctx, "password_reset", func(ctx context.Context) error { return a.next.SendPasswordReset(ctx, m) })
	return nil
}

func (a *Async) SendAccountStatus(ctx context.Context, m AccountStatusMail) error {
	a.dispatch(ctx, "account_status", func(ctx context.Context) error { return a.next.SendAccountStatus(ctx, m) })
	return nil
}

func (a *Async) SendAccountStatusChange(ctx context.Context, m AccountStatusChangeMail) error {
	a.dispatch(ctx, "account_status_change", func(ctx context.Context) error { return a.next.SendAccountStatusChange(ctx, m) })
	return nil
}

// Wait blocks until in-flight messages finish. Called on shutdown.
func (a *Async) Wait() {
	a.wg.Wait()
}

func (a *Async) dispatch(parent context.Context, kind string, fn func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), sendTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.logger.Warn("mail delivery failed", zap.String("kind", kind), zap.Error(err))
		}
	}()
}
