package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"realestate-crawler/models"
)

// SessionPool bounds the number of open browser sessions.
type SessionPool struct {
	browser        Browser
	sem            *semaphore.Weighted
	acquireTimeout time.Duration
}

// NewSessionPool allows at most size concurrent sessions. Acquire gives up
// with models.ErrNoSession after acquireTimeout; zero waits for ctx only.
func NewSessionPool(b Browser, size int, acquireTimeout time.Duration) *SessionPool {
	if size < 1 {
		size = 1
	}
	return &SessionPool{browser: b, sem: semaphore.NewWeighted(int64(size)), acquireTimeout: acquireTimeout}
}

// Acquire opens a session. release closes it and frees the slot; it is safe
// to call more than once.
func (p *SessionPool) Acquire(ctx context.Context) (Session, func(), error) {
	waitCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: waited %v", models.ErrNoSession, p.acquireTimeout)
	}

	sess, err := p.browser.OpenSession(ctx)
	if err != nil {
		p.sem.Release(1)
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: %v", models.ErrNoSession, err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_ = sess.Close()
			p.sem.Release(1)
		})
	}
	return sess, release, nil
}

// With runs fn with a session, releasing it on every return path.
func (p *SessionPool) With(ctx context.Context, fn func(Session) error) error {
	sess, release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(sess)
}

// IsNoSession reports whether err means no session could be opened.
func IsNoSession(err error) bool {
	return errors.Is(err, models.ErrNoSession)
}
