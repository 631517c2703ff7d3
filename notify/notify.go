// Package notify fans completed sessions out to integrations.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mbolis/voiceform/log"
	"github.com/mbolis/voiceform/model"
)

// Completion is what integrations receive once per completed session.
type Completion struct {
	FormID       int                   `json:"formId"`
	FormTitle    string                `json:"formTitle"`
	SessionID    string                `json:"sessionId"`
	CompletedAt  time.Time             `json:"completedAt"`
	Answers      []model.AnsweredField `json:"answers"`
	Integrations []model.Webhook       `json:"-"`
}

type Notifier interface {
	NotifyCompletion(ctx context.Context, c Completion) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, c Completion) error

func (f NotifierFunc) NotifyCompletion(ctx context.Context, c Completion) error {
	return f(ctx, c)
}

const DefaultTimeout = 2 * time.Minute

// Fanout delivers a completion to every notifier concurrently.
type Fanout struct {
	notifiers []Notifier
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewFanout(timeout time.Duration, notifiers ...Notifier) *Fanout {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fanout{notifiers: notifiers, timeout: timeout}
}

// NotifyCompletion blocks until every notifier returned and reports all their failures.
func (f *Fanout) NotifyCompletion(ctx context.Context, c Completion) error {
	var (
		mu     sync.Mutex
		result error
		wg     sync.WaitGroup
	)
	for _, n := range f.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			if err := n.NotifyCompletion(ctx, c); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	return result
}

// Dispatch delivers in the background, detached from the caller's context.
// Failures are logged only.
func (f *Fanout) Dispatch(c Completion) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()

		if err := f.NotifyCompletion(ctx, c); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"form":    c.FormID,
				"session": c.SessionID,
			}).Error("completion notification failed")
		}
	}()
}

// Wait blocks until background deliveries are done.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

// Log notifier records completions in the application log.
var Log Notifier = NotifierFunc(func(_ context.Context, c Completion) error {
	log.WithFields(log.Fields{
		"form":    c.FormID,
		"session": c.SessionID,
		"answers": len(c.Answers),
	}).Info("session completed")
	return nil
})
