package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-multierror"
	"github.com/lestrrat-go/backoff/v2"
	"github.com/mbolis/voiceform/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completion(hooks ...model.Webhook) Completion {
	return Completion{
		FormID:      1,
		FormTitle:   "Lead capture",
		SessionID:   "s1",
		CompletedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Answers: []model.AnsweredField{
			{QuestionID: 1001, Question: "What is your name?", Value: model.Value{Kind: model.KindText, Text: "Alice"}},
		},
		Integrations: hooks,
	}
}

func fastRetry() WebhookOption {
	return WithBackoff(backoff.Constant(backoff.WithInterval(time.Millisecond), backoff.WithMaxRetries(2)))
}

func TestFanout_AggregatesErrors(t *testing.T) {
	var calls atomic.Int32
	ok := NotifierFunc(func(context.Context, Completion) error { calls.Add(1); return nil })
	bad := NotifierFunc(func(context.Context, Completion) error { calls.Add(1); return errors.New("smtp down") })

	f := NewFanout(time.Second, ok, bad, bad)
	err := f.NotifyCompletion(context.Background(), completion())
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFanout_DispatchIsDetached(t *testing.T) {
	release := make(chan struct{})
	done := make(chan Completion, 1)
	slow := NotifierFunc(func(ctx context.Context, c Completion) error {
		<-release
		done <- c
		return ctx.Err()
	})

	f := NewFanout(time.Second, slow)
	f.Dispatch(completion())
	close(release)
	f.Wait()

	c := <-done
	assert.Equal(t, "s1", c.SessionID)
}

func TestWebhook_Delivers(t *testing.T) {
	var got Completion
	var secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get(SecretHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	w := NewWebhook(fastRetry())
	err := w.NotifyCompletion(context.Background(), completion(model.Webhook{URL: srv.URL, Secret: "s3cr3t"}))
	require.NoError(t, err)

	assert.Equal(t, SignSecret("s3cr3t"), secret)
	assert.Equal(t, "s1", got.SessionID)
	require.Len(t, got.Answers, 1)
	assert.Equal(t, "What is your name?", got.Answers[0].Question)
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(fastRetry())
	err := w.NotifyCompletion(context.Background(), completion(model.Webhook{URL: srv.URL}))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhook_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	w := NewWebhook(fastRetry(), WithGlobal(model.Webhook{URL: "not a url"}))
	err := w.NotifyCompletion(context.Background(), completion(model.Webhook{URL: srv.URL}))

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.Equal(t, int32(1), calls.Load())
}
