package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/tierkit/internal/classify"
	"github.com/abhisek/tierkit/internal/config"
	"github.com/abhisek/tierkit/internal/engine"
)

func sampleBatch() *engine.Batch {
	return &engine.Batch{
		Domain:  "sdoh",
		Version: "v1.0.0",
		Total:   3,
		Results: []engine.Result{
			{RecordID: "m-1", Score: 4, Tier: classify.Tier{ID: "HOUSING_FIRST", Label: "Housing First"}, MatchedBy: "housing_first"},
			{RecordID: "m-2", Score: 1, Tier: classify.Tier{ID: "STANDARD_CARE_MANAGEMENT", Label: "Standard"}, MatchedBy: "default"},
		},
		Skipped: []engine.Skip{{Index: 2, RecordID: "m-3", Reason: "bad"}},
	}
}

func TestEncode(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	msgs, err := Encode("run-1", sampleBatch(), nil, at)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "m-1", string(msgs[0].Key))
	assert.Equal(t, TypeResult, msgs[0].Type)
	assert.Equal(t, at, msgs[0].Time)

	var ev ResultEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &ev))
	assert.Equal(t, ResultEvent{
		RunID: "run-1", Domain: "sdoh", Version: "v1.0.0", RecordID: "m-1",
		Tier: "HOUSING_FIRST", TierLabel: "Housing First", Score: 4, MatchedBy: "housing_first",
	}, ev)

	last := msgs[2]
	assert.Equal(t, "run-1", string(last.Key))
	assert.Equal(t, TypeRun, last.Type)
	var run RunEvent
	require.NoError(t, json.Unmarshal(last.Value, &run))
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 2, run.Classified)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, map[string]int{"HOUSING_FIRST": 1, "STANDARD_CARE_MANAGEMENT": 1}, run.TierCounts)
}

type fakeWriter struct {
	err    error
	got    []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafka(w, "tierkit.results")

	msgs, err := Encode("run-1", sampleBatch(), nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), msgs...))

	require.Len(t, w.got, 3)
	assert.Equal(t, []byte("m-2"), w.got[1].Key)
	assert.Equal(t, []kafka.Header{{Key: typeHeader, Value: []byte(TypeResult)}}, w.got[1].Headers)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_Empty(t *testing.T) {
	w := &fakeWriter{err: errors.New("should not be called")}
	assert.NoError(t, newKafka(w, "t").Publish(context.Background()))
}

func TestKafkaPublisher_WrapsError(t *testing.T) {
	w := &fakeWriter{err: kafka.LeaderNotAvailable}
	err := newKafka(w, "tierkit.results").Publish(context.Background(), Message{Key: []byte("k")})
	require.Error(t, err)
	assert.ErrorIs(t, err, kafka.LeaderNotAvailable)
	assert.Contains(t, err.Error(), "tierkit.results")
}

func retryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts: 3,
		InitialWait: 1 * time.Millisecond,
		MaxWait:     10 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	mock := NewMockPublisher()
	p := WithRetry(mock, retryConfig())

	require.NoError(t, p.Publish(context.Background(), Message{Key: []byte("a")}))
	assert.Equal(t, 1, mock.Calls)
	assert.Len(t, mock.Sent, 1)
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	mock := NewMockPublisher(errors.New("connection reset"), kafka.LeaderNotAvailable)
	p := WithRetry(mock, retryConfig())

	require.NoError(t, p.Publish(context.Background(), Message{}))
	assert.Equal(t, 3, mock.Calls)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	down := errors.New("down")
	mock := NewMockPublisher(down, down, down, down)
	p := WithRetry(mock, retryConfig())

	err := p.Publish(context.Background(), Message{})
	assert.ErrorIs(t, err, down)
	assert.Equal(t, 3, mock.Calls)
}

func TestRetry_PermanentBrokerErrorNotRetried(t *testing.T) {
	mock := NewMockPublisher(kafka.TopicAuthorizationFailed)
	p := WithRetry(mock, retryConfig())

	err := p.Publish(context.Background(), Message{})
	assert.ErrorIs(t, err, kafka.TopicAuthorizationFailed)
	assert.Equal(t, 1, mock.Calls)
}

func TestRetry_ContextCancelNotRetried(t *testing.T) {
	mock := NewMockPublisher(context.Canceled)
	p := WithRetry(mock, retryConfig())

	err := p.Publish(context.Background(), Message{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.Calls)
}

func TestRetry_StopsWhenContextDone(t *testing.T) {
	mock := NewMockPublisher(errors.New("down"), errors.New("down"))
	cfg := retryConfig()
	cfg.InitialWait = time.Hour
	cfg.MaxWait = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(mock, cfg).Publish(ctx, Message{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.Calls)
}

func TestRetry_BackoffBounded(t *testing.T) {
	r := &RetryPublisher{config: config.RetryConfig{
		MaxAttempts: 10,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     time.Second,
		Multiplier:  2.0,
	}}
	for attempt := range 10 {
		wait := r.backoff(attempt)
		assert.GreaterOrEqual(t, wait, time.Duration(0))
		assert.LessOrEqual(t, wait, 1200*time.Millisecond, "attempt %d", attempt)
	}
	first := r.backoff(0)
	assert.InDelta(t, float64(100*time.Millisecond), float64(first), float64(20*time.Millisecond))
}

func TestRetry_ClosesInner(t *testing.T) {
	mock := NewMockPublisher()
	require.NoError(t, WithRetry(mock, retryConfig()).Close())
	assert.True(t, mock.Closed)
}
