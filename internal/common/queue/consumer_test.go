package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"comfyui-workers/internal/common/config"
	"comfyui-workers/internal/common/database"
	stderrs "comfyui-workers/internal/common/errors"
	"comfyui-workers/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoProcess(ctx context.Context, event map[string]interface{}) (interface{}, error) {
	input, _ := event["input"].(map[string]interface{})
	if input["fail"] == true {
		return map[string]interface{}{"status": "FAILED", "error": "boom", "output": nil},
			stderrs.NewValidationError("boom")
	}
	return map[string]interface{}{"status": "COMPLETED", "error": nil, "output": input}, nil
}

func testOptions() Options {
	return Options{
		TaskType:     "image.generate",
		Key:          "imagegen:jobs",
		ResultPrefix: "imagegen:result:",
		ResultTTL:    time.Minute,
		PopTimeout:   50 * time.Millisecond,
		ErrorBackoff: 10 * time.Millisecond,
	}
}

func TestConsumer_RunStoresResults(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := database.NewRedis(config.RedisConfig{Address: mr.Addr()})
	defer rc.Close()

	consumer := NewConsumer(rc, echoProcess, testOptions(), logger.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.NoError(t, rc.Push(ctx, "imagegen:jobs", `{"id": "job-1", "input": {"prompt": "a cat"}}`))
	require.NoError(t, rc.Push(ctx, "imagegen:jobs", `{"id": "job-2", "input": {"fail": true}}`))

	require.Eventually(t, func() bool {
		return mr.Exists("imagegen:result:job-1") && mr.Exists("imagegen:result:job-2")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	raw, err := mr.Get("imagegen:result:job-1")
	require.NoError(t, err)
	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &first))
	assert.Equal(t, "COMPLETED", first["status"])
	assert.Equal(t, map[string]interface{}{"prompt": "a cat"}, first["output"])

	raw, err = mr.Get("imagegen:result:job-2")
	require.NoError(t, err)
	assert.Contains(t, raw, `"FAILED"`)
	assert.True(t, mr.TTL("imagegen:result:job-2") > 0)
}

func TestConsumer_Handle_AssignsID(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := database.NewRedis(config.RedisConfig{Address: mr.Addr()})
	defer rc.Close()

	var seen map[string]interface{}
	consumer := NewConsumer(rc, func(ctx context.Context, event map[string]interface{}) (interface{}, error) {
		seen = event
		return map[string]interface{}{"status": "COMPLETED"}, nil
	}, testOptions(), nil)

	id, err := consumer.Handle(context.Background(), `{"input": {}}`)
	require.NoError(t, err)
	_, parseErr := uuid.Parse(id)
	assert.NoError(t, parseErr)
	assert.True(t, mr.Exists("imagegen:result:"+id))
	assert.NotContains(t, seen, "id")

	id, err = consumer.Handle(context.Background(), `{"id": 42, "input": {}}`)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestConsumer_Handle_Malformed(t *testing.T) {
	called := false
	consumer := NewConsumer(nil, func(context.Context, map[string]interface{}) (interface{}, error) {
		called = true
		return nil, nil
	}, testOptions(), logger.NewTestLogger(t))

	for _, payload := range []string{`not json`, `null`, `[1,2]`} {
		_, err := consumer.Handle(context.Background(), payload)
		assert.Error(t, err, payload)
	}
	assert.False(t, called)
}

func TestConsumer_Handle_StoreFailure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rc := database.NewRedisFromClient(db)
	consumer := NewConsumer(rc, echoProcess, testOptions(), logger.NewTestLogger(t))

	body, err := json.Marshal(map[string]interface{}{"status": "COMPLETED", "error": nil, "output": map[string]interface{}{}})
	require.NoError(t, err)
	mock.ExpectSet("imagegen:result:job-9", body, time.Minute).SetErr(errors.New("READONLY"))

	id, err := consumer.Handle(context.Background(), `{"id": "job-9", "input": {}}`)
	require.Error(t, err)
	assert.Equal(t, "job-9", id)
	assert.Contains(t, err.Error(), "READONLY")
	assert.NoError(t, mock.ExpectationsWereMet())
}

type flakyStore struct {
	calls int
	ready chan struct{}
}

func (s *flakyStore) Pop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	s.calls++
	if s.calls == 3 {
		close(s.ready)
	}
	if s.calls%2 == 1 {
		return "", errors.New("connection reset")
	}
	return "", database.ErrQueueEmpty
}

func (s *flakyStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}

func TestConsumer_RunSurvivesPopErrors(t *testing.T) {
	store := &flakyStore{ready: make(chan struct{})}
	consumer := NewConsumer(store, echoProcess, testOptions(), logger.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	select {
	case <-store.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer stopped polling after an error")
	}
	cancel()
	assert.NoError(t, <-done)
}
