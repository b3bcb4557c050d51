package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"comfyui-workers/internal/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClient_PushPop(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := NewRedis(config.RedisConfig{Address: mr.Addr()})
	defer rc.Close()

	ctx := context.Background()
	require.NoError(t, rc.Ping(ctx))
	require.NoError(t, rc.Push(ctx, "jobs", "first"))
	require.NoError(t, rc.Push(ctx, "jobs", "second"))

	got, err := rc.Pop(ctx, "jobs", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	require.NoError(t, rc.Set(ctx, "result:1", "done", time.Minute))
	val, err := mr.Get("result:1")
	require.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.True(t, mr.TTL("result:1") > 0)
}

func TestRedisClient_PopEmpty(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rc := NewRedisFromClient(db)

	mock.ExpectBRPop(time.Second, "jobs").RedisNil()

	_, err := rc.Pop(context.Background(), "jobs", time.Second)
	assert.ErrorIs(t, err, ErrQueueEmpty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisClient_PopError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rc := NewRedisFromClient(db)

	mock.ExpectBRPop(time.Second, "jobs").SetErr(errors.New("connection lost"))

	_, err := rc.Pop(context.Background(), "jobs", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQueueEmpty)
	assert.Contains(t, err.Error(), "connection lost")
}

func TestRedisClient_PingFailure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rc := NewRedisFromClient(db)

	mock.ExpectPing().SetErr(errors.New("refused"))

	err := rc.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}
