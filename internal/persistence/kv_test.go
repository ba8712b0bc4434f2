package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisKV_SetMapsOOMToQuota(t *testing.T) {
	db, mock := redismock.NewClientMock()
	kv := NewRedisKV(db)

	mock.ExpectSet("k", "v", 0).SetErr(errors.New("OOM command not allowed when used memory > 'maxmemory'."))
	err := kv.Set(context.Background(), "k", "v")

	require.Error(t, err)
	assert.True(t, IsQuotaError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisKV_SetOtherErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	kv := NewRedisKV(db)

	mock.ExpectSet("k", "v", 0).SetErr(errors.New("connection reset by peer"))
	err := kv.Set(context.Background(), "k", "v")

	require.Error(t, err)
	assert.False(t, IsQuotaError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisKV_GetMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	kv := NewRedisKV(db)

	mock.ExpectGet("missing").RedisNil()
	val, ok, err := kv.Get(context.Background(), "missing")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, val)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisKV_KeysFollowsCursor(t *testing.T) {
	db, mock := redismock.NewClientMock()
	kv := NewRedisKV(db)

	mock.ExpectScan(0, "p:*", 100).SetVal([]string{"p:a"}, 7)
	mock.ExpectScan(7, "p:*", 100).SetVal([]string{"p:b"}, 0)

	keys, err := kv.Keys(context.Background(), "p:")
	require.NoError(t, err)
	assert.Equal(t, []string{"p:a", "p:b"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
