package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/brightline-labs/voicecore/pkg/logging"
)

type mockDynamo struct {
	putErr    error
	updateErr error
	putCalls  int
}

func (m *mockDynamo) PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putCalls++
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return &dynamodb.DeleteItemOutput{}, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	server := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: server.Addr()})
}

func TestDynamoManager_AcquireCachesFastPath(t *testing.T) {
	rdb := newTestRedis(t)
	mgr := NewDynamoManager(&mockDynamo{}, "leases", rdb, logging.Default())

	l, err := mgr.Acquire(context.Background(), CallKey("call-1"), time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, l.HolderToken)

	val, err := rdb.Get(context.Background(), fastPathKey(l.Key)).Result()
	require.NoError(t, err)
	require.Equal(t, l.HolderToken, val)
}

func TestDynamoManager_AcquireBusy(t *testing.T) {
	mgr := NewDynamoManager(&mockDynamo{putErr: &types.ConditionalCheckFailedException{}}, "leases", nil, logging.Default())

	_, err := mgr.Acquire(context.Background(), CallKey("call-1"), time.Minute)
	require.ErrorIs(t, err, ErrBusy)
}

func TestDynamoManager_RenewLost(t *testing.T) {
	mgr := NewDynamoManager(&mockDynamo{updateErr: &types.ConditionalCheckFailedException{}}, "leases", nil, logging.Default())

	l := &Lease{Key: CallKey("call-1"), HolderToken: "tok", ExpiresAt: time.Now()}
	err := mgr.Renew(context.Background(), l, time.Minute)
	require.ErrorIs(t, err, ErrLost)
}

func TestDynamoManager_ReleaseClearsFastPath(t *testing.T) {
	rdb := newTestRedis(t)
	mgr := NewDynamoManager(&mockDynamo{}, "leases", rdb, logging.Default())

	l, err := mgr.Acquire(context.Background(), CallKey("call-1"), time.Minute)
	require.NoError(t, err)

	require.NoError(t, mgr.Release(context.Background(), l))

	_, err = rdb.Get(context.Background(), fastPathKey(l.Key)).Result()
	require.ErrorIs(t, err, redis.Nil)
}
