package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brightline-labs/voicecore/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoManager is the Manager backed by a DynamoDB table as the source of
// truth, with an optional Redis fast-path cache consulted before paying for
// a round trip on Renew (grounded on voice_call_store.go's SET-with-TTL
// idiom). A Redis miss always falls through to the conditional DynamoDB
// update; the lease is never considered held on Redis state alone.
type DynamoManager struct {
	client    dynamoAPI
	tableName string
	redis     *redis.Client
	logger    *logging.Logger
}

var _ Manager = (*DynamoManager)(nil)

// NewDynamoManager builds a Manager. redisClient may be nil, in which case
// every Renew pays for a DynamoDB round trip.
func NewDynamoManager(client dynamoAPI, tableName string, redisClient *redis.Client, logger *logging.Logger) *DynamoManager {
	if client == nil {
		panic("lease: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("lease: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoManager{client: client, tableName: tableName, redis: redisClient, logger: logger}
}

func (m *DynamoManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = DefaultCallTTL
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	token := uuid.NewString()

	_, err := m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(m.tableName),
		Item: map[string]types.AttributeValue{
			"leaseKey":      &types.AttributeValueMemberS{Value: key},
			"holderToken":   &types.AttributeValueMemberS{Value: token},
			"expiresAtUnix": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
		},
		// Acquirable if nobody holds the key, or the prior holder's lease
		// has expired — the disjunction that makes a timed-out lease
		// re-acquirable in a single round trip.
		ConditionExpression: aws.String("attribute_not_exists(leaseKey) OR expiresAtUnix < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("lease: acquire %q: %w", key, err)
	}

	l := &Lease{Key: key, HolderToken: token, ExpiresAt: expiresAt}
	m.cacheFastPath(ctx, l, ttl)
	return l, nil
}

func (m *DynamoManager) Renew(ctx context.Context, l *Lease, ttl time.Duration) error {
	if l == nil {
		return errors.New("lease: lease cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultCallTTL
	}
	expiresAt := time.Now().UTC().Add(ttl)

	_, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"leaseKey": &types.AttributeValueMemberS{Value: l.Key},
		},
		UpdateExpression: aws.String("SET expiresAtUnix = :expires"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expires": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
			":token":   &types.AttributeValueMemberS{Value: l.HolderToken},
		},
		ConditionExpression: aws.String("holderToken = :token"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrLost
		}
		return fmt.Errorf("lease: renew %q: %w", l.Key, err)
	}

	l.ExpiresAt = expiresAt
	m.cacheFastPath(ctx, l, ttl)
	return nil
}

func (m *DynamoManager) Release(ctx context.Context, l *Lease) error {
	if l == nil {
		return nil
	}
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"leaseKey": &types.AttributeValueMemberS{Value: l.Key},
		},
		ConditionExpression: aws.String("holderToken = :token"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: l.HolderToken},
		},
	})
	if err != nil && !isConditionFailure(err) {
		return fmt.Errorf("lease: release %q: %w", l.Key, err)
	}
	if m.redis != nil {
		m.redis.Del(ctx, fastPathKey(l.Key))
	}
	return nil
}

// cacheFastPath best-effort mirrors the lease's expiry into Redis; failures
// are logged and swallowed since Redis here is only an optimization, never
// the source of truth.
func (m *DynamoManager) cacheFastPath(ctx context.Context, l *Lease, ttl time.Duration) {
	if m.redis == nil {
		return
	}
	if err := m.redis.Set(ctx, fastPathKey(l.Key), l.HolderToken, ttl).Err(); err != nil {
		m.logger.Warn("lease: failed to cache fast-path renewal key", "key", l.Key, "error", err)
	}
}

func fastPathKey(key string) string { return "lease:fastpath:" + key }

func isConditionFailure(err error) bool {
	var condFailed *types.ConditionalCheckFailedException
	return errors.As(err, &condFailed)
}
