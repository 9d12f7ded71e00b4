package callstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

// dynamoAPI is the minimal surface used, matching the teacher's jobstore.go
// dynamoAPI local interface so a fake can be a struct literal in tests.
type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements Store on a DynamoDB table keyed
// (callerPhoneNumber, callId), with a "call_id-index" GSI (PK=callId) for
// GetByID and a "created_at" range on the base table for ListByPhone /
// GetLast.
type DynamoStore struct {
	client       dynamoAPI
	tableName    string
	callIDIndex  string
	logger       *logging.Logger
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a Store backed by the given DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName, callIDIndex string, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("callstore: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("callstore: table name cannot be empty")
	}
	if callIDIndex == "" {
		callIDIndex = "call_id-index"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{client: client, tableName: tableName, callIDIndex: callIDIndex, logger: logger}
}

type itemKey struct {
	CallerPhoneNumber string `dynamodbav:"callerPhoneNumber"`
	CallID            string `dynamodbav:"callId"`
}

func (s *DynamoStore) GetLast(ctx context.Context, phoneNumber string) (*callmodel.Call, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("callerPhoneNumber = :phone"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":phone": &types.AttributeValueMemberS{Value: phoneNumber},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, newErr(KindTransient, fmt.Errorf("callstore: query last call: %w", err))
	}
	if len(out.Items) == 0 {
		return nil, newErr(KindNotFound, ErrNotFound)
	}
	var call callmodel.Call
	if err := attributevalue.UnmarshalMap(out.Items[0], &call); err != nil {
		return nil, newErr(KindTransient, fmt.Errorf("callstore: decode call: %w", err))
	}
	return &call, nil
}

func (s *DynamoStore) GetByID(ctx context.Context, id uuid.UUID) (*callmodel.Call, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(s.callIDIndex),
		KeyConditionExpression: aws.String("callId = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: id.String()},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, newErr(KindTransient, fmt.Errorf("callstore: query by id: %w", err))
	}
	if len(out.Items) == 0 {
		return nil, newErr(KindNotFound, ErrNotFound)
	}
	var call callmodel.Call
	if err := attributevalue.UnmarshalMap(out.Items[0], &call); err != nil {
		return nil, newErr(KindTransient, fmt.Errorf("callstore: decode call: %w", err))
	}
	return &call, nil
}

// Save uses a conditional PutItem/UpdateItem exactly like the teacher's
// JobStore.PutPending/updateJob: attribute_not_exists(callId) for the first
// insert (Version == 0), or version = :expected for every subsequent save.
func (s *DynamoStore) Save(ctx context.Context, call *callmodel.Call) error {
	if call == nil {
		return errors.New("callstore: call cannot be nil")
	}

	now := time.Now().UTC()
	expectedVersion := call.Version

	if expectedVersion == 0 {
		call.CreatedAt = now
		call.UpdatedAt = now
		call.Version = 1

		item, err := attributevalue.MarshalMap(call)
		if err != nil {
			call.Version = expectedVersion
			return fmt.Errorf("callstore: marshal call: %w", err)
		}

		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(callId)"),
		})
		if err != nil {
			call.Version = expectedVersion
			if isConditionFailure(err) {
				return newErr(KindConflict, ErrConflict)
			}
			return newErr(KindTransient, fmt.Errorf("callstore: put call: %w", err))
		}
		return nil
	}

	call.UpdatedAt = now
	call.Version = expectedVersion + 1

	item, err := attributevalue.MarshalMap(call)
	if err != nil {
		call.Version = expectedVersion
		return fmt.Errorf("callstore: marshal call: %w", err)
	}
	// callerPhoneNumber/callId are the key; the rest of the item is the
	// update via a full-item PutItem guarded by the version check, mirroring
	// jobstore_postgres.go's whole-row-replace-with-version-predicate style.
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
		},
	})
	if err != nil {
		call.Version = expectedVersion
		if isConditionFailure(err) {
			return newErr(KindConflict, ErrConflict)
		}
		return newErr(KindTransient, fmt.Errorf("callstore: save call: %w", err))
	}
	return nil
}

func (s *DynamoStore) ListByPhone(ctx context.Context, phoneNumber string, limit int) ([]*callmodel.Call, error) {
	if limit <= 0 {
		limit = 20
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("callerPhoneNumber = :phone"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":phone": &types.AttributeValueMemberS{Value: phoneNumber},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, newErr(KindTransient, fmt.Errorf("callstore: list by phone: %w", err))
	}
	calls := make([]*callmodel.Call, 0, len(out.Items))
	for _, item := range out.Items {
		var call callmodel.Call
		if err := attributevalue.UnmarshalMap(item, &call); err != nil {
			return nil, newErr(KindTransient, fmt.Errorf("callstore: decode call: %w", err))
		}
		calls = append(calls, &call)
	}
	return calls, nil
}

func isConditionFailure(err error) bool {
	var condFailed *types.ConditionalCheckFailedException
	return errors.As(err, &condFailed)
}
