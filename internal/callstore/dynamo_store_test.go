package callstore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

type mockDynamo struct {
	putInput    *dynamodb.PutItemInput
	putErr      error
	queryOutput *dynamodb.QueryOutput
	queryErr    error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamo) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.queryOutput != nil {
		return m.queryOutput, nil
	}
	return &dynamodb.QueryOutput{}, nil
}

func newTestCall() *callmodel.Call {
	return callmodel.New(callmodel.Initiate{
		BotName:            "Aria",
		CallerPhoneNumber:  "+33612345678",
		LanguageDefault:    "fr-FR",
		LanguagesAvailable: []string{"fr-FR"},
	})
}

func TestDynamoStore_SaveFirstInsertUsesConditionalPut(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "calls", "", logging.Default())

	call := newTestCall()
	call.Version = 0

	if err := store.Save(context.Background(), call); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if mock.putInput == nil {
		t.Fatal("expected PutItem to be called")
	}
	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(callId)" {
		t.Fatalf("expected insert condition expression, got %v", expr)
	}
	if call.Version != 1 {
		t.Fatalf("expected version to become 1, got %d", call.Version)
	}
}

func TestDynamoStore_SaveSubsequentUsesVersionCondition(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "calls", "", logging.Default())

	call := newTestCall()
	call.Version = 7

	if err := store.Save(context.Background(), call); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "version = :expected" {
		t.Fatalf("expected version condition expression, got %v", expr)
	}
	if call.Version != 8 {
		t.Fatalf("expected version to become 8, got %d", call.Version)
	}
}

func TestDynamoStore_SaveConflictRestoresVersion(t *testing.T) {
	mock := &mockDynamo{putErr: &types.ConditionalCheckFailedException{}}
	store := NewDynamoStore(mock, "calls", "", logging.Default())

	call := newTestCall()
	call.Version = 7

	err := store.Save(context.Background(), call)
	if !IsConflict(err) {
		t.Fatalf("expected a conflict error, got %v", err)
	}
	if call.Version != 7 {
		t.Fatalf("expected version to be restored to 7 on conflict, got %d", call.Version)
	}
}

func TestDynamoStore_GetLastNotFound(t *testing.T) {
	mock := &mockDynamo{queryOutput: &dynamodb.QueryOutput{Items: nil}}
	store := NewDynamoStore(mock, "calls", "", logging.Default())

	_, err := store.GetLast(context.Background(), "+33612345678")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
