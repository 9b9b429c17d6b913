package store

import (
	"context"
	"testing"

	"github.com/astromesh/observer/internal/models"
)

// Validation runs before any pool access, so these paths are testable
// without a database. Full insert/duplicate behavior is exercised against
// Postgres by the deployment smoke tests.

func TestInsertAttentionEvent_RejectsIncompleteRecord(t *testing.T) {
	p := &PostgresStore{}

	err := p.InsertAttentionEvent(context.Background(), models.AttentionEvent{
		Target: "heartbeat",
	})
	if err == nil {
		t.Fatal("expected error for record without server_name/event_type")
	}
}

func TestInsertOperation_RejectsIncompleteRecord(t *testing.T) {
	p := &PostgresStore{}

	cases := []models.Operation{
		{ServerName: "s", OperationType: "build"},     // no id
		{OperationID: "op-1", OperationType: "build"}, // no server
		{OperationID: "op-1", ServerName: "s"},        // no type
	}
	for _, op := range cases {
		if _, err := p.InsertOperation(context.Background(), op); err == nil {
			t.Fatalf("expected error for %#v", op)
		}
	}
}
