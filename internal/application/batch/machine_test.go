package batch

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/fsm"
)

func TestBatchMachine(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		tally   Tally
		trigger fsm.Trigger
		want    string
		wantErr bool
	}{
		{"all succeeded", entity.BatchStatusProcessing, Tally{Total: 3, Success: 3}, TriggerResolve, entity.BatchStatusCompleted, false},
		{"all failed", entity.BatchStatusProcessing, Tally{Total: 2, Failed: 2}, TriggerResolve, entity.BatchStatusFailed, false},
		{"mixed", entity.BatchStatusProcessing, Tally{Total: 5, Success: 3, Failed: 2}, TriggerResolve, entity.BatchStatusPartiallyCompleted, false},
		{"pending items block resolve", entity.BatchStatusProcessing, Tally{Total: 2, Success: 1, Pending: 1}, TriggerResolve, entity.BatchStatusProcessing, true},
		{"retry failed", entity.BatchStatusFailed, Tally{Total: 2, Failed: 2}, TriggerRetry, entity.BatchStatusProcessing, false},
		{"retry partial", entity.BatchStatusPartiallyCompleted, Tally{Total: 2, Success: 1, Failed: 1}, TriggerRetry, entity.BatchStatusProcessing, false},
		{"retry needs a failure", entity.BatchStatusPartiallyCompleted, Tally{Total: 2, Success: 2}, TriggerRetry, entity.BatchStatusPartiallyCompleted, true},
		{"cancel processing", entity.BatchStatusProcessing, Tally{Total: 1, Pending: 1}, TriggerCancel, entity.BatchStatusCancelled, false},
		{"cancel failed", entity.BatchStatusFailed, Tally{Total: 1, Failed: 1}, TriggerCancel, entity.BatchStatusCancelled, false},
		{"partial is not cancellable", entity.BatchStatusPartiallyCompleted, Tally{Total: 2, Success: 1, Failed: 1}, TriggerCancel, entity.BatchStatusPartiallyCompleted, true},
		{"completed is absorbing", entity.BatchStatusCompleted, Tally{Total: 1, Success: 1}, TriggerRetry, entity.BatchStatusCompleted, true},
		{"cancelled is absorbing", entity.BatchStatusCancelled, Tally{Total: 1, Failed: 1}, TriggerRetry, entity.BatchStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tally := tt.tally
			m, err := NewBatchMachine(tt.from, &tally)
			if err != nil {
				t.Fatalf("NewBatchMachine() error = %v", err)
			}
			err = m.Fire(context.Background(), tt.trigger)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fire() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := m.State().String(); got != tt.want {
				t.Errorf("State() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCount(t *testing.T) {
	items := []*entity.BulkBookingItem{
		{Status: entity.ItemStatusSuccess},
		{Status: entity.ItemStatusFailed},
		{Status: entity.ItemStatusPending},
		{Status: entity.ItemStatusSuccess},
	}
	got := Count(items)
	want := Tally{Total: 4, Success: 2, Failed: 1, Pending: 1}
	if got != want {
		t.Errorf("Count() = %+v, want %+v", got, want)
	}
}

func TestNewBatchNumber(t *testing.T) {
	now := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	a, b := NewBatchNumber(now), NewBatchNumber(now)
	if a == b {
		t.Errorf("batch numbers collide: %s", a)
	}
	if a[:12] != "BB-20260309-" {
		t.Errorf("NewBatchNumber() = %s, want BB-20260309- prefix", a)
	}
}
