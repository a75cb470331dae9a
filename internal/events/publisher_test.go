package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncode(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err := Encode(SettlementAbandoned, at, SettlementEvent{
		OperationID: "42",
		Kind:        "withdrawal",
		Amount:      "30",
		Attempts:    3,
		Error:       "pending_transfer_expired",
	})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	var got struct {
		Type      string          `json:"type"`
		Timestamp time.Time       `json:"timestamp"`
		Data      SettlementEvent `json:"data"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got.Type != SettlementAbandoned {
		t.Errorf("Type = %s; want %s", got.Type, SettlementAbandoned)
	}
	if !got.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v; want %v", got.Timestamp, at)
	}
	if got.Data.OperationID != "42" || got.Data.Attempts != 3 || got.Data.Error != "pending_transfer_expired" {
		t.Errorf("Data = %+v", got.Data)
	}
}

func TestEncode_OmitsEmptyError(t *testing.T) {
	b, err := Encode(SettlementSettled, time.Now(), SettlementEvent{OperationID: "1"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	var raw struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if raw.Data["operationId"] != "1" {
		t.Fatalf("data = %v; want the encoded event", raw.Data)
	}
	if _, ok := raw.Data["error"]; ok {
		t.Error("expected error field to be omitted when empty")
	}
}
