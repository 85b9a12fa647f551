package syncer

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeMeta(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		data    string
		wantErr bool
	}{
		{name: "valid create", action: ActionCreate, data: `{"uuid":"u-1","last_modified":100,"serverModifiedAt":200}`},
		{name: "valid delete", action: ActionDelete, data: `{"uuid":"u-2"}`},
		{name: "missing uuid", action: ActionUpdate, data: `{"last_modified":100}`, wantErr: true},
		{name: "unknown action", action: Action("upsert"), data: `{"uuid":"u-3"}`, wantErr: true},
		{name: "malformed data", action: ActionCreate, data: `{"uuid":`, wantErr: true},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			envelope := Envelope{Table: "wordReviewRecords", Action: testCase.action, Data: json.RawMessage(testCase.data)}
			meta, err := envelope.Meta()
			if testCase.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if meta.UUID == "" {
				t.Fatalf("expected uuid to be extracted")
			}
		})
	}
}

func TestActionForStatus(t *testing.T) {
	tests := []struct {
		status string
		want   Action
		ok     bool
	}{
		{status: "local_new", want: ActionCreate, ok: true},
		{status: "local_modified", want: ActionUpdate, ok: true},
		{status: "local_deleted", want: ActionDelete, ok: true},
		{status: "synced", ok: false},
		{status: "", ok: false},
	}
	for _, testCase := range tests {
		got, ok := ActionForStatus(testCase.status)
		if ok != testCase.ok || got != testCase.want {
			t.Fatalf("ActionForStatus(%q) = (%q, %v), want (%q, %v)",
				testCase.status, got, ok, testCase.want, testCase.ok)
		}
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	first := &fakeTable{name: "wordReviewRecords"}
	second := &fakeTable{name: "wordReviewRecords"}
	if _, err := NewRegistry(first, second); err == nil {
		t.Fatalf("expected duplicate table error")
	}
	if _, err := NewRegistry(); err == nil {
		t.Fatalf("expected empty registry error")
	}
}
