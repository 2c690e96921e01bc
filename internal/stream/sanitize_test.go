package stream

import (
	"testing"

	"nuha.dev/guardian/internal/api"
)

func TestSanitizeDedup(t *testing.T) {
	raw := []api.MemberLocation{
		{UserID: 101, Name: "Minji", BatteryLevel: 80},
		{UserID: 102, Name: "Jiho"},
		{UserID: 101, Name: "Minji-dup", BatteryLevel: 10},
	}
	out := Sanitize(raw)
	if len(out) != 2 {
		t.Fatalf("expected 2 members, got %d", len(out))
	}
	if out[0].UserID != 101 || out[0].Name != "Minji" || out[0].BatteryLevel != 80 {
		t.Errorf("first occurrence not kept: %+v", out[0])
	}
	if out[1].UserID != 102 {
		t.Errorf("order not preserved: %+v", out[1])
	}
}

func TestSanitizeDropsMissingUserID(t *testing.T) {
	raw := []api.MemberLocation{
		{UserID: 0, Name: "ghost"},
		{UserID: -3, Name: "negative"},
		{UserID: 7, Name: "ok"},
	}
	out := Sanitize(raw)
	if len(out) != 1 || out[0].UserID != 7 {
		t.Fatalf("expected only userId 7, got %+v", out)
	}
}

func TestSanitizeEmpty(t *testing.T) {
	if out := Sanitize(nil); len(out) != 0 {
		t.Errorf("expected empty result, got %+v", out)
	}
}
