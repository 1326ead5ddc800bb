package models

import "testing"

func TestShiftKey(t *testing.T) {
	tests := []struct {
		shift Shift
		want  string
	}{
		{Shift{Date: "2025-12-01", Start: "17:00", End: "22:00"}, "2025-12-01-17:00-22:00"},
		{Shift{Date: "2025-12-01", Start: "17:00"}, "2025-12-01-17:00-"},
		{Shift{Date: "2025-12-01"}, "2025-12-01--"},
	}
	for _, tt := range tests {
		if got := tt.shift.Key(); got != tt.want {
			t.Errorf("Key() = %q, want %q", got, tt.want)
		}
	}
}

func TestShiftKeyDistinct(t *testing.T) {
	shifts := []Shift{
		{Date: "2025-12-01", Start: "09:00", End: "17:00"},
		{Date: "2025-12-01", Start: "09:00", End: "17:30"},
		{Date: "2025-12-01", Start: "09:30", End: "17:00"},
		{Date: "2025-12-02", Start: "09:00", End: "17:00"},
		{Date: "2025-12-01", Start: "17:00", End: "22:00"},
	}
	seen := make(map[string]Shift)
	for _, s := range shifts {
		if s.Key() != s.Key() {
			t.Fatalf("Key() not deterministic for %v", s)
		}
		if prev, ok := seen[s.Key()]; ok {
			t.Errorf("key collision between %v and %v", prev, s)
		}
		seen[s.Key()] = s
	}
}

func TestShiftDateTimes(t *testing.T) {
	s := Shift{Date: "2025-12-31", Start: "23:00", End: "01:00"}
	if !s.CrossesMidnight() {
		t.Fatal("expected shift to cross midnight")
	}
	start, err := s.StartDateTime()
	if err != nil {
		t.Fatalf("StartDateTime: %v", err)
	}
	if start != "2025-12-31T23:00:00" {
		t.Errorf("start = %q", start)
	}
	end, err := s.EndDateTime()
	if err != nil {
		t.Fatalf("EndDateTime: %v", err)
	}
	if end != "2026-01-01T01:00:00" {
		t.Errorf("end = %q", end)
	}

	same := Shift{Date: "2025-06-01", Start: "09:00", End: "17:00"}
	if end, _ := same.EndDateTime(); end != "2025-06-01T17:00:00" {
		t.Errorf("end = %q", end)
	}
}

func TestIncompleteShift(t *testing.T) {
	s := Shift{Date: "2025-03-10", Start: "09:00"}
	if s.Complete() {
		t.Fatal("expected incomplete")
	}
	if _, err := s.EndDateTime(); err == nil {
		t.Error("expected error for incomplete shift")
	}
}

func TestParseKey(t *testing.T) {
	s := Shift{Date: "2025-12-31", Start: "23:00", End: "01:00"}
	got, err := ParseKey(s.Key())
	if err != nil || got != s {
		t.Errorf("ParseKey(%q) = %v, %v", s.Key(), got, err)
	}
	if got, err := ParseKey("2025-12-31"); err != nil || got.Date != "2025-12-31" || got.Complete() {
		t.Errorf("ParseKey legacy = %v, %v", got, err)
	}
	for _, bad := range []string{"", "2025-13-01-09:00-10:00", "2025-12-31-9am-10am", "2025-12-31-09:00"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) expected error", bad)
		}
	}
}
