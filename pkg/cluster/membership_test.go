package cluster

import (
	"reflect"
	"testing"
)

func TestStaticMembership(t *testing.T) {
	m := NewStaticMembership(PartitionTable{
		NumPartitions: 3,
		Overrides:     map[PartitionID]LogID{1: 7, 10: 0},
	})

	if m.Version() != 1 {
		t.Fatalf("Version() = %d, want 1", m.Version())
	}

	tests := []struct {
		partition PartitionID
		want      LogID
		wantOK    bool
	}{
		{0, 0, true},
		{1, 7, true},
		{2, 2, true},
		{3, 0, false},
		{10, 0, true},
	}
	for _, tt := range tests {
		got, ok := m.LogOf(tt.partition)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("LogOf(%d) = (%d, %v), want (%d, %v)", tt.partition, got, ok, tt.want, tt.wantOK)
		}
	}

	if got, want := m.Logs(), []LogID{0, 2, 7}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Logs() = %v, want %v", got, want)
	}

	if v := m.Update(PartitionTable{NumPartitions: 1}); v != 2 {
		t.Fatalf("Update() = %d, want 2", v)
	}
	if _, ok := m.LogOf(1); ok {
		t.Fatal("LogOf(1) should be unmapped after update")
	}
}

func TestStaticMembership_OverridesAreCopied(t *testing.T) {
	overrides := map[PartitionID]LogID{0: 5}
	m := NewStaticMembership(PartitionTable{NumPartitions: 1, Overrides: overrides})
	overrides[0] = 6

	if got, _ := m.LogOf(0); got != 5 {
		t.Fatalf("LogOf(0) = %d, want 5", got)
	}
	logs := m.Logs()
	logs[0] = 99
	if got := m.Logs(); got[0] != 5 {
		t.Fatalf("Logs() mutated through returned slice: %v", got)
	}
}
