package session

import "testing"

func TestStateTransitionsAreMonotonic(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateWaiting, StateActive, true},
		{StateWaiting, StateEnded, true},
		{StateActive, StateEnded, true},
		{StateActive, StateWaiting, false},
		{StateEnded, StateActive, false},
		{StateEnded, StateEnded, false},
		{StateActive, StateActive, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanMoveTo(tt.to); got != tt.want {
			t.Fatalf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSessionLookups(t *testing.T) {
	s := Session{Participants: []Participant{
		{PlayerID: "p1", Side: White, Creator: true},
		{PlayerID: "p2", Side: Black},
	}}
	if side, ok := s.SideOf("p2"); !ok || side != Black {
		t.Fatalf("SideOf(p2) = %v, %v", side, ok)
	}
	if id, ok := s.PlayerOn(White); !ok || id != "p1" {
		t.Fatalf("PlayerOn(White) = %q, %v", id, ok)
	}
	if _, ok := s.SideOf("p3"); ok {
		t.Fatal("unexpected side for non participant")
	}
	if s.AllReady() {
		t.Fatal("no one is ready yet")
	}
	s.Participants[0].Ready = true
	s.Participants[1].Ready = true
	if !s.AllReady() {
		t.Fatal("both participants are ready")
	}
}

func TestSideOpponentAndParse(t *testing.T) {
	if White.Opponent() != Black || Black.Opponent() != White || NoSide.Opponent() != NoSide {
		t.Fatal("unexpected opponent mapping")
	}
	if side, err := ParseSide("b"); err != nil || side != Black {
		t.Fatalf("ParseSide(b) = %v, %v", side, err)
	}
	if _, err := ParseSide("red"); err == nil {
		t.Fatal("expected error for unknown side")
	}
}
