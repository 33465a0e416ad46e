package session

import "testing"

func TestResultForIsTotal(t *testing.T) {
	tests := []struct {
		reason Reason
		want   Result
	}{
		{ReasonWhiteTimeout, BlackWon},
		{ReasonBlackTimeout, WhiteWon},
		{ReasonWhiteResigned, BlackWon},
		{ReasonBlackResigned, WhiteWon},
		{ReasonWhiteDisconnected, BlackWon},
		{ReasonBlackDisconnected, WhiteWon},
		{ReasonWhiteCheckmated, BlackWon},
		{ReasonBlackCheckmated, WhiteWon},
		{ReasonStalemate, Draw},
		{ReasonInsufficientMaterial, Draw},
		{ReasonThreefoldRepetition, Draw},
		{ReasonFiftyMoveRule, Draw},
		{ReasonWhiteRequestedDraw, Draw},
		{ReasonBlackRequestedDraw, Draw},
		{ReasonGameDeleted, Void},
		{Reason("SOMETHING_ELSE"), Void},
	}
	for _, tt := range tests {
		if got := ResultFor(tt.reason); got != tt.want {
			t.Fatalf("ResultFor(%s) = %s, want %s", tt.reason, got, tt.want)
		}
	}
}

func TestReasonConstructorsUseExplicitSide(t *testing.T) {
	if got := DrawRequestedBy(Black); got != ReasonBlackRequestedDraw {
		t.Fatalf("DrawRequestedBy(Black) = %s", got)
	}
	if got := TimeoutOf(White); got != ReasonWhiteTimeout {
		t.Fatalf("TimeoutOf(White) = %s", got)
	}
	if side, ok := DisconnectOf(Black).Against(); !ok || side != Black {
		t.Fatalf("DisconnectOf(Black).Against() = %v, %v", side, ok)
	}
	if _, ok := ReasonStalemate.Against(); ok {
		t.Fatal("stalemate should not count against a side")
	}
}

func TestVoidDoesNotSettle(t *testing.T) {
	if Void.Settles() {
		t.Fatal("void must not settle")
	}
	if Live.Settles() {
		t.Fatal("live must not settle")
	}
	if !Draw.Settles() || !WhiteWon.Settles() {
		t.Fatal("draw and decisive results must settle")
	}
	if Draw.Score() != 0.5 || BlackWon.Score() != 0 || WhiteWon.Score() != 1 {
		t.Fatal("unexpected scores")
	}
}

func TestResultJSON(t *testing.T) {
	b, err := BlackWon.MarshalJSON()
	if err != nil || string(b) != `"BLACK_WON"` {
		t.Fatalf("MarshalJSON = %s, %v", b, err)
	}
	var r Result
	if err := r.UnmarshalJSON([]byte("null")); err != nil || !r.IsLive() {
		t.Fatalf("UnmarshalJSON(null) = %v, %v", r, err)
	}
	if _, err := ParseResult("LOST"); err == nil {
		t.Fatal("expected error for unknown result")
	}
}
