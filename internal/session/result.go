package session

import (
	"encoding/json"
	"fmt"
)

type Reason string

const (
	ReasonWhiteTimeout         Reason = "WHITE_TIMEOUT"
	ReasonBlackTimeout         Reason = "BLACK_TIMEOUT"
	ReasonWhiteResigned        Reason = "WHITE_RESIGNED"
	ReasonBlackResigned        Reason = "BLACK_RESIGNED"
	ReasonWhiteDisconnected    Reason = "WHITE_DISCONNECTED"
	ReasonBlackDisconnected    Reason = "BLACK_DISCONNECTED"
	ReasonWhiteCheckmated      Reason = "WHITE_CHECKMATED"
	ReasonBlackCheckmated      Reason = "BLACK_CHECKMATED"
	ReasonStalemate            Reason = "STALEMATE"
	ReasonInsufficientMaterial Reason = "INSUFFICIENT_MATERIAL"
	ReasonThreefoldRepetition  Reason = "THREEFOLD_REPETITION"
	ReasonFiftyMoveRule        Reason = "FIFTY_MOVE_RULE"
	ReasonWhiteRequestedDraw   Reason = "WHITE_REQUESTED_DRAW"
	ReasonBlackRequestedDraw   Reason = "BLACK_REQUESTED_DRAW"
	ReasonGameDeleted          Reason = "GAME_DELETED"
)

func sided(side Side, white, black Reason) Reason {
	if side == Black {
		return black
	}
	return white
}

func TimeoutOf(side Side) Reason { return sided(side, ReasonWhiteTimeout, ReasonBlackTimeout) }
func ResignationOf(side Side) Reason { return sided(side, ReasonWhiteResigned, ReasonBlackResigned) }
func DisconnectOf(side Side) Reason { return sided(side, ReasonWhiteDisconnected, ReasonBlackDisconnected) }
func CheckmateOf(side Side) Reason { return sided(side, ReasonWhiteCheckmated, ReasonBlackCheckmated) }
func DrawRequestedBy(side Side) Reason { return sided(side, ReasonWhiteRequestedDraw, ReasonBlackRequestedDraw) }

// Against returns the side a decisive reason counts against.
func (r Reason) Against() (Side, bool) {
	switch r {
	case ReasonWhiteTimeout, ReasonWhiteResigned, ReasonWhiteDisconnected, ReasonWhiteCheckmated:
		return White, true
	case ReasonBlackTimeout, ReasonBlackResigned, ReasonBlackDisconnected, ReasonBlackCheckmated:
		return Black, true
	default:
		return NoSide, false
	}
}

func (r Reason) Valid() bool {
	switch r {
	case ReasonWhiteTimeout, ReasonBlackTimeout,
		ReasonWhiteResigned, ReasonBlackResigned,
		ReasonWhiteDisconnected, ReasonBlackDisconnected,
		ReasonWhiteCheckmated, ReasonBlackCheckmated,
		ReasonStalemate, ReasonInsufficientMaterial, ReasonThreefoldRepetition, ReasonFiftyMoveRule,
		ReasonWhiteRequestedDraw, ReasonBlackRequestedDraw,
		ReasonGameDeleted:
		return true
	default:
		return false
	}
}

type resultKind uint8

const (
	resultLive resultKind = iota
	resultWhiteWon
	resultBlackWon
	resultDraw
	resultVoid
)

// Result is the terminal outcome of a session. The zero value is a live
// session with no outcome yet.
type Result struct {
	kind resultKind
}

var (
	Live     = Result{}
	WhiteWon = Result{kind: resultWhiteWon}
	BlackWon = Result{kind: resultBlackWon}
	Draw     = Result{kind: resultDraw}
	Void     = Result{kind: resultVoid}
)

func WonBy(side Side) Result {
	if side == Black {
		return BlackWon
	}
	return WhiteWon
}

func (r Result) IsLive() bool { return r.kind == resultLive }

// Winner returns the winning side for decisive results.
func (r Result) Winner() (Side, bool) {
	switch r.kind {
	case resultWhiteWon:
		return White, true
	case resultBlackWon:
		return Black, true
	default:
		return NoSide, false
	}
}

// Settles is false for results that must not move stake between players.
func (r Result) Settles() bool {
	return r.kind == resultWhiteWon || r.kind == resultBlackWon || r.kind == resultDraw
}

// Rated is false for results that do not count toward ratings.
func (r Result) Rated() bool { return r.Settles() }

// Score is the result from White's point of view: 1, 0.5 or 0.
func (r Result) Score() float64 {
	switch r.kind {
	case resultWhiteWon:
		return 1
	case resultBlackWon:
		return 0
	default:
		return 0.5
	}
}

func (r Result) String() string {
	switch r.kind {
	case resultWhiteWon:
		return "WHITE_WON"
	case resultBlackWon:
		return "BLACK_WON"
	case resultDraw:
		return "DRAW"
	case resultVoid:
		return "VOID"
	default:
		return ""
	}
}

func ParseResult(v string) (Result, error) {
	switch v {
	case "WHITE_WON":
		return WhiteWon, nil
	case "BLACK_WON":
		return BlackWon, nil
	case "DRAW":
		return Draw, nil
	case "VOID":
		return Void, nil
	case "":
		return Live, nil
	default:
		return Live, fmt.Errorf("unknown result %q", v)
	}
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.IsLive() {
		return []byte("null"), nil
	}
	return json.Marshal(r.String())
}

func (r *Result) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = Live
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseResult(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ResultFor maps an end reason to its result. Unknown reasons are treated
// as Void so that nothing settles on a value this package does not know.
func ResultFor(reason Reason) Result {
	if side, ok := reason.Against(); ok {
		return WonBy(side.Opponent())
	}
	switch reason {
	case ReasonStalemate, ReasonInsufficientMaterial, ReasonThreefoldRepetition, ReasonFiftyMoveRule,
		ReasonWhiteRequestedDraw, ReasonBlackRequestedDraw:
		return Draw
	default:
		return Void
	}
}
