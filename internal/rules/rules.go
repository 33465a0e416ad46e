// Package rules validates moves and detects terminal positions.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"staked-arena/internal/session"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove = errors.New("illegal_move")
	ErrInvalidFEN  = errors.New("invalid_fen")
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Position is the board after a move. Reason is set only when Terminal.
type Position struct {
	FEN      string
	Turn     session.Side
	Terminal bool
	Reason   session.Reason
}

type Engine interface {
	Apply(fen, move string) (Position, error)
}

// ChessEngine is the standard-chess Engine.
type ChessEngine struct{}

func NewChessEngine() *ChessEngine { return &ChessEngine{} }

func (ChessEngine) Apply(fen, move string) (Position, error) {
	return ChessEngine{}.ApplyLine(fen, []string{move})
}

// ApplyLine replays moves from fen. Threefold repetition can only be seen
// when the repeating moves are part of the line.
func (ChessEngine) ApplyLine(fen string, moves []string) (Position, error) {
	game, err := newGame(fen)
	if err != nil {
		return Position{}, err
	}
	for _, mv := range moves {
		uci := strings.ToLower(strings.TrimSpace(mv))
		if uci == "" {
			return Position{}, ErrIllegalMove
		}
		if game.Outcome() != nchess.NoOutcome {
			return Position{}, fmt.Errorf("%w: game already over", ErrIllegalMove)
		}
		if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
			return Position{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
		}
	}
	claimDraw(game)
	return positionOf(game), nil
}

// LegalMoves lists the moves available in fen in UCI notation. A finished
// position has none.
func LegalMoves(fen string) ([]string, error) {
	game, err := newGame(fen)
	if err != nil {
		return nil, err
	}
	if game.Outcome() != nchess.NoOutcome {
		return nil, nil
	}
	moves := game.ValidMoves()
	out := make([]string, 0, len(moves))
	for i := range moves {
		out = append(out, moves[i].String())
	}
	return out, nil
}

// Turn reports the side to move in fen.
func Turn(fen string) (session.Side, error) {
	game, err := newGame(fen)
	if err != nil {
		return session.NoSide, err
	}
	return sideOf(game.Position().Turn()), nil
}

func newGame(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return nchess.NewGame(opt), nil
}

func claimDraw(game *nchess.Game) {
	if game.Outcome() != nchess.NoOutcome {
		return
	}
	for _, m := range game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			_ = game.Draw(m)
			return
		}
	}
}

func positionOf(game *nchess.Game) Position {
	pos := Position{
		FEN:  game.FEN(),
		Turn: sideOf(game.Position().Turn()),
	}
	if game.Outcome() == nchess.NoOutcome {
		return pos
	}
	pos.Terminal = true
	pos.Reason = reasonFor(game.Method(), pos.Turn)
	return pos
}

// reasonFor maps a finished game to its end reason. toMove is the side
// that would move next, which is the mated side on checkmate.
func reasonFor(method nchess.Method, toMove session.Side) session.Reason {
	switch method {
	case nchess.Checkmate:
		return session.CheckmateOf(toMove)
	case nchess.Stalemate:
		return session.ReasonStalemate
	case nchess.InsufficientMaterial:
		return session.ReasonInsufficientMaterial
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return session.ReasonThreefoldRepetition
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return session.ReasonFiftyMoveRule
	default:
		return session.ReasonStalemate
	}
}

func sideOf(c nchess.Color) session.Side {
	if c == nchess.Black {
		return session.Black
	}
	return session.White
}
