package arena

import (
	"errors"
	"net/http"

	"staked-arena/internal/clock"
	"staked-arena/internal/matchmaking"
	"staked-arena/internal/rules"
	"staked-arena/internal/session"
	"staked-arena/internal/store"
)

var (
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrNotParticipant  = errors.New("not_participant")
	ErrNotYourTurn     = errors.New("not_your_turn")
	ErrInvalidState    = errors.New("invalid_session_state")
	ErrNotCreator      = errors.New("not_creator")
	ErrAlreadyInGame   = errors.New("already_in_game")
	ErrDrawPending     = errors.New("draw_offer_pending")
	ErrNoDrawOffer     = errors.New("no_draw_offer")
	ErrOwnDrawOffer    = errors.New("cannot_answer_own_offer")
	ErrNoOpenSession   = errors.New("no_open_session")
	ErrEscrowFailed    = errors.New("escrow_failed")
	errMissingOpponent = errors.New("session has no opponent")
)

// MapError turns a service error into an HTTP status and a stable code.
func MapError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, clock.ErrClockNotFound):
		return http.StatusNotFound, "clock_not_found"
	case errors.Is(err, ErrNoOpenSession):
		return http.StatusNotFound, "no_open_session"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, matchmaking.ErrInvalidEntry):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, session.ErrUnknownTimeControl):
		return http.StatusBadRequest, "unknown_time_control"
	case errors.Is(err, matchmaking.ErrStakeTooLow):
		return http.StatusBadRequest, "stake_below_minimum"
	case errors.Is(err, rules.ErrIllegalMove):
		return http.StatusBadRequest, "illegal_move"
	case errors.Is(err, ErrNotYourTurn), errors.Is(err, clock.ErrNotActiveSide):
		return http.StatusBadRequest, "not_your_turn"
	case errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden, "not_participant"
	case errors.Is(err, ErrNotCreator):
		return http.StatusForbidden, "not_creator"
	case errors.Is(err, ErrInvalidState), errors.Is(err, store.ErrSessionNotWaiting):
		return http.StatusConflict, "invalid_session_state"
	case errors.Is(err, store.ErrSessionFull):
		return http.StatusConflict, "session_full"
	case errors.Is(err, ErrAlreadyInGame):
		return http.StatusConflict, "already_in_game"
	case errors.Is(err, ErrDrawPending):
		return http.StatusConflict, "draw_offer_pending"
	case errors.Is(err, ErrNoDrawOffer):
		return http.StatusConflict, "no_draw_offer"
	case errors.Is(err, ErrOwnDrawOffer):
		return http.StatusConflict, "cannot_answer_own_offer"
	case errors.Is(err, store.ErrInsufficientBalance), errors.Is(err, ErrEscrowFailed):
		return http.StatusPaymentRequired, "insufficient_balance"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
