package store

import (
	"errors"
	"time"

	"staked-arena/internal/session"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func textParam(v string) pgtype.Text {
	if v == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}

func textVal(v pgtype.Text) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

func timePtrVal(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	out := v.Time
	return &out
}

func sideParam(side session.Side) pgtype.Text {
	if !side.Valid() {
		return pgtype.Text{}
	}
	return pgtype.Text{String: side.String(), Valid: true}
}

func sideVal(v pgtype.Text) session.Side {
	if !v.Valid {
		return session.NoSide
	}
	side, err := session.ParseSide(v.String)
	if err != nil {
		return session.NoSide
	}
	return side
}

func resultParam(r session.Result) pgtype.Text {
	return textParam(r.String())
}
