package cart

import (
	"database/sql"

	"github.com/safar/go-cart-engine/internal/models"
)

// Owner is the resolved cart owner: an account id for authenticated callers
// or a session id for guests, never both. The calling boundary resolves it
// once per request; this package only compares it against stored lines.
type Owner struct {
	UserID    sql.NullInt64
	SessionID sql.NullString
}

func AccountOwner(userID int64) Owner {
	return Owner{UserID: sql.NullInt64{Int64: userID, Valid: true}}
}

func GuestOwner(sessionID string) Owner {
	return Owner{SessionID: sql.NullString{String: sessionID, Valid: true}}
}

func (o Owner) IsGuest() bool {
	return o.SessionID.Valid
}

// Owns reports whether the line belongs to this owner. Checked on every
// mutating call, not only at creation.
func (o Owner) Owns(line *models.CartLine) bool {
	return line.UserID == o.UserID && line.SessionID == o.SessionID
}
