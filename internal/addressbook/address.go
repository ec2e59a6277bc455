package addressbook

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"time"
)

var ErrNotFound = errors.New("address not found")

type Address struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Recipient string    `json:"recipient"`
	Phone     string    `json:"phone"`
	Line1     string    `json:"line1"`
	City      string    `json:"city"`
	CreatedAt time.Time `json:"created_at"`
}

type Repo struct{ DB *pgxpool.Pool }

// GetAddress treats an address owned by another user exactly like a missing one.
func (r *Repo) GetAddress(ctx context.Context, userID string, addressID int64) (Address, error) {
	var a Address
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, recipient, phone, line1, city, created_at
		FROM addresses WHERE id=$1 AND user_id=$2`, addressID, userID,
	).Scan(&a.ID, &a.UserID, &a.Recipient, &a.Phone, &a.Line1, &a.City, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Address{}, fmt.Errorf("%w: %d", ErrNotFound, addressID)
	}
	return a, err
}
