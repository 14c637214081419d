package models

import (
	"time"

	"github.com/google/uuid"
)

// Client is a customer account. Jobs, assets, connections and keys belong to a client.
type Client struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
