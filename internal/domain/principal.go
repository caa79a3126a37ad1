package domain

import "time"

const (
	PlaceholderName = "User"

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Principal is one entry of the user directory, keyed by the identity provider's id.
type Principal struct {
	ID          string    `json:"id" bson:"_id"`
	Email       string    `json:"email" bson:"email"`
	DisplayName string    `json:"displayName,omitempty" bson:"displayName,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty" bson:"photoURL,omitempty"`
	Status      string    `json:"status,omitempty" bson:"status,omitempty"`
	LastSeen    time.Time `json:"lastSeen,omitempty" bson:"lastSeen,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty" bson:"createdAt,omitempty"`
}

// Label is the name shown to people. It falls back to the placeholder; sorting never uses it.
func (p Principal) Label() string {
	if p.DisplayName == "" {
		return PlaceholderName
	}
	return p.DisplayName
}

// Profile is the set of fields written by a directory upsert. Fields not listed here are
// left untouched on existing records; LastSeen is always stamped with the store's clock.
type Profile struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
	Status      string
}
