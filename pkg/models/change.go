package models

// Change describes a committed write. Table is the primary table touched
// and ID the affected row, when there is a single one.
type Change struct {
	Table string `json:"table"`
	ID    string `json:"id,omitempty"`
}
