package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

type Board struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
}

type Column struct {
	ID       string
	BoardID  string
	OwnerID  string
	Title    string
	Position int
}

// Card is a single task record. Labels is a free-text tag set used for
// filtering; Status is free text classified into lanes at render time.
type Card struct {
	ID          string
	BoardID     string
	ColumnID    string
	OwnerID     string
	Title       string
	Description string
	Position    int
	Labels      []string
	Status      string
	Assignee    string
	CreatedAt   time.Time
}

// CardPatch is a partial update for a card. Nil fields are left untouched.
// Board and owner assignment are deliberately absent; a card cannot change
// boards or owners through an update.
type CardPatch struct {
	ColumnID    *string
	Description *string
	Labels      *[]string
	Status      *string
	Assignee    *string
	Position    *int
}
