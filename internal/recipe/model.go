package recipe

import "context"

// User is a registered account. The password hash is opaque to the rest of
// the application and never serialized.
type User struct {
	ID           int64  `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	Email        string `db:"email" json:"email"`
	PasswordHash string `db:"password_hash" json:"-"`
}

// Recipe is one catalog entry. Title doubles as the dedup key: two results
// with the same title are stored as a single row.
type Recipe struct {
	ID          int64  `db:"id" json:"id"`
	Title       string `db:"title" json:"title"`
	Ingredients string `db:"ingredients" json:"ingredients"`
}

// SearchTerm is a keyword that has been searched at least once. The recipe
// set linked to it is frozen at creation time.
type SearchTerm struct {
	ID   int64  `db:"id" json:"id"`
	Term string `db:"term" json:"term"`
}

// RecipeList is a named collection of recipes owned by one user. Names are
// unique per owner, not globally.
type RecipeList struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	UserID int64  `db:"user_id" json:"user_id"`
}

// SearchResult is one entry returned by the external recipe catalog.
type SearchResult struct {
	Title       string `json:"title"`
	Ingredients string `json:"ingredients"`
}

// LookupFunc fetches catalog results for a term. GetOrCreateSearchTerm
// invokes it at most once, and only when the term is not already stored.
type LookupFunc func(ctx context.Context) ([]SearchResult, error)
