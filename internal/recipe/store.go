package recipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Sentinel errors returned by the store. Handlers map these onto HTTP
// status codes; everything else is an internal failure.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDuplicateList     = errors.New("recipe list name already in use")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
}

// PostgresStore persists users, recipes, search terms and recipe lists.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to PostgreSQL and applies pending migrations.
func NewPostgresStore(ctx context.Context, dataSourceName string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := RunMigrations(ctx, db.DB); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open connection without running
// migrations. Tests use it with a mocked driver.
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a new account. Duplicate email or username is
// reported via the corresponding sentinel error; the unique constraints
// make the check race-safe without a prior existence query.
func (s *PostgresStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error) {
	u := &User{Username: username, Email: email, PasswordHash: passwordHash}
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		username, email, passwordHash).Scan(&u.ID)
	if err != nil {
		switch {
		case isUniqueViolation(err, "users_email_key"):
			return nil, ErrDuplicateEmail
		case isUniqueViolation(err, "users_username_key"):
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	err := s.db.GetContext(ctx, u,
		`SELECT id, username, email, password_hash FROM users WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	err := s.db.GetContext(ctx, u,
		`SELECT id, username, email, password_hash FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return u, nil
}

// GetOrCreateRecipe returns the recipe with the given title, inserting it
// first if absent. Dedup is by title only: on a hit the stored ingredients
// win and the ingredients argument is ignored. The reported bool is true
// when a new row was inserted.
func (s *PostgresStore) GetOrCreateRecipe(ctx context.Context, title, ingredients string) (*Recipe, bool, error) {
	return getOrCreateRecipe(ctx, s.db, title, ingredients)
}

func getOrCreateRecipe(ctx context.Context, q sqlx.QueryerContext, title, ingredients string) (*Recipe, bool, error) {
	r := &Recipe{}
	err := sqlx.GetContext(ctx, q, r,
		`INSERT INTO recipes (title, ingredients) VALUES ($1, $2)
		 ON CONFLICT (title) DO NOTHING
		 RETURNING id, title, ingredients`, title, ingredients)
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert recipe: %w", err)
	}
	if err := sqlx.GetContext(ctx, q, r,
		`SELECT id, title, ingredients FROM recipes WHERE title = $1`, title); err != nil {
		return nil, false, fmt.Errorf("failed to load recipe %q: %w", title, err)
	}
	return r, false, nil
}

func (s *PostgresStore) GetSearchTerm(ctx context.Context, term string) (*SearchTerm, error) {
	st := &SearchTerm{}
	err := s.db.GetContext(ctx, st,
		`SELECT id, term FROM search_terms WHERE term = $1`, term)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get search term: %w", err)
	}
	return st, nil
}

// GetOrCreateSearchTerm returns the stored term when it exists, without
// calling lookup. On a miss it invokes lookup exactly once, then persists
// the term and its recipe associations in a single transaction. A lookup
// failure aborts before anything is written, so the term stays searchable.
// When a concurrent request persists the same term first, the existing row
// is returned and the fetched results are discarded.
func (s *PostgresStore) GetOrCreateSearchTerm(ctx context.Context, term string, lookup LookupFunc) (*SearchTerm, bool, error) {
	st := &SearchTerm{}
	err := s.db.GetContext(ctx, st,
		`SELECT id, term FROM search_terms WHERE term = $1`, term)
	if err == nil {
		return st, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to look up search term %q: %w", term, err)
	}

	results, err := lookup(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("catalog lookup for %q: %w", term, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, st,
		`INSERT INTO search_terms (term) VALUES ($1)
		 ON CONFLICT (term) DO NOTHING
		 RETURNING id, term`, term)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race: another request already stored this term together
		// with its results.
		if err := tx.GetContext(ctx, st,
			`SELECT id, term FROM search_terms WHERE term = $1`, term); err != nil {
			return nil, false, fmt.Errorf("failed to load search term %q: %w", term, err)
		}
		return st, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert search term: %w", err)
	}

	for _, res := range results {
		r, _, err := getOrCreateRecipe(ctx, tx, res.Title, res.Ingredients)
		if err != nil {
			return nil, false, err
		}
		// Duplicate titles in one result set collapse onto the same link.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_recipes (search_term_id, recipe_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, st.ID, r.ID); err != nil {
			return nil, false, fmt.Errorf("failed to link recipe %d to term %q: %w", r.ID, term, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit search term: %w", err)
	}
	return st, true, nil
}

// GetOrCreateRecipeList returns the list named name owned by userID,
// creating it with the given recipes if absent. On a hit the existing
// membership is left untouched and recipeIDs is ignored.
func (s *PostgresStore) GetOrCreateRecipeList(ctx context.Context, name string, userID int64, recipeIDs []int64) (*RecipeList, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	l := &RecipeList{}
	err = tx.GetContext(ctx, l,
		`INSERT INTO recipe_lists (name, user_id) VALUES ($1, $2)
		 ON CONFLICT (name, user_id) DO NOTHING
		 RETURNING id, name, user_id`, name, userID)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.GetContext(ctx, l,
			`SELECT id, name, user_id FROM recipe_lists WHERE name = $1 AND user_id = $2`,
			name, userID); err != nil {
			return nil, false, fmt.Errorf("failed to load recipe list %q: %w", name, err)
		}
		return l, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert recipe list: %w", err)
	}

	for _, recipeID := range recipeIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recipe_to_list (list_id, recipe_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, l.ID, recipeID); err != nil {
			return nil, false, fmt.Errorf("failed to add recipe %d to list %q: %w", recipeID, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit recipe list: %w", err)
	}
	return l, true, nil
}

func (s *PostgresStore) ListSearchTerms(ctx context.Context) ([]SearchTerm, error) {
	terms := []SearchTerm{}
	if err := s.db.SelectContext(ctx, &terms,
		`SELECT id, term FROM search_terms ORDER BY term`); err != nil {
		return nil, fmt.Errorf("failed to list search terms: %w", err)
	}
	return terms, nil
}

func (s *PostgresStore) ListRecipes(ctx context.Context) ([]Recipe, error) {
	recipes := []Recipe{}
	if err := s.db.SelectContext(ctx, &recipes,
		`SELECT id, title, ingredients FROM recipes ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	return recipes, nil
}

func (s *PostgresStore) GetRecipeByID(ctx context.Context, id int64) (*Recipe, error) {
	r := &Recipe{}
	err := s.db.GetContext(ctx, r,
		`SELECT id, title, ingredients FROM recipes WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recipe by id: %w", err)
	}
	return r, nil
}

// RecipesForTerm returns the recipe set frozen when the term was first
// searched, in insertion order.
func (s *PostgresStore) RecipesForTerm(ctx context.Context, termID int64) ([]Recipe, error) {
	recipes := []Recipe{}
	if err := s.db.SelectContext(ctx, &recipes,
		`SELECT r.id, r.title, r.ingredients
		 FROM recipes r
		 JOIN search_recipes sr ON sr.recipe_id = r.id
		 WHERE sr.search_term_id = $1
		 ORDER BY r.id`, termID); err != nil {
		return nil, fmt.Errorf("failed to list recipes for term: %w", err)
	}
	return recipes, nil
}

func (s *PostgresStore) RecipesByPrefix(ctx context.Context, prefix string) ([]Recipe, error) {
	recipes := []Recipe{}
	if err := s.db.SelectContext(ctx, &recipes,
		`SELECT id, title, ingredients FROM recipes WHERE title LIKE $1 || '%' ORDER BY title`,
		prefix); err != nil {
		return nil, fmt.Errorf("failed to list recipes by prefix: %w", err)
	}
	return recipes, nil
}

func (s *PostgresStore) GetRecipeList(ctx context.Context, id int64) (*RecipeList, error) {
	l := &RecipeList{}
	err := s.db.GetContext(ctx, l,
		`SELECT id, name, user_id FROM recipe_lists WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recipe list: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) ListsForUser(ctx context.Context, userID int64) ([]RecipeList, error) {
	lists := []RecipeList{}
	if err := s.db.SelectContext(ctx, &lists,
		`SELECT id, name, user_id FROM recipe_lists WHERE user_id = $1 ORDER BY name`,
		userID); err != nil {
		return nil, fmt.Errorf("failed to list recipe lists: %w", err)
	}
	return lists, nil
}

func (s *PostgresStore) RecipesForList(ctx context.Context, listID int64) ([]Recipe, error) {
	recipes := []Recipe{}
	if err := s.db.SelectContext(ctx, &recipes,
		`SELECT r.id, r.title, r.ingredients
		 FROM recipes r
		 JOIN recipe_to_list rl ON rl.recipe_id = r.id
		 WHERE rl.list_id = $1
		 ORDER BY r.id`, listID); err != nil {
		return nil, fmt.Errorf("failed to list recipes for list: %w", err)
	}
	return recipes, nil
}

// DeleteList removes the named list owned by userID along with its
// association rows. Recipes themselves are never deleted.
func (s *PostgresStore) DeleteList(ctx context.Context, name string, userID int64) (*RecipeList, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	l := &RecipeList{}
	err = tx.GetContext(ctx, l,
		`SELECT id, name, user_id FROM recipe_lists WHERE name = $1 AND user_id = $2`,
		name, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recipe list %q: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recipe_to_list WHERE list_id = $1`, l.ID); err != nil {
		return nil, fmt.Errorf("failed to delete list associations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recipe_lists WHERE id = $1`, l.ID); err != nil {
		return nil, fmt.Errorf("failed to delete recipe list: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit list deletion: %w", err)
	}
	return l, nil
}

// RenameList renames the named list owned by userID. Renaming onto a name
// the user already holds yields ErrDuplicateList.
func (s *PostgresStore) RenameList(ctx context.Context, name, newName string, userID int64) (*RecipeList, error) {
	l := &RecipeList{}
	err := s.db.GetContext(ctx, l,
		`UPDATE recipe_lists SET name = $1 WHERE name = $2 AND user_id = $3
		 RETURNING id, name, user_id`, newName, name, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err, "recipe_lists_name_user_id_key") {
			return nil, ErrDuplicateList
		}
		return nil, fmt.Errorf("failed to rename recipe list %q: %w", name, err)
	}
	return l, nil
}
