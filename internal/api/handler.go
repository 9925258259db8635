package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"recipecellar/internal/auth"
	"recipecellar/internal/platform/recipepuppy"
	"recipecellar/internal/recipe"
)

// RecipeStore defines the persistence operations the handlers need.
type RecipeStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*recipe.User, error)
	GetUserByEmail(ctx context.Context, email string) (*recipe.User, error)
	GetUserByID(ctx context.Context, id int64) (*recipe.User, error)

	GetOrCreateSearchTerm(ctx context.Context, term string, lookup recipe.LookupFunc) (*recipe.SearchTerm, bool, error)
	GetOrCreateRecipeList(ctx context.Context, name string, userID int64, recipeIDs []int64) (*recipe.RecipeList, bool, error)

	GetSearchTerm(ctx context.Context, term string) (*recipe.SearchTerm, error)
	ListSearchTerms(ctx context.Context) ([]recipe.SearchTerm, error)
	ListRecipes(ctx context.Context) ([]recipe.Recipe, error)
	GetRecipeByID(ctx context.Context, id int64) (*recipe.Recipe, error)
	RecipesForTerm(ctx context.Context, termID int64) ([]recipe.Recipe, error)
	RecipesByPrefix(ctx context.Context, prefix string) ([]recipe.Recipe, error)

	GetRecipeList(ctx context.Context, id int64) (*recipe.RecipeList, error)
	ListsForUser(ctx context.Context, userID int64) ([]recipe.RecipeList, error)
	RecipesForList(ctx context.Context, listID int64) ([]recipe.Recipe, error)
	DeleteList(ctx context.Context, name string, userID int64) (*recipe.RecipeList, error)
	RenameList(ctx context.Context, name, newName string, userID int64) (*recipe.RecipeList, error)

	Ping(ctx context.Context) error
}

// CatalogClient defines the external recipe lookup.
type CatalogClient interface {
	Search(ctx context.Context, query string) ([]recipe.SearchResult, error)
}

const (
	// dbTimeout bounds handlers that only touch the database.
	dbTimeout = 5 * time.Second
	// searchTimeout additionally covers the outbound catalog call.
	searchTimeout = 30 * time.Second
)

// Handler handles HTTP requests.
type Handler struct {
	Store         RecipeStore
	Catalog       CatalogClient
	Log           zerolog.Logger
	SessionSecret []byte
	SessionTTL    time.Duration
}

// NewHandler creates a new Handler.
func NewHandler(store RecipeStore, catalog CatalogClient, log zerolog.Logger, sessionSecret []byte, sessionTTL time.Duration) *Handler {
	return &Handler{
		Store:         store,
		Catalog:       catalog,
		Log:           log,
		SessionSecret: sessionSecret,
		SessionTTL:    sessionTTL,
	}
}

type registerRequest struct {
	Username  string `json:"username" binding:"required,max=64,username"`
	Email     string `json:"email" binding:"required,max=64,email"`
	Password  string `json:"password" binding:"required"`
	Password2 string `json:"password2" binding:"required,eqfield=Password"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type searchRequest struct {
	Search string `json:"search" binding:"required,max=32,nodigits"`
}

type createListRequest struct {
	Name      string  `json:"name" binding:"required,max=255"`
	RecipeIDs []int64 `json:"recipe_ids"`
}

type renameListRequest struct {
	Name string `json:"name" binding:"required,max=255,singleword"`
}

type letterRequest struct {
	Letter string `json:"letter" binding:"required,len=1"`
}

// validationErrors turns a binding failure into user-facing messages, the
// JSON analog of the original flash block.
func validationErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"request body is invalid"}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldError(fe))
	}
	return msgs
}

func fieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return "email must be a valid address"
	case "eqfield":
		return "passwords must match"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s character(s)", field, fe.Param())
	case "nodigits":
		return "search term may not contain numbers"
	case "singleword":
		return "list name must be a single word"
	case "username":
		return "username must start with a letter and contain only letters, numbers, dots or underscores"
	}
	return fmt.Sprintf("%s is invalid", field)
}

func (h *Handler) internalError(c *gin.Context, err error) {
	h.Log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("internal error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (h *Handler) notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
}

// Health reports whether the database is reachable.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterForm describes the registration fields, the JSON analog of the
// rendered form.
func (h *Handler) RegisterForm(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fields": []string{"username", "email", "password", "password2"}})
}

// Register creates a new user account.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.internalError(c, err)
		return
	}

	user, err := h.Store.CreateUser(ctx, req.Username, req.Email, hash)
	if err != nil {
		switch {
		case errors.Is(err, recipe.ErrDuplicateEmail):
			c.JSON(http.StatusConflict, gin.H{"errors": []string{"email already registered"}})
		case errors.Is(err, recipe.ErrDuplicateUsername):
			c.JSON(http.StatusConflict, gin.H{"errors": []string{"username already taken"}})
		default:
			h.internalError(c, err)
		}
		return
	}

	h.Log.Info().Str("username", user.Username).Msg("user registered")
	c.JSON(http.StatusCreated, gin.H{"message": "You can now log in!", "user": user})
}

// LoginForm describes the login fields.
func (h *Handler) LoginForm(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fields": []string{"email", "password"}})
}

// Login verifies credentials and sets the session cookie.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	user, err := h.Store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"errors": []string{"invalid email or password"}})
			return
		}
		h.internalError(c, err)
		return
	}
	if !auth.VerifyPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"errors": []string{"invalid email or password"}})
		return
	}

	token, err := auth.GenerateToken(user.ID, h.SessionSecret, h.SessionTTL)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.SetCookie(sessionCookie, token, int(h.SessionTTL.Seconds()), "/", "", false, true)

	next := c.Query("next")
	if next == "" || !strings.HasPrefix(next, "/") {
		next = "/"
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged in", "next": next})
}

// Logout clears the session cookie.
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "You have been logged out"})
}

// Index describes the search form.
func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fields": []string{"search"}})
}

// Search gets or creates a SearchTerm and redirects to its results. On a
// miss the external catalog is queried exactly once; a catalog failure is
// answered with an empty result set and a warning, and nothing is stored.
func (h *Handler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), searchTimeout)
	defer cancel()

	term := req.Search
	st, created, err := h.Store.GetOrCreateSearchTerm(ctx, term, func(ctx context.Context) ([]recipe.SearchResult, error) {
		return h.Catalog.Search(ctx, term)
	})
	if err != nil {
		if errors.Is(err, recipepuppy.ErrUnreachable) || errors.Is(err, recipepuppy.ErrMalformed) {
			h.Log.Warn().Err(err).Str("term", term).Msg("recipe catalog lookup failed")
			c.JSON(http.StatusOK, gin.H{
				"term":    term,
				"recipes": []recipe.Recipe{},
				"warning": "recipe search is unavailable right now",
			})
			return
		}
		h.internalError(c, err)
		return
	}

	if created {
		h.Log.Info().Str("term", st.Term).Msg("added search term")
	} else {
		h.Log.Debug().Str("term", st.Term).Msg("found search term")
	}
	c.Redirect(http.StatusSeeOther, "/recipe_searched/"+url.PathEscape(st.Term))
}

// SearchResults renders the recipes cached for an existing term.
func (h *Handler) SearchResults(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	st, err := h.Store.GetSearchTerm(ctx, c.Param("term"))
	if err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			h.notFound(c, "search term")
			return
		}
		h.internalError(c, err)
		return
	}

	recipes, err := h.Store.RecipesForTerm(ctx, st.ID)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"term": st.Term, "recipes": recipes})
}

// SearchTerms lists every term searched so far.
func (h *Handler) SearchTerms(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	terms, err := h.Store.ListSearchTerms(ctx)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terms": terms})
}

// AllRecipes lists every stored recipe.
func (h *Handler) AllRecipes(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	recipes, err := h.Store.ListRecipes(ctx)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipes": recipes})
}

// CreateListForm returns the recipes available for the multi-select.
func (h *Handler) CreateListForm(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	recipes, err := h.Store.ListRecipes(ctx)
	if err != nil {
		h.internalError(c, err)
		return
	}
	choices := make([]gin.H, 0, len(recipes))
	for _, r := range recipes {
		choices = append(choices, gin.H{"id": r.ID, "title": r.Title})
	}
	c.JSON(http.StatusOK, gin.H{"choices": choices})
}

// CreateList gets or creates a recipe list for the session user from a
// multi-select of recipe ids. An existing list keeps its membership.
func (h *Handler) CreateList(c *gin.Context) {
	var req createListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()
	user := currentUser(c)

	// Resolve each selected id before touching the list.
	ids := make([]int64, 0, len(req.RecipeIDs))
	for _, id := range req.RecipeIDs {
		r, err := h.Store.GetRecipeByID(ctx, id)
		if err != nil {
			if errors.Is(err, recipe.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": []string{fmt.Sprintf("unknown recipe id %d", id)}})
				return
			}
			h.internalError(c, err)
			return
		}
		ids = append(ids, r.ID)
	}

	lst, created, err := h.Store.GetOrCreateRecipeList(ctx, req.Name, user.ID, ids)
	if err != nil {
		h.internalError(c, err)
		return
	}
	if created {
		h.Log.Info().Str("name", lst.Name).Int64("user_id", user.ID).Msg("recipe list created")
	}
	c.Redirect(http.StatusSeeOther, "/lists")
}

// Lists shows the session user's recipe lists.
func (h *Handler) Lists(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	lists, err := h.Store.ListsForUser(ctx, currentUser(c).ID)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lists": lists})
}

// SingleList renders one list and its recipes.
func (h *Handler) SingleList(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.notFound(c, "recipe list")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	lst, err := h.Store.GetRecipeList(ctx, id)
	if err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			h.notFound(c, "recipe list")
			return
		}
		h.internalError(c, err)
		return
	}

	recipes, err := h.Store.RecipesForList(ctx, lst.ID)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": lst, "recipes": recipes})
}

// DeleteList deletes the session user's list with the given name. Only the
// list row and its association rows go away; recipes stay.
func (h *Handler) DeleteList(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	lst, err := h.Store.DeleteList(ctx, c.Param("name"), currentUser(c).ID)
	if err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			h.notFound(c, "recipe list")
			return
		}
		h.internalError(c, err)
		return
	}

	h.Log.Info().Str("name", lst.Name).Msg("recipe list deleted")
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("The recipe list %s has been deleted", lst.Name)})
}

// UpdateListForm describes the rename field.
func (h *Handler) UpdateListForm(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fields": []string{"name"}, "list": c.Param("name")})
}

// UpdateList renames the session user's list. The new name must be a
// single word.
func (h *Handler) UpdateList(c *gin.Context) {
	var req renameListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	name := c.Param("name")
	lst, err := h.Store.RenameList(ctx, name, req.Name, currentUser(c).ID)
	if err != nil {
		switch {
		case errors.Is(err, recipe.ErrNotFound):
			h.notFound(c, "recipe list")
		case errors.Is(err, recipe.ErrDuplicateList):
			c.JSON(http.StatusConflict, gin.H{"errors": []string{"a list with that name already exists"}})
		default:
			h.internalError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("The name of the list %s has been changed", name),
		"list":    lst,
	})
}

// StartingLetterForm describes the letter field.
func (h *Handler) StartingLetterForm(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fields": []string{"letter"}})
}

// StartingLetterEntry validates the letter and redirects to the filter
// view.
func (h *Handler) StartingLetterEntry(c *gin.Context) {
	var req letterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}
	c.Redirect(http.StatusSeeOther, "/letter?letter="+url.QueryEscape(req.Letter))
}

// StartingLetter lists the titles of recipes starting with the given
// letter.
func (h *Handler) StartingLetter(c *gin.Context) {
	letter := c.Query("letter")
	if letter == "" {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"letter is required"}})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	recipes, err := h.Store.RecipesByPrefix(ctx, letter)
	if err != nil {
		h.internalError(c, err)
		return
	}
	titles := make([]string, 0, len(recipes))
	for _, r := range recipes {
		titles = append(titles, r.Title)
	}
	c.JSON(http.StatusOK, gin.H{"letter": letter, "recipes": titles})
}
