package api

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

var usernameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.]*$`)

// registerValidators wires the form rules into gin's binding validator.
// Safe to call more than once.
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("nodigits", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "0123456789")
	})
	_ = v.RegisterValidation("singleword", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "" && len(strings.Fields(s)) == 1
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRE.MatchString(fl.Field().String())
	})
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(h *Handler, log zerolog.Logger, corsOrigins []string) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", h.Health)

	r.GET("/register", h.RegisterForm)
	r.POST("/register", h.Register)
	r.GET("/login", h.LoginForm)
	r.POST("/login", h.Login)

	r.GET("/", h.Index)
	r.POST("/", h.Search)
	r.GET("/recipe_searched/:term", h.SearchResults)
	r.GET("/search_terms", h.SearchTerms)
	r.GET("/all_recipes", h.AllRecipes)
	r.GET("/list/:id", h.SingleList)
	r.GET("/starting_letter_entry", h.StartingLetterForm)
	r.POST("/starting_letter_entry", h.StartingLetterEntry)
	r.GET("/letter", h.StartingLetter)

	authed := r.Group("", h.RequireUser())
	authed.GET("/logout", h.Logout)
	authed.GET("/create_recipes_list", h.CreateListForm)
	authed.POST("/create_recipes_list", h.CreateList)
	authed.GET("/lists", h.Lists)
	authed.POST("/lists", h.Lists)
	authed.GET("/delete/:name", h.DeleteList)
	authed.POST("/delete/:name", h.DeleteList)
	authed.GET("/update/:name", h.UpdateListForm)
	authed.POST("/update/:name", h.UpdateList)

	return r
}
