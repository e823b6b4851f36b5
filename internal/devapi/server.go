package devapi

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Options configures the API server.
type Options struct {
	Store       Store
	Issuer      *TokenIssuer
	Logger      *zap.Logger
	CORSOrigins []string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Server holds the handlers of the API.
type Server struct {
	store      Store
	issuer     *TokenIssuer
	logger     *zap.Logger
	bcryptCost int
}

// NewServer creates the server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Server{
		store:      opts.Store,
		issuer:     opts.Issuer,
		logger:     logger,
		bcryptCost: cost,
	}
}

// NewRouter builds the gin engine serving the auth and patient routes.
func NewRouter(opts Options) *gin.Engine {
	s := NewServer(opts)

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	auth := r.Group("/auth")
	auth.POST("/register", s.register)
	auth.POST("/login", s.login)
	auth.GET("/me", s.requireUser, s.me)

	patients := r.Group("/patients", s.requireUser)
	patients.POST("/", s.createPatient)
	patients.GET("/", s.listPatients)
	patients.GET("/:id", s.getPatient)
	patients.PUT("/:id", s.updatePatient)
	patients.DELETE("/:id", s.deletePatient)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// --- auth -------------------------------------------------------------------

type registerRequest struct {
	Username  string `json:"username" binding:"required,min=3,max=20"`
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"first_name" binding:"required,max=50"`
	LastName  string `json:"last_name" binding:"required,max=50"`
	Password  string `json:"password" binding:"required,min=8,max=128"`
	Role      string `json:"role" binding:"required,oneof=admin user"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	if !usernamePattern.MatchString(req.Username) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "username may only contain letters, digits, _ and -"})
		return
	}

	u, err := s.CreateUser(c.Request.Context(), User{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	}, req.Password)
	switch {
	case errors.Is(err, ErrEmailTaken):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
	case errors.Is(err, ErrUsernameTaken):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Username already taken"})
	case err != nil:
		s.logger.Error("create user failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
	default:
		c.JSON(http.StatusCreated, u)
	}
}

// CreateUser hashes password and stores u.
func (s *Server) CreateUser(ctx context.Context, u User, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return User{}, err
	}
	u.HashedPassword = string(hash)
	return s.store.CreateUser(ctx, u)
}

func (s *Server) login(c *gin.Context) {
	u, err := Authenticate(c.Request.Context(), s.store, c.PostForm("username"), c.PostForm("password"))
	if err != nil {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
		return
	}

	token, err := s.issuer.Issue(u)
	if err != nil {
		s.logger.Error("issue token failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// --- patients ---------------------------------------------------------------

type patientRequest struct {
	FirstName      string `json:"first_name" binding:"required"`
	LastName       string `json:"last_name" binding:"required"`
	DateOfBirth    string `json:"date_of_birth"`
	Gender         string `json:"gender"`
	Address        string `json:"address"`
	PhoneNumber    string `json:"phone_number"`
	Email          string `json:"email" binding:"required,email"`
	MedicalHistory string `json:"medical_history"`
}

func (r patientRequest) patient() Patient {
	return Patient{
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		DateOfBirth:    r.DateOfBirth,
		Gender:         r.Gender,
		Address:        r.Address,
		PhoneNumber:    r.PhoneNumber,
		Email:          r.Email,
		MedicalHistory: r.MedicalHistory,
	}
}

func (s *Server) createPatient(c *gin.Context) {
	var req patientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	p, err := s.store.CreatePatient(c.Request.Context(), req.patient())
	if errors.Is(err, ErrEmailTaken) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
		return
	}
	if err != nil {
		s.storeError(c, "create patient", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) listPatients(c *gin.Context) {
	skip, err1 := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, err2 := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err1 != nil || err2 != nil || skip < 0 || limit < 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "skip and limit must be non-negative integers"})
		return
	}

	patients, err := s.store.ListPatients(c.Request.Context(), skip, limit)
	if err != nil {
		s.storeError(c, "list patients", err)
		return
	}
	c.JSON(http.StatusOK, patients)
}

func (s *Server) getPatient(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}

	p, err := s.store.GetPatient(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "get patient", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) updatePatient(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}
	var req patientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	p := req.patient()
	p.ID = id
	updated, err := s.store.UpdatePatient(c.Request.Context(), p)
	if errors.Is(err, ErrEmailTaken) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
		return
	}
	if err != nil {
		s.storeError(c, "update patient", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deletePatient(c *gin.Context) {
	if currentUser(c).Role != "admin" {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Only admin users can delete patients"})
		return
	}
	id, ok := patientID(c)
	if !ok {
		return
	}

	if err := s.store.DeletePatient(c.Request.Context(), id); err != nil {
		s.storeError(c, "delete patient", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func patientID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "patient id must be an integer"})
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(c *gin.Context, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Patient not found"})
		return
	}
	s.logger.Error(op+" failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "An unexpected error occurred"})
}

// SeedAdmin creates an admin account unless the username already exists.
func SeedAdmin(ctx context.Context, s *Server, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return nil
	}
	_, err := s.CreateUser(ctx, User{
		Username:  username,
		Email:     username + "@localhost.localdomain",
		FirstName: username,
		LastName:  "admin",
		Role:      "admin",
	}, password)
	return err
}
