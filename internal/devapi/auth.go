package devapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims are the access token claims: sub is the username.
type Claims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for u.
func (i *TokenIssuer) Issue(u User) (string, error) {
	now := i.now()
	claims := Claims{
		UserID: strconv.FormatInt(u.ID, 10),
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse validates tokenString and returns its claims.
func (i *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" || claims.UserID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Authenticate checks username and password against the store.
func Authenticate(ctx context.Context, store Store, username, password string) (User, error) {
	u, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)); err != nil {
		return User{}, err
	}
	return u, nil
}

const currentUserKey = "devapi.current_user"

// requireUser resolves the bearer token to a stored user, answering 401
// for anything else.
func (s *Server) requireUser(c *gin.Context) {
	unauthorized := func() {
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
	}

	header := c.GetHeader("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		unauthorized()
		return
	}

	claims, err := s.issuer.Parse(tokenString)
	if err != nil {
		unauthorized()
		return
	}
	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		unauthorized()
		return
	}
	u, err := s.store.GetUserByID(c.Request.Context(), id)
	if err != nil || u.Username != claims.Subject {
		unauthorized()
		return
	}

	c.Set(currentUserKey, u)
	c.Next()
}

func currentUser(c *gin.Context) User {
	u, _ := c.Get(currentUserKey)
	user, _ := u.(User)
	return user
}
