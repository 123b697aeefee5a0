package user

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"linkup/internal/ident"
)

// The default avatar assigned at registration; clients may replace it
// through the upload flow, which lives outside this service.
const defaultAvatar = "https://cdn.linkup.chat/avatars/default.png"

var (
	ErrMissingFields      = errors.New("name, phone and password are required")
	ErrInvalidCredentials = errors.New("invalid phone or password")
)

// Store is what the service needs from persistence; *Repository satisfies
// it, and tests substitute an in-memory map.
type Store interface {
	CreateUser(ctx context.Context, u *User) (*User, error)
	GetByLogin(ctx context.Context, login string) (*User, error)
	GetByID(ctx context.Context, id ident.ID) (*User, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)
}

type Service struct {
	repo      Store
	jwtSecret string
}

type Claims struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

func NewService(repo Store, secret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	if req.Name == "" || req.Phone == "" || req.Password == "" {
		return nil, ErrMissingFields
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Avatar:   defaultAvatar,
		Password: string(hashedPwd),
	}

	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	u.Password = ""
	return u, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetByLogin(ctx, req.Phone)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:   string(u.ID),
		Name: u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "linkup",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Name:        u.Name,
		Phone:       u.Phone,
		Avatar:      u.Avatar,
	}, nil
}

// ValidateToken returns the canonical user id and display name carried by
// a signed access token.
func (s *Service) ValidateToken(tokenString string) (ident.ID, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", "", errors.New("invalid token")
	}

	id, err := ident.Parse(claims.ID)
	if err != nil {
		return "", "", err
	}
	return id, claims.Name, nil
}

func (s *Service) GetByID(ctx context.Context, id ident.ID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Password = ""
	return u, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	return s.repo.SearchUsers(ctx, query)
}
