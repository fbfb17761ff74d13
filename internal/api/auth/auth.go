package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Tenant - тенант и его лицензионный ключ. Задаётся открытый Key или bcrypt KeyHash.
type Tenant struct {
	ID      string
	Key     string
	KeyHash string
}

// Claims представляет JWT claims оператора
type Claims struct {
	Tenant string `json:"tenant"`
	jwt.RegisteredClaims
}

// Service управляет аутентификацией: лицензионные ключи EA и JWT операторов
type Service struct {
	jwtSecret []byte
	tokenTTL  time.Duration
	tenants   []Tenant
	now       func() time.Time

	// bcrypt дорогой, EA опрашивает сервер каждые несколько сотен мс
	mu       sync.RWMutex
	resolved map[string]string // sha256(key) -> tenant
}

// NewService создает новый auth сервис
func NewService(jwtSecret string, tokenTTL time.Duration, tenants []Tenant) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		tenants:   tenants,
		now:       time.Now,
		resolved:  make(map[string]string),
	}
}

// HashKey хеширует лицензионный ключ для конфигурации
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// ResolveTenant возвращает тенанта по лицензионному ключу
func (s *Service) ResolveTenant(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidCredentials
	}

	sum := sha256.Sum256([]byte(key))
	fingerprint := hex.EncodeToString(sum[:])

	s.mu.RLock()
	tenant, ok := s.resolved[fingerprint]
	s.mu.RUnlock()
	if ok {
		return tenant, nil
	}

	for _, t := range s.tenants {
		if !matches(t, key) {
			continue
		}

		s.mu.Lock()
		s.resolved[fingerprint] = t.ID
		s.mu.Unlock()

		return t.ID, nil
	}

	return "", ErrInvalidCredentials
}

func matches(t Tenant, key string) bool {
	if t.KeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(t.KeyHash), []byte(key)) == nil
	}

	return t.Key != "" && subtle.ConstantTimeCompare([]byte(t.Key), []byte(key)) == 1
}

// GenerateToken создает JWT токен оператора тенанта
func (s *Service) GenerateToken(tenant string) (string, error) {
	now := s.now()
	claims := &Claims{
		Tenant: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenant,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.jwtSecret)
}

// ValidateToken проверяет JWT токен и возвращает claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}

		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Tenant != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
