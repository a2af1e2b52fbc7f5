package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer значение поля iss выдаваемых токенов
const Issuer = "sandblox"

// MinSecretLength минимальная длина секрета HS256 в байтах
const MinSecretLength = 16

var (
	// ErrInvalidToken токен не прошёл проверку
	ErrInvalidToken = errors.New("auth: недействительный токен")
	// ErrWeakSecret секрет короче MinSecretLength
	ErrWeakSecret = errors.New("auth: секрет слишком короткий")
)

// Claims утверждения токена редактора мира
type Claims struct {
	Editor string `json:"editor"`
	jwt.RegisteredClaims
}

// TokenIssuer выдаёт и проверяет HS256-токены редакторов
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer создаёт выпускающего с секретом secret
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: %d байт, нужно не меньше %d", ErrWeakSecret, len(secret), MinSecretLength)
	}
	return &TokenIssuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue создаёт токен для редактора editor со сроком жизни ttl
func (ti *TokenIssuer) Issue(editor string, ttl time.Duration) (string, error) {
	if editor == "" {
		return "", errors.New("auth: пустое имя редактора")
	}
	now := ti.now()
	claims := &Claims{
		Editor: editor,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   editor,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// Validate проверяет подпись, срок и издателя токена
func (ti *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return ti.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(ti.now))

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecureSecret генерирует случайный секрет для server.auth_secret
func GenerateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
