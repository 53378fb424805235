// CLAUDE:SUMMARY Session JWTs, API key generation/hashing, bcrypt one-time codes, credential extraction from HTTP requests
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// SessionCookie carries the session JWT for browser clients.
const SessionCookie = "session"

// APIKeyPrefix marks bearer tokens that are API keys rather than JWTs.
const APIKeyPrefix = "sk-"

type Auth struct {
	secret []byte
	expiry time.Duration
}

type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

func New(secret string, expiryMinutes int) *Auth {
	return &Auth{
		secret: []byte(secret),
		expiry: time.Duration(expiryMinutes) * time.Minute,
	}
}

func (a *Auth) Expiry() time.Duration { return a.expiry }

func (a *Auth) GenerateToken(userID, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// BearerToken returns the Authorization bearer value, or "".
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ExtractClaims reads the session JWT from the session cookie or a non-API-key
// bearer token. Returns nil if no valid token is present.
func (a *Auth) ExtractClaims(r *http.Request) *Claims {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if claims, err := a.ValidateToken(c.Value); err == nil {
			return claims
		}
	}
	tok := BearerToken(r)
	if tok == "" || strings.HasPrefix(tok, APIKeyPrefix) {
		return nil
	}
	claims, err := a.ValidateToken(tok)
	if err != nil {
		return nil
	}
	return claims
}

// SessionCookieFor builds the cookie that carries token.
func (a *Auth) SessionCookieFor(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.expiry.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// APIKey is a freshly minted key. Plain is shown to the user once.
type APIKey struct {
	Plain  string
	Hash   string
	Prefix string
}

// GenerateAPIKey returns "sk-" followed by 32 hex characters.
func GenerateAPIKey() (APIKey, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return APIKey{}, fmt.Errorf("generating api key: %w", err)
	}
	plain := APIKeyPrefix + hex.EncodeToString(b)
	return APIKey{Plain: plain, Hash: HashAPIKey(plain), Prefix: plain[:10]}, nil
}

// HashAPIKey is the lookup key stored in api_keys.key_hash.
func HashAPIKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// IsAPIKey reports whether tok has the API key shape.
func IsAPIKey(tok string) bool {
	return strings.HasPrefix(tok, APIKeyPrefix) && len(tok) == len(APIKeyPrefix)+32
}

// NewOTP returns a 6-digit numeric code.
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func HashCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
