package fakeserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"nuha.dev/guardian/internal/api"
	"nuha.dev/guardian/internal/util"
)

const demoUserID = "1"

func (s *Server) mintPair(userID string) api.TokenPair {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "guardian-fakeserver",
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AccessTTL)),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	util.Pan1c(err)

	refresh := util.GenRandomString(nil, 24)
	s.mu.Lock()
	s.refresh[refresh] = userID
	s.mu.Unlock()

	return api.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.config.AccessTTL / time.Second),
	}
}

func (s *Server) verifyAccess(raw string) (string, bool) {
	parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	return claims.Subject, true
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	req := api.LoginRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Struct(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	email, hash := s.config.DemoEmail, s.pwdHash
	s.mu.Unlock()
	if req.Email != email ||
		bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		errorJSON(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	util.JsonWrite(w, s.mintPair(demoUserID))
}

// signup replaces the demo account. The server only ever knows one user, so
// signing up just swaps the credentials and hands out a fresh pair.
func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	req := api.SignupRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Struct(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	hash := util.CryptPwd(req.Password)
	s.mu.Lock()
	s.config.DemoEmail = req.Email
	s.pwdHash = hash
	s.mu.Unlock()
	util.JsonWrite(w, s.mintPair(demoUserID))
}

// refreshToken rotates the pair. The refresh token arrives in a cookie, not
// a bearer header.
func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	ck, err := r.Cookie("refresh_token")
	if err != nil || ck.Value == "" {
		errorJSON(w, http.StatusUnauthorized, "missing refresh token")
		return
	}
	s.mu.Lock()
	userID, ok := s.refresh[ck.Value]
	if ok {
		delete(s.refresh, ck.Value)
	}
	s.mu.Unlock()
	if !ok {
		errorJSON(w, http.StatusUnauthorized, "refresh token not recognized")
		return
	}
	util.JsonWrite(w, s.mintPair(userID))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	// Access tokens are stateless; dropping every refresh token for the
	// demo user is enough to end the session.
	s.mu.Lock()
	for tok, uid := range s.refresh {
		if uid == userID(r) {
			delete(s.refresh, tok)
		}
	}
	s.mu.Unlock()
	util.JsonWrite(w, map[string]string{"message": "logged out"})
}

type ctxKey int

const userKey ctxKey = 0

func withUser(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, userKey, uid)
}

func userID(r *http.Request) string {
	v, _ := r.Context().Value(userKey).(string)
	return v
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(raw) <= len(prefix) || raw[:len(prefix)] != prefix {
			errorJSON(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		uid, ok := s.verifyAccess(raw[len(prefix):])
		if !ok {
			errorJSON(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), uid)))
	})
}
