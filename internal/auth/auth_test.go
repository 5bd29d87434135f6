package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type memUserStore struct {
	users  map[string]*User
	tokens map[string]string
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]*User), tokens: make(map[string]string)}
}

func (m *memUserStore) GetUserByID(_ context.Context, id string) (*User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func (m *memUserStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, errors.New("user not found")
}

func (m *memUserStore) CreateUser(_ context.Context, user *User) error {
	m.users[user.ID] = user
	return nil
}

func (m *memUserStore) UpdateUser(_ context.Context, user *User) error { return nil }
func (m *memUserStore) DeleteUser(_ context.Context, id string) error  { return nil }
func (m *memUserStore) ListUsers(_ context.Context) ([]*User, error)   { return nil, nil }

func (m *memUserStore) StoreRefreshToken(_ context.Context, userID, token string, _ time.Time) error {
	m.tokens[token] = userID
	return nil
}

func (m *memUserStore) ValidateRefreshToken(_ context.Context, userID, token string) (bool, error) {
	return m.tokens[token] == userID, nil
}

func (m *memUserStore) RevokeRefreshToken(_ context.Context, _, token string) error {
	delete(m.tokens, token)
	return nil
}

func (m *memUserStore) RevokeAllRefreshTokens(_ context.Context, _ string) error { return nil }

func testService(t *testing.T) (*Service, *User) {
	t.Helper()

	store := newMemUserStore()
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &User{ID: "u-1", Email: "manager@example.com", Name: "Manager", Password: hash, Role: RoleManager}
	store.CreateUser(context.Background(), user)

	return NewService(Config{JWTSecret: "test-secret"}, store), user
}

func TestLoginAndValidate(t *testing.T) {
	svc, user := testService(t)

	pair, err := svc.Login(context.Background(), user.Email, "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.TokenType != "Bearer" || pair.AccessToken == "" {
		t.Errorf("token pair = %+v", pair)
	}

	claims, err := svc.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != user.ID || claims.Role != RoleManager {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := svc.Login(context.Background(), user.Email, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, user := testService(t)

	pair, err := svc.Login(context.Background(), user.Email, "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	fresh, err := svc.RefreshTokens(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens: %v", err)
	}
	if fresh.AccessToken == "" {
		t.Error("expected a new access token")
	}

	// The old refresh token was revoked by the rotation.
	if _, err := svc.RefreshTokens(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("reused refresh token err = %v, want ErrInvalidToken", err)
	}
}

func TestRequireRole(t *testing.T) {
	svc, user := testService(t)
	pair, _ := svc.Login(context.Background(), user.Email, "secret")

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	adminOnly := svc.Middleware(RequireRole(RoleAdmin)(ok))
	managerOK := svc.Middleware(RequireRole(RoleAdmin, RoleManager)(ok))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	rec := httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("manager hitting admin route = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	managerOK.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("manager hitting manager route = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	managerOK.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token = %d, want 401", rec.Code)
	}
}
