package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/events"
	"github.com/pbsnet/gateway/internal/handler"
	"github.com/pbsnet/gateway/internal/identity"
	"github.com/pbsnet/gateway/internal/keylock"
	"github.com/pbsnet/gateway/internal/media"
	"github.com/pbsnet/gateway/internal/platform"
	"github.com/pbsnet/gateway/internal/platform/memory"
	"github.com/pbsnet/gateway/internal/profile"
	"github.com/pbsnet/gateway/internal/sysdata"
	"github.com/pbsnet/gateway/internal/users"
)

const (
	testAdminSecret = "admin-secret-for-tests"
	profileColl     = "user_profiles"
	systemColl      = "system_data"
	bucket          = "profile_pics"
)

var testJWTSecret = []byte("0123456789abcdef0123456789abcdef")

func init() {
	gin.SetMode(gin.TestMode)
}

// testGateway is the full HTTP surface wired to the memory backend.
type testGateway struct {
	router  *gin.Engine
	backend *memory.Backend
	tokens  *identity.TokenService
}

// newTestGateway builds the router. docs, when non-nil, replaces the
// backend's document store.
func newTestGateway(t *testing.T, docs platform.Documents) *testGateway {
	t.Helper()

	mem := memory.New()
	mem.SetUnique(profileColl, "username")
	if docs == nil {
		docs = mem
	}

	logger := zap.NewNop()
	locks := keylock.NewMemory()
	pub := events.Noop{}
	tokens := identity.NewTokenService(testJWTSecret, identity.DefaultTokenTTL)

	profiles := profile.NewStore(docs, profileColl, locks, pub, "pbsnet", logger)
	sys := sysdata.NewStore(docs, systemColl, locks, pub, logger)
	pics := media.NewService(mem, profiles, media.Config{
		Bucket:    bucket,
		PublicURL: "http://gw.test/v1",
		ProjectID: "pbsnet",
	}, pub, logger)
	userSvc := users.NewService(mem, profiles, tokens, pub, "https://app.test", logger)

	r := gin.New()
	api := r.Group("/api")
	handler.NewAuthHandler(userSvc, logger).Register(api)
	handler.NewMeHandler(profiles, userSvc, pics, tokens, 1<<20, logger).Register(api)
	handler.NewDirectoryHandler(profiles, pics, tokens, logger).Register(api)
	handler.NewAdminHandler(profiles, sys, testAdminSecret, logger).Register(api)
	handler.NewFilesHandler(pics, logger).Register(r.Group("/v1"))

	return &testGateway{router: r, backend: mem, tokens: tokens}
}

// do sends a JSON request. token and headers may be empty.
func (g *testGateway) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	return w
}

// upload posts data as multipart field.
func (g *testGateway) upload(t *testing.T, token, field string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "me.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/me/pic", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	return w
}

// signup registers and logs in a user, returning the user id and token.
func (g *testGateway) signup(t *testing.T, email, password, name string) (string, string) {
	t.Helper()
	w := g.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": password, "name": name,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var reg struct {
		UserID string `json:"userId"`
	}
	decode(t, w, &reg)

	tok, err := g.tokens.Issue(reg.UserID, email)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return reg.UserID, tok
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	decode(t, w, &resp)
	return resp.Error
}

func pngBytes() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
}

// failingDocs fails every document call with an error carrying
// provider-internal detail.
type failingDocs struct{}

var errProvider = errors.New("appwrite 500: mongo shard db-7.internal timed out")

func (failingDocs) Get(context.Context, string, string) (*platform.Document, error) {
	return nil, errProvider
}

func (failingDocs) Create(context.Context, string, string, map[string]any) (*platform.Document, error) {
	return nil, errProvider
}

func (failingDocs) Update(context.Context, string, string, map[string]any) (*platform.Document, error) {
	return nil, errProvider
}

func (failingDocs) List(context.Context, string, ...platform.Query) ([]*platform.Document, error) {
	return nil, errProvider
}

func expiredToken(t *testing.T, userID, email string) string {
	t.Helper()
	old := identity.NewTokenService(testJWTSecret, -time.Hour)
	tok, err := old.Issue(userID, email)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}
