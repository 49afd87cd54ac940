package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedRouter(ts *TokenService) *gin.Engine {
	r := gin.New()
	r.GET("/me", RequireToken(ts), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": ClaimsFromCtx(c).UserID})
	})
	r.POST("/admin", RequireAdminSecret("s3cret"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequireToken(t *testing.T) {
	ts := newTestTokenService()
	r := protectedRouter(ts)
	good, _ := ts.Issue("u1", "a@x.com")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusForbidden},
		{"bad token", "Bearer nope", http.StatusForbidden},
		{"valid", "Bearer " + good, http.StatusOK},
		{"lowercase scheme", "bearer " + good, http.StatusOK},
		{"uppercase scheme", "BEARER " + good, http.StatusOK},
		{"scheme only", "Bearer", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d (body %s)", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestRequireAdminSecret(t *testing.T) {
	r := protectedRouter(newTestTokenService())

	for secret, want := range map[string]int{
		"":       http.StatusForbidden,
		"wrong":  http.StatusForbidden,
		"s3cret": http.StatusNoContent,
	} {
		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		req.Header.Set("X-Admin-Secret", secret)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("secret %q: got %d, want %d", secret, w.Code, want)
		}
	}
}

func TestRequireAdminSecret_emptyConfiguredSecret(t *testing.T) {
	r := gin.New()
	r.POST("/admin", RequireAdminSecret(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPost, "/admin", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("got %d, want 403", w.Code)
	}
}
