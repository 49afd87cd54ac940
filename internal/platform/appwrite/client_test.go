package appwrite_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pbsnet/gateway/internal/platform"
	"github.com/pbsnet/gateway/internal/platform/appwrite"
)

// ── Stub platform ─────────────────────────────────────────────────────────

func stubAppwrite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Appwrite-Key") != "secret-key" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"message": "missing scope", "code": 401, "type": "general_unauthorized_scope"})
			return
		}
		switch r.Method {
		case http.MethodPost:
			var in map[string]any
			json.NewDecoder(r.Body).Decode(&in)
			if in["email"] == "taken@x.com" {
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(map[string]any{"message": "A user with the same id, email, or phone already exists", "code": 409, "type": "user_already_exists"})
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"$id": "u1", "email": in["email"], "name": in["name"]})
		case http.MethodGet:
			q := r.URL.Query()["queries[]"]
			users := []map[string]any{}
			if len(q) > 0 && strings.Contains(q[0], `"a@x.com"`) {
				users = append(users, map[string]any{"$id": "u1", "email": "a@x.com", "name": "Alice"})
			}
			json.NewEncoder(w).Encode(map[string]any{"total": len(users), "users": users})
		}
	})

	mux.HandleFunc("/v1/account/sessions/email", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Appwrite-Key") != "" {
			t.Error("password check must not send the API key")
		}
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "pw-correct" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"message": "Invalid credentials", "code": 401, "type": "user_invalid_credentials"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"$id": "s1"})
	})

	mux.HandleFunc("/v1/account", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Appwrite-JWT") != "good-jwt" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"message": "jwt invalid", "code": 401})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"$id": "g1", "email": "g@x.com", "name": "Gee"})
	})

	mux.HandleFunc("/v1/databases/db/collections/profiles/documents/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/databases/db/collections/profiles/documents/")
		if id != "u1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"message": "Document not found", "code": 404, "type": "document_not_found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"$id": "u1", "$collectionId": "profiles", "$createdAt": "2024-01-01",
			"full_name": "Alice", "personal_json": "{}",
		})
	})

	mux.HandleFunc("/v1/storage/buckets/pics/files", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("fileId") != "unique()" {
			t.Errorf("fileId = %q", r.FormValue("fileId"))
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"$id": "f1"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *appwrite.Client {
	srv := stubAppwrite(t)
	return appwrite.New(appwrite.Config{
		Endpoint:   srv.URL + "/v1/",
		ProjectID:  "proj",
		APIKey:     "secret-key",
		DatabaseID: "db",
	})
}

// ── Tests ─────────────────────────────────────────────────────────────────

func TestCreateUser_conflict(t *testing.T) {
	c := newClient(t)

	_, err := c.CreateUser(context.Background(), "taken@x.com", "pw", "T")
	if !errors.Is(err, platform.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var upstream *platform.Error
	if !errors.As(err, &upstream) || upstream.Type != "user_already_exists" {
		t.Errorf("expected upstream error type, got %v", err)
	}
}

func TestFindUserByEmail(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	a, err := c.FindUserByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("FindUserByEmail() error: %v", err)
	}
	if a.ID != "u1" || a.Name != "Alice" {
		t.Errorf("unexpected account %+v", a)
	}

	if _, err := c.FindUserByEmail(ctx, "nobody@x.com"); !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckPassword(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	if err := c.CheckPassword(ctx, "a@x.com", "pw-correct"); err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if err := c.CheckPassword(ctx, "a@x.com", "wrong"); !errors.Is(err, platform.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAccountFromAssertion(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	a, err := c.AccountFromAssertion(ctx, "good-jwt")
	if err != nil {
		t.Fatalf("AccountFromAssertion() error: %v", err)
	}
	if a.Email != "g@x.com" {
		t.Errorf("Email: got %q", a.Email)
	}
	if _, err := c.AccountFromAssertion(ctx, "bad"); !errors.Is(err, platform.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestGetDocument_stripsMetadata(t *testing.T) {
	c := newClient(t)

	d, err := c.Get(context.Background(), "profiles", "u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if d.ID != "u1" {
		t.Errorf("ID: got %q", d.ID)
	}
	if _, ok := d.Data["$collectionId"]; ok {
		t.Error("metadata attribute leaked into Data")
	}
	if d.String("full_name") != "Alice" {
		t.Errorf("full_name: got %q", d.String("full_name"))
	}
}

func TestGetDocument_notFound(t *testing.T) {
	c := newClient(t)

	_, err := c.Get(context.Background(), "profiles", "missing")
	if !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpload(t *testing.T) {
	c := newClient(t)

	id, err := c.Upload(context.Background(), "pics", "profile.png", []byte("\x89PNG"))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if id != "f1" {
		t.Errorf("id: got %q", id)
	}
}

func TestOAuthURL(t *testing.T) {
	c := appwrite.New(appwrite.Config{Endpoint: "https://aw.example/v1", ProjectID: "proj"})

	u, err := c.OAuthURL("google", "https://app/dashboard", "https://app/login")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://aw.example/v1/account/sessions/oauth2/google?"
	if !strings.HasPrefix(u, want) {
		t.Errorf("got %q, want prefix %q", u, want)
	}
	if !strings.Contains(u, "project=proj") || !strings.Contains(u, "success=https%3A%2F%2Fapp%2Fdashboard") {
		t.Errorf("missing query params: %q", u)
	}
}
