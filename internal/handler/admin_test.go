package handler_test

import (
	"net/http"
	"reflect"
	"testing"
)

// adminFixture registers a user with an API key and returns the key.
func adminFixture(t *testing.T, g *testGateway) string {
	t.Helper()
	_, tok := g.signup(t, "a@x.com", "password1", "Alice")
	g.do(t, http.MethodPatch, "/api/me/json", tok, map[string]any{"hobby": "chess"})
	var gen struct {
		Key string `json:"key"`
	}
	decode(t, g.do(t, http.MethodPost, "/api/me/key", tok, nil), &gen)
	return gen.Key
}

func (g *testGateway) admin(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	w := g.do(t, method, path, "", body, "X-Admin-Secret", testAdminSecret)
	var out map[string]any
	decode(t, w, &out)
	return w.Code, out
}

func TestAdmin_SubclassesMergeIndependently(t *testing.T) {
	g := newTestGateway(t, nil)
	key := adminFixture(t, g)

	code, resp := g.admin(t, http.MethodPatch, "/api/admin/user-app-data", map[string]any{
		"target_user_key": key, "subclass": "billing", "data": map[string]any{"plan": "pro"},
	})
	if code != http.StatusOK {
		t.Fatalf("billing: expected 200, got %d: %v", code, resp)
	}
	if resp["message"] != "System Data Updated for 'billing'" {
		t.Errorf("message: got %v", resp["message"])
	}

	code, _ = g.admin(t, http.MethodPatch, "/api/admin/user-app-data", map[string]any{
		"target_user_key": key, "subclass": "notes", "data": map[string]any{"flag": true},
	})
	if code != http.StatusOK {
		t.Fatalf("notes: expected 200, got %d", code)
	}

	code, view := g.admin(t, http.MethodPost, "/api/admin/user-app-data/view", map[string]any{
		"target_user_key": key,
	})
	if code != http.StatusOK {
		t.Fatalf("view: expected 200, got %d", code)
	}
	want := map[string]any{
		"billing": map[string]any{"plan": "pro"},
		"notes":   map[string]any{"flag": true},
	}
	if !reflect.DeepEqual(view["app_json"], want) {
		t.Errorf("app_json: want %v, got %v", want, view["app_json"])
	}
	if view["full_name"] != "Alice" || view["email"] != "a@x.com" {
		t.Errorf("profile fields: %v", view)
	}
	if pj, _ := view["personal_json"].(map[string]any); pj["hobby"] != "chess" {
		t.Errorf("personal_json: got %v", view["personal_json"])
	}
}

func TestAdmin_PatchIsIdempotent(t *testing.T) {
	g := newTestGateway(t, nil)
	key := adminFixture(t, g)

	body := map[string]any{"target_user_key": key, "subclass": "billing", "data": map[string]any{"plan": "pro"}}
	_, first := g.admin(t, http.MethodPatch, "/api/admin/user-app-data", body)
	_, second := g.admin(t, http.MethodPatch, "/api/admin/user-app-data", body)
	if !reflect.DeepEqual(first["updated_data"], second["updated_data"]) {
		t.Errorf("repeat patch changed result: %v then %v", first["updated_data"], second["updated_data"])
	}
}

func TestAdmin_ViewSubclass(t *testing.T) {
	g := newTestGateway(t, nil)
	key := adminFixture(t, g)

	g.admin(t, http.MethodPatch, "/api/admin/user-app-data", map[string]any{
		"target_user_key": key, "subclass": "billing", "data": map[string]any{"plan": "pro"},
	})
	g.admin(t, http.MethodPatch, "/api/admin/user-app-data", map[string]any{
		"target_user_key": key, "subclass": "notes", "data": map[string]any{"flag": true},
	})

	code, resp := g.admin(t, http.MethodPost, "/api/admin/user-app-data/view", map[string]any{
		"target_user_key": key, "subclass": "billing",
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp["user"] != "Alice" {
		t.Errorf("user: got %v", resp["user"])
	}
	if !reflect.DeepEqual(resp["subclass_data"], map[string]any{"plan": "pro"}) {
		t.Errorf("subclass_data: got %v", resp["subclass_data"])
	}
	if _, ok := resp["app_json"]; ok {
		t.Error("subclass view must not include other subclasses")
	}

	_, resp = g.admin(t, http.MethodPost, "/api/admin/user-app-data/view", map[string]any{
		"target_user_key": key, "subclass": "absent",
	})
	if !reflect.DeepEqual(resp["subclass_data"], map[string]any{}) {
		t.Errorf("absent subclass: want {}, got %v", resp["subclass_data"])
	}
}

func TestAdmin_NoSystemDocumentYet(t *testing.T) {
	g := newTestGateway(t, nil)
	key := adminFixture(t, g)

	code, resp := g.admin(t, http.MethodPost, "/api/admin/user-app-data/view", map[string]any{"target_user_key": key})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !reflect.DeepEqual(resp["app_json"], map[string]any{}) {
		t.Errorf("app_json: want {}, got %v", resp["app_json"])
	}
}

func TestAdmin_Rejections(t *testing.T) {
	g := newTestGateway(t, nil)
	key := adminFixture(t, g)

	w := g.do(t, http.MethodPost, "/api/admin/user-app-data/view", "", map[string]any{"target_user_key": key})
	if w.Code != http.StatusForbidden || errorOf(t, w) != "Access Denied: Admin Secret Required" {
		t.Errorf("no secret: got %d %s", w.Code, w.Body.String())
	}
	w = g.do(t, http.MethodPost, "/api/admin/user-app-data/view", "", map[string]any{"target_user_key": key},
		"X-Admin-Secret", "guess")
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong secret: expected 403, got %d", w.Code)
	}

	code, resp := g.admin(t, http.MethodPost, "/api/admin/user-app-data/view", map[string]any{"target_user_key": "pbsnet-unknown"})
	if code != http.StatusNotFound || resp["error"] != "Invalid User Key" {
		t.Errorf("unknown key: got %d %v", code, resp)
	}

	code, resp = g.admin(t, http.MethodPatch, "/api/admin/user-app-data", map[string]any{"target_user_key": key, "subclass": "billing"})
	if code != http.StatusBadRequest || resp["error"] != "Subclass and Data required" {
		t.Errorf("missing data: got %d %v", code, resp)
	}

	code, _ = g.admin(t, http.MethodPatch, "/api/admin/user-app-data", map[string]any{"target_user_key": key, "data": map[string]any{"a": 1}})
	if code != http.StatusBadRequest {
		t.Errorf("missing subclass: expected 400, got %d", code)
	}
}
