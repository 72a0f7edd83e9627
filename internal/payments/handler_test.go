package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundsflow/internal/gateway"
	"github.com/congo-pay/fundsflow/internal/middleware"
)

func newTestApp(f *fixture) *fiber.App {
	h := NewHandler(f.svc)
	app := fiber.New()
	app.Use(middleware.Actor())
	app.Post("/transfers/internal", h.Internal)
	app.Post("/transfers/external", h.External)
	app.Get("/transfers/:id", h.Get)
	app.Post("/transfers/:id/cancel", h.Cancel)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHandlerInternalTransfer(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 10_000)
	f.open(t, "user-b", "100-B", 0)
	app := newTestApp(f)

	status, body := do(t, app, http.MethodPost, "/transfers/internal", "user-a",
		`{"receiver_account":"100-B","amount":"2500.50","memo":"rent"}`)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", status, body)
	}
	if body["status"] != "COMPLETED" || body["amount"] != "2500.50" || body["sender_balance"] != "7499.50" {
		t.Fatalf("unexpected body %v", body)
	}

	id, _ := body["transaction_id"].(string)
	status, body = do(t, app, http.MethodGet, "/transfers/"+id, "user-b", "")
	if status != http.StatusOK || body["transaction_id"] != id {
		t.Fatalf("receiver lookup: %d %v", status, body)
	}
	status, _ = do(t, app, http.MethodGet, "/transfers/"+id, "user-c", "")
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", status)
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 1_000)
	app := newTestApp(f)

	cases := []struct {
		name, user, body string
		status           int
		code             string
	}{
		{"no caller", "", `{"receiver_account":"100-B","amount":"10"}`, http.StatusUnauthorized, ""},
		{"unknown receiver", "user-a", `{"receiver_account":"404-X","amount":"10"}`, http.StatusNotFound, CodeAccountNotFound},
		{"self transfer", "user-a", `{"receiver_account":"100-A","amount":"10"}`, http.StatusBadRequest, CodeSelfTransfer},
		{"bad amount", "user-a", `{"receiver_account":"100-A","amount":"-1"}`, http.StatusBadRequest, CodeValidation},
	}
	for _, tc := range cases {
		status, body := do(t, app, http.MethodPost, "/transfers/internal", tc.user, tc.body)
		if status != tc.status {
			t.Fatalf("%s: expected %d, got %d %v", tc.name, tc.status, status, body)
		}
		if tc.code != "" && body["code"] != tc.code {
			t.Fatalf("%s: expected code %s, got %v", tc.name, tc.code, body["code"])
		}
	}
}

func TestHandlerExternalTimeoutAccepted(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 10_000)
	f.gateway.Script("900-X", gateway.Outcome{Process: gateway.StatusTimeout})
	app := newTestApp(f)

	status, body := do(t, app, http.MethodPost, "/transfers/external", "user-a",
		`{"receiver_account":"900-X","receiver_bank_code":"BNK","amount":"100"}`)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %v", status, body)
	}
	if body["status"] != "TIMEOUT" || body["code"] != CodeExternalTimeout {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHandlerCancelUnknownTransfer(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	status, body := do(t, app, http.MethodPost, "/transfers/missing/cancel", "user-a", "")
	if status != http.StatusNotFound || body["code"] != "TRANSFER_NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", status, body)
	}
}

func TestHandlerSenderSurvivesOtherCallers(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 10_000)
	f.open(t, "user-b", "100-B", 0)
	app := newTestApp(f)

	status, body := do(t, app, http.MethodPost, "/transfers/internal", "user-a",
		`{"receiver_account":"100-B","amount":"10"}`)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", status, body)
	}
	id, _ := body["transaction_id"].(string)

	for _, outsider := range []string{"user-c", "user-d"} {
		if status, _ := do(t, app, http.MethodGet, "/transfers/"+id, outsider, ""); status != http.StatusForbidden {
			t.Fatalf("expected 403 for %s, got %d", outsider, status)
		}
	}
	if status, _ := do(t, app, http.MethodPost, "/transfers/internal", "user-c",
		`{"sender_account":"100-A","receiver_account":"100-B","amount":"10"}`); status == http.StatusCreated {
		t.Fatal("outsider debited another user's account")
	}

	stored, err := f.svc.Get(context.Background(), id, "user-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.SenderUserID != "user-a" {
		t.Fatalf("expected sender user-a, got %q", stored.SenderUserID)
	}
}
