package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundsflow/internal/ledger"
	"github.com/congo-pay/fundsflow/internal/middleware"
)

func newAccountApp(svc *Service) *fiber.App {
	h := NewHandler(svc)
	app := fiber.New()
	app.Use(middleware.Actor())
	app.Post("/accounts", h.Open)
	app.Get("/accounts/:number/balance", h.Balance)
	return app
}

func send(t *testing.T, app *fiber.App, method, path, user, body string) (int, map[string]any) {
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

func TestHandlerOpenAndBalance(t *testing.T) {
	led := ledger.NewInMemory()
	app := newAccountApp(NewService(NewMemoryRepository(), led))

	status, body := send(t, app, http.MethodPost, "/accounts", "user-1", `{"number":"200-A","primary":true}`)
	if status != http.StatusCreated || body["account_number"] != "200-A" {
		t.Fatalf("open: %d %v", status, body)
	}
	status, _ = send(t, app, http.MethodPost, "/accounts", "user-1", `{"number":"200-A"}`)
	if status != http.StatusConflict {
		t.Fatalf("expected duplicate number refused, got %d", status)
	}

	ledger.SeedBalance(led, "200-A", decimal.NewFromInt(1500))
	status, body = send(t, app, http.MethodGet, "/accounts/200-A/balance", "user-1", "")
	if status != http.StatusOK || body["balance"] != "1500.00" {
		t.Fatalf("balance: %d %v", status, body)
	}
	status, _ = send(t, app, http.MethodGet, "/accounts/200-A/balance", "user-2", "")
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for other user, got %d", status)
	}
	status, _ = send(t, app, http.MethodGet, "/accounts/404/balance", "user-1", "")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestHandlerOwnerIsNotTakenOverByLaterCaller(t *testing.T) {
	led := ledger.NewInMemory()
	svc := NewService(NewMemoryRepository(), led)
	app := newAccountApp(svc)

	if status, body := send(t, app, http.MethodPost, "/accounts", "user-1", `{"number":"200-A"}`); status != http.StatusCreated {
		t.Fatalf("open: %d %v", status, body)
	}
	for i := 0; i < 3; i++ {
		if status, _ := send(t, app, http.MethodGet, "/accounts/200-A/balance", "user-2", ""); status != http.StatusForbidden {
			t.Fatalf("attempt %d: expected 403 for other user, got %d", i+1, status)
		}
	}
	acct, err := svc.Get(context.Background(), "200-A")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.OwnerID != "user-1" {
		t.Fatalf("expected owner user-1, got %q", acct.OwnerID)
	}
	if status, _ := send(t, app, http.MethodGet, "/accounts/200-A/balance", "", ""); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without caller, got %d", status)
	}
}
