package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/bancalabs/banca/internal/admin"
	"github.com/bancalabs/banca/internal/rewards"
	"github.com/bancalabs/banca/internal/store/memstore"
	"github.com/bancalabs/banca/internal/vip"
	"github.com/bancalabs/banca/pkg/arena"
	"github.com/bancalabs/banca/pkg/cooldown"
	"github.com/bancalabs/banca/pkg/ledger"
)

type scriptedSource struct {
	values []int
}

func (source *scriptedSource) IntN(n int) int {
	if len(source.values) == 0 {
		return 0
	}
	value := source.values[0]
	source.values = source.values[1:]
	return value % n
}

func newTestServer(test *testing.T, source *scriptedSource) (*Server, *int64) {
	test.Helper()

	now := int64(1_000_000)
	nowFn := func() int64 { return now }

	store := memstore.New()
	ledgerService, err := ledger.NewService(store, nowFn)
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	gate, err := cooldown.NewGate(store, nowFn)
	if err != nil {
		test.Fatalf("cooldown gate: %v", err)
	}
	vipService, err := vip.NewService(store, nowFn)
	if err != nil {
		test.Fatalf("vip service: %v", err)
	}
	adminService, err := admin.NewService(store, ledgerService, nowFn)
	if err != nil {
		test.Fatalf("admin service: %v", err)
	}
	rewardsService, err := rewards.NewService(ledgerService, gate, vipService, source, rewards.DefaultConfig())
	if err != nil {
		test.Fatalf("rewards service: %v", err)
	}
	engine, err := arena.NewEngine(ledgerService, source, nowFn, arena.WithManualTimers())
	if err != nil {
		test.Fatalf("engine: %v", err)
	}

	if err := adminService.Bootstrap(context.Background(), mustUserID(test, "root")); err != nil {
		test.Fatalf("bootstrap admin: %v", err)
	}

	server, err := NewServer(Config{ListenAddr: ":0"}, zap.NewNop(), ledgerService, engine, rewardsService, vipService, adminService)
	if err != nil {
		test.Fatalf("new server: %v", err)
	}
	return server, &now
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("new user id: %v", err)
	}
	return userID
}

func performJSON(test *testing.T, router http.Handler, method string, path string, payload any) *httptest.ResponseRecorder {
	test.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			test.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(test *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	test.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		test.Fatalf("decode body %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func creditUser(test *testing.T, router http.Handler, userID string, amount int64) {
	test.Helper()
	recorder := performJSON(test, router, http.MethodPost, "/api/v1/admin/credits", map[string]any{
		"admin_id":     "root",
		"user_id":      userID,
		"amount_cents": amount,
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("credit %s: status %d body %s", userID, recorder.Code, recorder.Body.String())
	}
}

func TestWalletReflectsAdminCredit(test *testing.T) {
	test.Parallel()

	server, _ := newTestServer(test, &scriptedSource{})
	router := server.Router()

	creditUser(test, router, "alice", 1500)

	recorder := performJSON(test, router, http.MethodGet, "/api/v1/users/alice/wallet", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("status %d body %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(test, recorder)
	if body["balance_cents"].(float64) != 1500 {
		test.Fatalf("expected balance 1500, got %v", body["balance_cents"])
	}
	transactions := body["transactions"].([]any)
	if len(transactions) != 1 {
		test.Fatalf("expected one transaction, got %d", len(transactions))
	}
}

func TestAdminCreditRequiresAuthorization(test *testing.T) {
	test.Parallel()

	server, _ := newTestServer(test, &scriptedSource{})
	router := server.Router()

	recorder := performJSON(test, router, http.MethodPost, "/api/v1/admin/credits", map[string]any{
		"admin_id":     "mallory",
		"user_id":      "mallory",
		"amount_cents": 1_000_000,
	})
	if recorder.Code != http.StatusForbidden {
		test.Fatalf("expected 403, got %d body %s", recorder.Code, recorder.Body.String())
	}
}

func TestAdminCreditRejectsNegativeAmount(test *testing.T) {
	test.Parallel()

	server, _ := newTestServer(test, &scriptedSource{})
	router := server.Router()

	recorder := performJSON(test, router, http.MethodPost, "/api/v1/admin/credits", map[string]any{
		"admin_id":     "root",
		"user_id":      "alice",
		"amount_cents": -500,
	})
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d body %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(test, recorder)
	if body["error"] != "invalid_argument" {
		test.Fatalf("expected invalid_argument, got %v", body["error"])
	}
}

func TestDailyClaimThenCooldown(test *testing.T) {
	test.Parallel()

	server, _ := newTestServer(test, &scriptedSource{})
	router := server.Router()

	recorder := performJSON(test, router, http.MethodPost, "/api/v1/rewards/daily", map[string]any{"user_id": "alice"})
	if recorder.Code != http.StatusOK {
		test.Fatalf("first claim: status %d body %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(test, recorder)
	transaction := body["transaction"].(map[string]any)
	if transaction["amount_cents"].(float64) != 500 {
		test.Fatalf("expected 500 cents, got %v", transaction["amount_cents"])
	}

	recorder = performJSON(test, router, http.MethodPost, "/api/v1/rewards/daily", map[string]any{"user_id": "alice"})
	if recorder.Code != http.StatusTooManyRequests {
		test.Fatalf("expected 429, got %d body %s", recorder.Code, recorder.Body.String())
	}
	body = decodeBody(test, recorder)
	errorBody := body["error"].(map[string]any)
	if errorBody["retry_after_seconds"].(float64) <= 0 {
		test.Fatalf("expected positive retry_after_seconds, got %v", errorBody["retry_after_seconds"])
	}
}

func TestDuelFlowOverHTTP(test *testing.T) {
	test.Parallel()

	// A scripted 1 picks the second participant, the challenged side.
	server, _ := newTestServer(test, &scriptedSource{values: []int{1}})
	router := server.Router()

	creditUser(test, router, "alice", 1000)
	creditUser(test, router, "bob", 1000)

	recorder := performJSON(test, router, http.MethodPost, "/api/v1/sessions", map[string]any{
		"kind":        "duel",
		"proposer_id": "alice",
		"stake_cents": 300,
		"opponent_id": "bob",
	})
	if recorder.Code != http.StatusCreated {
		test.Fatalf("propose: status %d body %s", recorder.Code, recorder.Body.String())
	}
	sessionID := decodeBody(test, recorder)["session_id"].(string)

	recorder = performJSON(test, router, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/accept", sessionID), map[string]any{"user_id": "bob"})
	if recorder.Code != http.StatusOK {
		test.Fatalf("accept: status %d body %s", recorder.Code, recorder.Body.String())
	}
	outcome := decodeBody(test, recorder)["outcome"].(map[string]any)
	if outcome["state"].(string) != "settled" {
		test.Fatalf("expected settled outcome, got %v", outcome["state"])
	}
	if outcome["winner"].(string) != "bob" {
		test.Fatalf("expected bob to win, got %v", outcome["winner"])
	}

	recorder = performJSON(test, router, http.MethodGet, "/api/v1/users/bob/wallet", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("wallet: status %d", recorder.Code)
	}
	if balance := decodeBody(test, recorder)["balance_cents"].(float64); balance != 1300 {
		test.Fatalf("expected winner balance 1300, got %v", balance)
	}
}

func TestUnknownSessionReturnsNotFound(test *testing.T) {
	test.Parallel()

	server, _ := newTestServer(test, &scriptedSource{})
	router := server.Router()

	recorder := performJSON(test, router, http.MethodGet, "/api/v1/sessions/missing", nil)
	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d body %s", recorder.Code, recorder.Body.String())
	}
}

func TestUnfundedProposalRejected(test *testing.T) {
	test.Parallel()

	server, _ := newTestServer(test, &scriptedSource{})
	router := server.Router()

	recorder := performJSON(test, router, http.MethodPost, "/api/v1/sessions", map[string]any{
		"kind":        "cup_guess",
		"proposer_id": "alice",
		"stake_cents": 100,
	})
	if recorder.Code != http.StatusUnprocessableEntity {
		test.Fatalf("expected 422, got %d body %s", recorder.Code, recorder.Body.String())
	}
}

func TestVIPGrantEmblemAndClaim(test *testing.T) {
	test.Parallel()

	server, _ := newTestServer(test, &scriptedSource{})
	router := server.Router()

	recorder := performJSON(test, router, http.MethodPost, "/api/v1/rewards/vip", map[string]any{"user_id": "alice"})
	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404 for non-vip claim, got %d body %s", recorder.Code, recorder.Body.String())
	}

	recorder = performJSON(test, router, http.MethodPost, "/api/v1/admin/vip-grants", map[string]any{
		"admin_id": "root",
		"user_id":  "alice",
		"days":     30,
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("vip grant: status %d body %s", recorder.Code, recorder.Body.String())
	}

	recorder = performJSON(test, router, http.MethodPut, "/api/v1/vip/alice/emblem", map[string]any{"emblem": "👑"})
	if recorder.Code != http.StatusOK {
		test.Fatalf("set emblem: status %d body %s", recorder.Code, recorder.Body.String())
	}

	recorder = performJSON(test, router, http.MethodGet, "/api/v1/vip/alice", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("vip status: %d", recorder.Code)
	}
	if emblem := decodeBody(test, recorder)["emblem"].(string); emblem != "👑" {
		test.Fatalf("expected emblem to persist, got %q", emblem)
	}

	recorder = performJSON(test, router, http.MethodPost, "/api/v1/rewards/vip", map[string]any{"user_id": "alice"})
	if recorder.Code != http.StatusOK {
		test.Fatalf("vip claim: status %d body %s", recorder.Code, recorder.Body.String())
	}
	transaction := decodeBody(test, recorder)["transaction"].(map[string]any)
	if transaction["amount_cents"].(float64) != 250 {
		test.Fatalf("expected 250 cents, got %v", transaction["amount_cents"])
	}
}

func TestRouterWithoutOriginsAllowsAll(test *testing.T) {
	test.Parallel()

	server, _ := newTestServer(test, &scriptedSource{})
	router := server.Router()

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("Origin", "http://example.com")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		test.Fatalf("expected wildcard origin header, got %q", got)
	}
}

func TestRouterEchoesConfiguredOrigin(test *testing.T) {
	test.Parallel()

	server, _ := newTestServer(test, &scriptedSource{})
	server.config.AllowedOrigins = []string{"http://app.example.com"}
	router := server.Router()

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("Origin", "http://app.example.com")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example.com" {
		test.Fatalf("expected configured origin header, got %q", got)
	}
}

func TestInvalidPayloadRejected(test *testing.T) {
	test.Parallel()

	server, _ := newTestServer(test, &scriptedSource{})
	router := server.Router()

	request := httptest.NewRequest(http.MethodPost, "/api/v1/rewards/daily", bytes.NewBufferString("not json"))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d body %s", recorder.Code, recorder.Body.String())
	}
}
