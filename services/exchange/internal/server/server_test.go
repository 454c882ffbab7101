package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	gormlogger "gorm.io/gorm/logger"
	"livre2main/internal/ratelimit"
	"livre2main/internal/usertoken"
	"livre2main/pkg/domain"
	"livre2main/pkg/store"
	"livre2main/services/exchange/internal/app"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	srv   *httptest.Server
	store *store.GormStore
}

// newTestServer builds a server on in-memory sqlite and miniredis.
// Options run on the config before the server is built.
func newTestServer(t *testing.T, proposalLimit int, opts ...func(*Config, *redis.Client)) *testServer {
	t.Helper()
	st, err := store.NewGormStore(":memory:", store.WithDriver(store.DriverSQLite), store.WithLogLevel(gormlogger.Silent))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	application, err := app.New(app.Config{
		Store:         st,
		PaymentTokens: store.NewRedisPaymentTokenStore(client),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if err := application.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	cfg := Config{App: application, TokenVerifier: verifier}
	if proposalLimit > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(client, "test:proposals", proposalLimit, time.Minute)
		if err != nil {
			t.Fatalf("new limiter: %v", err)
		}
		cfg.ProposalLimiter = limiter
	}
	for _, opt := range opts {
		opt(&cfg, client)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	ts := &testServer{srv: srv, store: st}
	return ts
}

func (ts *testServer) seedUser(t *testing.T, id string, role domain.UserRole) {
	t.Helper()
	err := ts.store.SaveUser(context.Background(), domain.User{
		ID:           id,
		Name:         id,
		Surname:      "Lecteur",
		Email:        id + "@example.com",
		PasswordHash: "hash",
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func tokenFor(t *testing.T, email string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   email,
		Issuer:    "livre2main-auth",
		Audience:  jwt.ClaimStrings{"livre2main-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// do sends a request as userID ("" for anonymous) and decodes the JSON response into out when non-nil.
func (ts *testServer) do(t *testing.T, method, path, userID string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID+"@example.com"))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, 0)
	var body map[string]string
	if status := ts.do(t, http.MethodGet, "/healthz", "", nil, &body); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t, 0)
	var errBody errorResponse
	if status := ts.do(t, http.MethodGet, "/emprunts/conversation-limit", "", nil, &errBody); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if errBody.Code != "AUTH_INVALID_TOKEN" || errBody.RequestID == "" {
		t.Fatalf("unexpected error body: %+v", errBody)
	}
	if status := ts.do(t, http.MethodGet, "/emprunts/conversation-limit", "ghost", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", status)
	}
}

func TestProposeAndAcceptOverHTTP(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seedUser(t, "alice", domain.RoleFree)
	ts.seedUser(t, "bob", domain.RoleFree)

	var receipt app.ProposalReceipt
	status := ts.do(t, http.MethodPost, "/emprunts/propose-exchange", "alice",
		map[string]string{"target_user_id": "bob", "book_title": "Dune"}, &receipt)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if receipt.MessageID == "" || receipt.ProposalID == "" || receipt.TargetUser != "bob Lecteur" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	var errBody errorResponse
	status = ts.do(t, http.MethodPost, "/messages/proposal/"+receipt.MessageID+"/respond", "alice",
		map[string]string{"response": "accept"}, &errBody)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for the proposer, got %d", status)
	}

	var res app.RespondResult
	status = ts.do(t, http.MethodPost, "/messages/proposal/"+receipt.MessageID+"/respond", "bob",
		map[string]string{"response": "accept"}, &res)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if res.Response != app.DecisionAccept || res.EmpruntID == "" {
		t.Fatalf("unexpected respond result: %+v", res)
	}

	status = ts.do(t, http.MethodPost, "/messages/proposal/"+receipt.MessageID+"/respond", "bob",
		map[string]string{"response": "reject"}, &errBody)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 on second response, got %d", status)
	}
	if errBody.Error == "" || errBody.Code != "EXCHANGE_CONFLICT" {
		t.Fatalf("unexpected conflict body: %+v", errBody)
	}

	var limit app.ConversationLimit
	if status := ts.do(t, http.MethodGet, "/emprunts/conversation-limit", "alice", nil, &limit); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if limit.ActiveConversations != 1 || limit.CanCreateNewConversation || limit.Limit == nil || *limit.Limit != 1 {
		t.Fatalf("unexpected limit: %+v", limit)
	}

	var loan domain.Emprunt
	if status := ts.do(t, http.MethodGet, "/emprunts/"+res.EmpruntID, "bob", nil, &loan); status != http.StatusOK {
		t.Fatalf("expected 200 for loan, got %d", status)
	}
	if loan.UserID1 != "alice" || loan.UserID2 != "bob" {
		t.Fatalf("unexpected loan: %+v", loan)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seedUser(t, "alice", domain.RoleFree)
	ts.seedUser(t, "bob", domain.RoleFree)
	ts.seedUser(t, "carol", domain.RoleFree)
	if err := ts.store.SaveBook(context.Background(), domain.Book{ID: "k-1", Title: "Dune", Author: "Frank Herbert"}); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"self proposal", http.MethodPost, "/emprunts/propose-exchange", map[string]string{"target_user_id": "alice"}, http.StatusConflict},
		{"unknown target", http.MethodPost, "/emprunts/propose-exchange", map[string]string{"target_user_id": "ghost"}, http.StatusNotFound},
		{"missing target", http.MethodPost, "/emprunts/propose-exchange", map[string]string{}, http.StatusBadRequest},
		{"book proposal without title", http.MethodPost, "/emprunts/propose-book-exchange", map[string]string{"target_user_id": "bob"}, http.StatusBadRequest},
		{"invalid decision", http.MethodPost, "/messages/proposal/m-1/respond", map[string]string{"response": "maybe"}, http.StatusBadRequest},
		{"unknown message", http.MethodPost, "/messages/proposal/m-1/respond", map[string]string{"response": "accept"}, http.StatusNotFound},
		{"self loan", http.MethodPost, "/emprunts", map[string]string{"id_user1": "alice", "id_user2": "alice", "id_livre": "k-1"}, http.StatusBadRequest},
		{"foreign loan", http.MethodPost, "/emprunts", map[string]string{"id_user1": "bob", "id_user2": "carol", "id_livre": "k-1"}, http.StatusForbidden},
		{"list other user loans", http.MethodGet, "/emprunts/user/bob", nil, http.StatusForbidden},
		{"wrong method", http.MethodGet, "/emprunts/propose-exchange", nil, http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/messages/whatever/else/here", nil, http.StatusNotFound},
		{"upgrade without token", http.MethodPost, "/users/upgrade-premium", map[string]string{}, http.StatusBadRequest},
		{"upgrade with bad token", http.MethodPost, "/users/upgrade-premium", map[string]string{"payment_token": "nope"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var errBody errorResponse
			status := ts.do(t, tc.method, tc.path, "alice", tc.body, &errBody)
			if status != tc.want {
				t.Fatalf("expected %d, got %d (%+v)", tc.want, status, errBody)
			}
			if errBody.Error == "" || errBody.Code == "" {
				t.Fatalf("expected error body, got %+v", errBody)
			}
		})
	}
}

func TestQuotaAndInvalidStateOverHTTP(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seedUser(t, "alice", domain.RoleFree)
	ts.seedUser(t, "bob", domain.RoleFree)
	ts.seedUser(t, "carol", domain.RoleFree)
	if err := ts.store.SaveBook(context.Background(), domain.Book{ID: "k-1", Title: "Dune", Author: "Frank Herbert"}); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	var loan domain.Emprunt
	status := ts.do(t, http.MethodPost, "/emprunts", "alice",
		map[string]string{"id_user1": "alice", "id_user2": "bob", "id_livre": "k-1"}, &loan)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}

	var errBody errorResponse
	status = ts.do(t, http.MethodPost, "/emprunts", "alice",
		map[string]string{"id_user1": "alice", "id_user2": "carol", "id_livre": "k-1"}, &errBody)
	if status != http.StatusPaymentRequired || errBody.Code != "EXCHANGE_QUOTA_EXCEEDED" {
		t.Fatalf("expected 402 quota error, got %d %+v", status, errBody)
	}

	var msg domain.Message
	status = ts.do(t, http.MethodPost, "/messages", "alice",
		map[string]string{"id_emprunt": loan.ID, "message_text": "Bonjour"}, &msg)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 for message, got %d", status)
	}
	status = ts.do(t, http.MethodPost, "/messages/proposal/"+msg.ID+"/respond", "bob",
		map[string]string{"response": "accept"}, &errBody)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a plain message, got %d", status)
	}

	var unread map[string]int
	if status := ts.do(t, http.MethodGet, "/messages/unread/count", "bob", nil, &unread); status != http.StatusOK || unread["unread_count"] != 1 {
		t.Fatalf("unexpected unread count: %d %v", status, unread)
	}
	if status := ts.do(t, http.MethodPut, "/messages/"+msg.ID+"/read", "alice", nil, &errBody); status != http.StatusBadRequest {
		t.Fatalf("expected 400 marking own message, got %d", status)
	}
	var read domain.Message
	if status := ts.do(t, http.MethodPut, "/messages/"+msg.ID+"/read", "bob", nil, &read); status != http.StatusOK || !read.IsRead {
		t.Fatalf("expected message marked read, got %d %+v", status, read)
	}

	var thread []domain.MessageWithSender
	if status := ts.do(t, http.MethodGet, "/messages/emprunt/"+loan.ID, "bob", nil, &thread); status != http.StatusOK || len(thread) != 1 {
		t.Fatalf("unexpected thread: %d %+v", status, thread)
	}
	var conversations []domain.ConversationSummary
	if status := ts.do(t, http.MethodGet, "/messages/conversations", "bob", nil, &conversations); status != http.StatusOK || len(conversations) != 1 {
		t.Fatalf("unexpected conversations: %d %+v", status, conversations)
	}
	if conversations[0].LastMessage != "Bonjour" {
		t.Fatalf("unexpected summary: %+v", conversations[0])
	}

	var list struct {
		Items []domain.Emprunt `json:"items"`
		Count int              `json:"count"`
	}
	if status := ts.do(t, http.MethodGet, "/emprunts/emprunteur/alice", "alice", nil, &list); status != http.StatusOK || list.Count != 1 {
		t.Fatalf("unexpected borrower list: %d %+v", status, list)
	}
	if status := ts.do(t, http.MethodGet, "/emprunts/emprunter/alice", "alice", nil, &list); status != http.StatusOK || list.Count != 0 {
		t.Fatalf("unexpected lender list: %d %+v", status, list)
	}
}

func TestProposalRateLimit(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.seedUser(t, "alice", domain.RoleFree)
	ts.seedUser(t, "bob", domain.RoleFree)

	body := map[string]string{"target_user_id": "bob"}
	if status := ts.do(t, http.MethodPost, "/emprunts/propose-exchange", "alice", body, nil); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	var errBody errorResponse
	if status := ts.do(t, http.MethodPost, "/emprunts/propose-exchange", "alice", body, &errBody); status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if errBody.Code != "EXCHANGE_RATE_LIMITED" {
		t.Fatalf("unexpected code: %+v", errBody)
	}
}

func TestAuthFailuresThrottledPerClientIP(t *testing.T) {
	ts := newTestServer(t, 0, func(cfg *Config, client *redis.Client) {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(client, "test:auth-failures", 2, time.Minute)
		if err != nil {
			t.Fatalf("new limiter: %v", err)
		}
		cfg.AuthFailureLimiter = limiter
	})
	ts.seedUser(t, "alice", domain.RoleFree)

	for i := 0; i < 2; i++ {
		if status := ts.do(t, http.MethodGet, "/messages/conversations", "ghost", nil, nil); status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, status)
		}
	}
	var errBody errorResponse
	if status := ts.do(t, http.MethodGet, "/messages/conversations", "", nil, &errBody); status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once over budget, got %d", status)
	}
	if errBody.Code != "EXCHANGE_RATE_LIMITED" {
		t.Fatalf("unexpected code: %+v", errBody)
	}
	// Valid credentials are never counted or blocked.
	if status := ts.do(t, http.MethodGet, "/messages/conversations", "alice", nil, nil); status != http.StatusOK {
		t.Fatalf("expected 200 for a valid token, got %d", status)
	}
}

func TestBookProposalByPersonalBookID(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seedUser(t, "alice", domain.RoleFree)
	ts.seedUser(t, "bob", domain.RoleFree)
	if err := ts.store.SavePersonalBook(context.Background(), domain.PersonalBook{ID: "pb-bob", UserID: "bob", Title: "Fondation"}); err != nil {
		t.Fatalf("seed personal book: %v", err)
	}

	var receipt app.ProposalReceipt
	status := ts.do(t, http.MethodPost, "/emprunts/propose-book-exchange", "alice",
		map[string]string{"target_user_id": "bob", "book_id": "pb-bob"}, &receipt)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	p, ok, err := ts.store.GetProposal(context.Background(), receipt.ProposalID)
	if err != nil || !ok {
		t.Fatalf("load proposal: ok=%v err=%v", ok, err)
	}
	if p.Kind != domain.KindBookProposal || p.BookTitle != "Fondation" {
		t.Fatalf("unexpected proposal: %+v", p)
	}
}

func TestPremiumUpgradeOverHTTP(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seedUser(t, "alice", domain.RoleFree)

	var token app.PaymentToken
	if status := ts.do(t, http.MethodPost, "/users/payment-token", "alice", nil, &token); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if token.Token == "" {
		t.Fatalf("expected payment token")
	}
	var user domain.User
	status := ts.do(t, http.MethodPost, "/users/upgrade-premium", "alice", map[string]string{"payment_token": token.Token}, &user)
	if status != http.StatusOK || user.Role != domain.RolePremium {
		t.Fatalf("expected premium user, got %d %+v", status, user)
	}
	if status := ts.do(t, http.MethodPost, "/users/payment-token", "alice", nil, nil); status != http.StatusConflict {
		t.Fatalf("expected 409 for premium user, got %d", status)
	}
}

func TestWriteAppErrorHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/emprunts/x", nil)
	writeAppError(rec, req, errors.New("pq: connection refused"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "internal error" || body.Code != "SYSTEM_INTERNAL_ERROR" {
		t.Fatalf("unexpected body: %+v", body)
	}
}
