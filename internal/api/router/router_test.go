package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/api/dto"
	"github.com/cuongbtq/gigmarket/internal/api/handler"
	"github.com/cuongbtq/gigmarket/internal/auth"
	"github.com/cuongbtq/gigmarket/internal/chain"
	"github.com/cuongbtq/gigmarket/internal/gateway"
	"github.com/cuongbtq/gigmarket/internal/gateway/indexer"
	"github.com/cuongbtq/gigmarket/internal/lifecycle"
	"github.com/cuongbtq/gigmarket/internal/lifecycle/lifecycletest"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	requester = "0x1111111111111111111111111111111111111111"
	worker    = "0x2222222222222222222222222222222222222222"
)

type fakeSigner struct {
	result domain.AttestationResult
	err    error
	got    domain.AttestationRequest
}

func (f *fakeSigner) Attest(_ context.Context, req domain.AttestationRequest) (domain.AttestationResult, error) {
	f.got = req
	return f.result, f.err
}

type fakeIndexer struct{}

func (fakeIndexer) Attestation(_ context.Context, id string) (*indexer.Attestation, error) {
	if id != "onchain_evm_10200_0x1" {
		return nil, indexer.ErrNotFound
	}
	return &indexer.Attestation{ID: id, SchemaID: "onchain_evm_10200_0x2a", Attester: requester}, nil
}

type fakeChain struct{}

func (fakeChain) JobCounter(context.Context) (*big.Int, error) { return big.NewInt(7), nil }

func (fakeChain) Job(_ context.Context, index *big.Int) (*chain.OnchainJob, error) {
	return &chain.OnchainJob{Index: index, Requester: requester, EscrowAmount: big.NewInt(5)}, nil
}

func (fakeChain) RegisterJobStatusSchema(context.Context) (string, error) { return "0x2a", nil }

type fakeSessions struct {
	sessions map[string]auth.Session
}

func (f *fakeSessions) Begin(_ context.Context, returnTo string) (string, error) {
	return "https://id.example/authorize?return=" + returnTo, nil
}

func (f *fakeSessions) Complete(_ context.Context, state, code string) (auth.Session, string, error) {
	if state != "good" {
		return auth.Session{}, "", auth.ErrInvalidState
	}
	s := auth.Session{ID: "sess-1", Subject: code, Role: auth.RoleAdmin}
	f.sessions[s.ID] = s
	return s, "/marketplace", nil
}

func (f *fakeSessions) Session(_ context.Context, id string) (auth.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return auth.Session{}, auth.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) Logout(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessions) SessionTTL() time.Duration { return time.Hour }

type testServer struct {
	engine   *gin.Engine
	store    *lifecycletest.MemoryStore
	verifier *lifecycletest.StubVerifier
	signer   *fakeSigner
}

func newTestServer(t *testing.T, mutate func(deps *handler.Dependencies)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		store:    lifecycletest.NewMemoryStore(),
		verifier: &lifecycletest.StubVerifier{},
		signer:   &fakeSigner{},
	}

	minimum, err := domain.MinimumEscrow("1", "1.01")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl, err := lifecycle.NewController(lifecycle.Config{
		Store:         ts.store,
		Verifier:      ts.verifier,
		Attester:      &lifecycletest.StubAttester{},
		Publisher:     &lifecycletest.Publisher{},
		MinimumEscrow: minimum,
		Logger:        logger,
	})
	require.NoError(t, err)

	deps := &handler.Dependencies{
		Logger:  logger,
		Jobs:    ctrl,
		Signer:  ts.signer,
		Indexer: fakeIndexer{},
		Chain:   fakeChain{},
	}
	if mutate != nil {
		mutate(deps)
	}

	ts.engine = SetupRouter(deps)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (ts *testServer) createJob(t *testing.T) dto.JobDTO {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/job", map[string]string{
		"requirements": "translate the readme to French",
		"escrowAmount": "2",
		"requester":    requester,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[dto.JobResponse](t, w).Job
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t)

	assert.Equal(t, "open", job.Status)
	assert.Equal(t, "2", job.EscrowAmount)
	assert.Equal(t, "2000000000000000000", job.EscrowAmountWei)
	assert.False(t, job.IsFulfilled)

	w := ts.do(t, http.MethodPost, "/job/"+job.ID+"/accept", map[string]string{"worker": worker})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, worker, decode[dto.JobResponse](t, w).Job.Worker)

	w = ts.do(t, http.MethodPost, "/job/"+job.ID+"/submit", map[string]string{"content": "bafy-translation"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[dto.JobResponse](t, w).Job.IsFulfilled)

	w = ts.do(t, http.MethodPost, "/job/"+job.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	verified := decode[struct {
		Job          dto.JobDTO                `json:"job"`
		Verification domain.VerificationResult `json:"verification"`
	}](t, w)
	assert.True(t, verified.Verification.IsValid)
	assert.Equal(t, "validated", verified.Job.Status)

	w = ts.do(t, http.MethodPost, "/job/"+job.ID+"/attest", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[dto.JobResponse](t, w).Job
	assert.Equal(t, "completed", done.Status)
	assert.True(t, done.IsApproved)
	assert.Equal(t, "att-"+job.ID, done.AttestationID)

	w = ts.do(t, http.MethodGet, "/job/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode[dto.JobDTO](t, w).Status)
}

func TestCreateJob_Errors(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"missing requirements", map[string]string{"escrowAmount": "2"}, http.StatusBadRequest},
		{"missing escrow", map[string]string{"requirements": "x"}, http.StatusBadRequest},
		{"below minimum", map[string]string{"requirements": "x", "escrowAmount": "0.5"}, http.StatusBadRequest},
		{"bad requester", map[string]string{"requirements": "x", "escrowAmount": "2", "requester": "bob"}, http.StatusBadRequest},
		{"bad chain id", map[string]string{"requirements": "x", "escrowAmount": "2", "chainJobId": "-1"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/job", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestGetJob_ByTransactionHash(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/job", map[string]string{
		"requirements":    "design a logo",
		"escrowAmountWei": "990099009900990100",
		"transactionHash": "0xfeed",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode[dto.JobResponse](t, w).Job

	w = ts.do(t, http.MethodGet, "/job/0xfeed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[dto.JobDTO](t, w).ID)

	w = ts.do(t, http.MethodGet, "/job/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOutOfOrderActionsConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t)

	w := ts.do(t, http.MethodPost, "/job/"+job.ID+"/attest", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/job/"+job.ID+"/submit", map[string]string{"content": "early"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/job/"+job.ID, nil)
	assert.Equal(t, "open", decode[dto.JobDTO](t, w).Status)
}

func TestUpdateJob(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t)

	w := ts.do(t, http.MethodPut, "/job", map[string]string{"id": job.ID, "status": "accepted", "worker": worker})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "accepted", decode[dto.JobResponse](t, w).Job.Status)

	w = ts.do(t, http.MethodPut, "/job", map[string]string{"id": job.ID, "status": "completed"})
	assert.Equal(t, http.StatusConflict, w.Code, "skipping steps is rejected")

	w = ts.do(t, http.MethodPut, "/job", map[string]string{"id": job.ID, "status": "open"})
	assert.Equal(t, http.StatusConflict, w.Code, "regressing is rejected")

	w = ts.do(t, http.MethodPut, "/job", map[string]string{"id": job.ID, "status": "done"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPut, "/job", map[string]string{"id": "nope", "status": "accepted", "worker": worker})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFailedVerificationStaysSubmitted(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t)

	ts.do(t, http.MethodPost, "/job/"+job.ID+"/accept", map[string]string{"worker": worker})
	ts.do(t, http.MethodPost, "/job/"+job.ID+"/submit", map[string]string{"content": "invalid draft"})

	w := ts.do(t, http.MethodPost, "/job/"+job.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"isValid":false`)
	assert.Contains(t, w.Body.String(), `"status":"submitted"`)
}

func TestVerifyGatewayFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t)

	ts.do(t, http.MethodPost, "/job/"+job.ID+"/accept", map[string]string{"worker": worker})
	ts.do(t, http.MethodPost, "/job/"+job.ID+"/submit", map[string]string{"content": "draft"})

	ts.verifier.Err = &gateway.Error{StatusCode: http.StatusServiceUnavailable, Body: "down"}
	w := ts.do(t, http.MethodPost, "/job/"+job.ID+"/verify", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t, nil)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, ts.createJob(t).ID)
		time.Sleep(time.Millisecond)
	}
	ts.do(t, http.MethodPost, "/job/"+ids[0]+"/accept", map[string]string{"worker": worker})

	w := ts.do(t, http.MethodGet, "/job", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[[]dto.JobDTO](t, w)
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID, "newest first")

	w = ts.do(t, http.MethodGet, "/job?status=accepted", nil)
	accepted := decode[[]dto.JobDTO](t, w)
	require.Len(t, accepted, 1)
	assert.Equal(t, ids[0], accepted[0].ID)

	w = ts.do(t, http.MethodGet, "/job?worker="+worker, nil)
	assert.Len(t, decode[[]dto.JobDTO](t, w), 1)

	w = ts.do(t, http.MethodGet, "/job?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Paginated walk
	var seen []string
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		path := "/api/v1/jobs?page_size=2"
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		w = ts.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		page := decode[dto.ListJobsResponse](t, w)
		assert.LessOrEqual(t, len(page.Jobs), 2)
		for _, j := range page.Jobs {
			seen = append(seen, j.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{ids[4], ids[3], ids[2], ids[1], ids[0]}, seen)

	w = ts.do(t, http.MethodGet, "/api/v1/jobs?cursor=%25%25", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/phala-ai-agent", map[string]any{
		"action": "createRequest",
		"data":   map[string]string{"requirements": "summarize the paper"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	requestID := decode[map[string]string](t, w)["requestId"]
	require.NotEmpty(t, requestID)

	job, err := ts.store.GetJob(context.Background(), requestID)
	require.NoError(t, err)
	assert.Equal(t, "990099009900990100", job.EscrowAmount.String(), "defaults to the minimum escrow")

	w = ts.do(t, http.MethodPost, "/phala-ai-agent", map[string]any{
		"action": "submitContent",
		"data":   map[string]string{"requestId": requestID, "content": "the summary", "worker": worker},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/phala-ai-agent", map[string]any{
		"action": "verifyContent",
		"data":   map[string]string{"requestId": requestID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[domain.VerificationResult](t, w)
	assert.True(t, result.IsValid)

	w = ts.do(t, http.MethodPost, "/phala-ai-agent", map[string]any{"action": "dance"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/phala-ai-agent", map[string]any{"action": "verifyContent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSign(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.signer.result = domain.AttestationResult{Success: true, Attestation: &domain.AttestationRef{AttestationID: "0xabc"}}

	w := ts.do(t, http.MethodPost, "/phala-viem-sign", map[string]string{"jobCid": "job-1", "status": "completed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"attestationId":"0xabc"`)
	assert.Equal(t, "job-1", ts.signer.got.JobCID)

	w = ts.do(t, http.MethodPost, "/phala-viem-sign", map[string]string{"jobCid": "job-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.signer.err = &gateway.Error{StatusCode: http.StatusUnauthorized, Body: "bad key"}
	w = ts.do(t, http.MethodPost, "/phala-viem-sign", map[string]string{"jobCid": "job-1", "status": "completed"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "bad key")
}

func TestAttestationInfo(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/attestation-info?attestationId=onchain_evm_10200_0x1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "onchain_evm_10200_0x2a")

	w = ts.do(t, http.MethodGet, "/attestation-info?attestationId=other", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/attestation-info", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChainRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/chain/job-counter", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jobCounter":"7"}`, w.Body.String())

	w = ts.do(t, http.MethodGet, "/chain/jobs/3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"index":3`)

	w = ts.do(t, http.MethodGet, "/chain/jobs/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/schema", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"schemaId":"0x2a"}`, w.Body.String())

	disabled := newTestServer(t, func(deps *handler.Dependencies) { deps.Chain = nil })
	w = disabled.do(t, http.MethodGet, "/chain/job-counter", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuthGuard(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]auth.Session{}}
	ts := newTestServer(t, func(deps *handler.Dependencies) {
		deps.Auth = sessions
		deps.CookieName = "sid"
	})

	w := ts.do(t, http.MethodPost, "/job", map[string]string{"requirements": "x", "escrowAmount": "2"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/job", nil)
	assert.Equal(t, http.StatusOK, w.Code, "reads stay public")

	w = ts.do(t, http.MethodGet, "/auth/login?returnTo=/marketplace", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "https://id.example/authorize")

	w = ts.do(t, http.MethodGet, "/auth/callback?state=forged&code=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/auth/callback?state=good&code=0xuser", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/marketplace", w.Header().Get("Location"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	w = ts.do(t, http.MethodGet, "/auth/session", nil, cookies[0])
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sub":"0xuser"`)

	w = ts.do(t, http.MethodPost, "/job", map[string]string{"requirements": "x", "escrowAmount": "2"}, cookies[0])
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/auth/logout", nil, cookies[0])
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/auth/session", nil, cookies[0])
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	ts := newTestServer(t, func(deps *handler.Dependencies) {
		deps.AllowedOrigins = []string{"http://localhost:3000/"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/job", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	w = httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMinimumEscrow(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/job/minimum-escrow", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "990099009900990100", body["escrowAmountWei"])

	unbounded := newTestServer(t, func(deps *handler.Dependencies) {
		ctrl, err := lifecycle.NewController(lifecycle.Config{
			Store:    lifecycletest.NewMemoryStore(),
			Verifier: &lifecycletest.StubVerifier{},
			Attester: &lifecycletest.StubAttester{},
		})
		require.NoError(t, err)
		deps.Jobs = ctrl
	})
	w = unbounded.do(t, http.MethodGet, "/job/minimum-escrow", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode[map[string]string](t, w)
	assert.Equal(t, "0", body["escrowAmountWei"])
	assert.Equal(t, "0", body["escrowAmount"])
}
