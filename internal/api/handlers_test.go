package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/lottery/internal/history"
	"github.com/eigerco/lottery/internal/program"
	"github.com/eigerco/lottery/internal/state"
	"github.com/eigerco/lottery/internal/testutils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockService struct {
	mock.Mock
}

func (m *mockService) View() state.View {
	return m.Called().Get(0).(state.View)
}

func (m *mockService) Subscribe() (<-chan struct{}, func()) {
	args := m.Called()
	return args.Get(0).(chan struct{}), args.Get(1).(func())
}

func (m *mockService) Sync(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockService) SetWallet(ctx context.Context, wallet *solana.PublicKey) error {
	return m.Called(ctx, wallet).Error(0)
}

func (m *mockService) InitializeMaster(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockService) CreateRound(ctx context.Context, entryFee uint64) error {
	return m.Called(ctx, entryFee).Error(0)
}

func (m *mockService) BuyTicket(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockService) PickWinner(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockService) ClaimPrize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func serve(t *testing.T, svc Service, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	NewRouter(svc).ServeHTTP(w, req)
	return w
}

func TestGetStateETag(t *testing.T) {
	svc := &mockService{}
	svc.On("View").Return(state.View{Phase: state.PhaseSynced, RoundID: 3, PotSOL: "1.5"})

	w := serve(t, svc, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)

	var v state.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, uint32(3), v.RoundID)
	assert.Equal(t, "1.5", v.PotSOL)

	w = serve(t, svc, http.MethodGet, "/api/state", "", "If-None-Match", tag)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestGetStateETagChangesWithState(t *testing.T) {
	svc := &mockService{}
	svc.On("View").Return(state.View{RoundID: 1}).Once()
	svc.On("View").Return(state.View{RoundID: 2}).Once()

	first := serve(t, svc, http.MethodGet, "/api/state", "").Header().Get("ETag")
	w := serve(t, svc, http.MethodGet, "/api/state", "", "If-None-Match", first)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, first, w.Header().Get("ETag"))
}

func TestGetHistory(t *testing.T) {
	svc := &mockService{}
	svc.On("View").Return(state.View{History: []history.Snapshot{{RoundID: 2, WinnerID: 3, Prize: 3, PrizeSOL: "0.000000003"}}})

	w := serve(t, svc, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []history.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, uint32(3), got[0].WinnerID)
	assert.Equal(t, "0.000000003", got[0].PrizeSOL)
}

func TestRequestID(t *testing.T) {
	svc := &mockService{}
	svc.On("View").Return(state.View{})

	w := serve(t, svc, http.MethodGet, "/api/history", "")
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)

	const given = "8f14e45f-ceea-467f-a0e6-3c7c3a1b2d4e"
	w = serve(t, svc, http.MethodGet, "/api/history", "", RequestIDHeader, given)
	assert.Equal(t, given, w.Header().Get(RequestIDHeader))

	w = serve(t, svc, http.MethodGet, "/api/history", "", RequestIDHeader, "not a uuid")
	assert.NotEqual(t, "not a uuid", w.Header().Get(RequestIDHeader))
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "ok", status: http.StatusOK},
		{name: "superseded", err: state.ErrSuperseded, status: http.StatusOK},
		{name: "transport", err: &program.TransportError{Op: "getAccountInfo", Err: errors.New("timeout")}, status: http.StatusBadGateway},
		{name: "inconsistent", err: program.Inconsistent("bad round"), status: http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockService{}
			svc.On("Sync", mock.Anything).Return(tc.err).Once()
			svc.On("View").Return(state.View{Phase: state.PhaseSyncing})

			w := serve(t, svc, http.MethodPost, "/api/refresh", "")
			assert.Equal(t, tc.status, w.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestSetWallet(t *testing.T) {
	key := testutils.RandomPublicKey(t)

	svc := &mockService{}
	svc.On("SetWallet", mock.Anything, &key).Return(nil).Once()
	svc.On("SetWallet", mock.Anything, (*solana.PublicKey)(nil)).Return(nil).Once()
	svc.On("View").Return(state.View{})

	w := serve(t, svc, http.MethodPut, "/api/wallet", `{"wallet":"`+key.String()+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, svc, http.MethodPut, "/api/wallet", `{"wallet":null}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, svc, http.MethodPut, "/api/wallet", `{"wallet":"0OIl"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertExpectations(t)
}

func TestCreateRound(t *testing.T) {
	svc := &mockService{}
	svc.On("CreateRound", mock.Anything, uint64(2_500_000_000)).Return(nil).Once()
	svc.On("View").Return(state.View{Success: "Created a Lottery"})

	w := serve(t, svc, http.MethodPost, "/api/rounds", `{"entryFee":2500000000}`)
	require.Equal(t, http.StatusOK, w.Code)

	var v state.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "Created a Lottery", v.Success)

	w = serve(t, svc, http.MethodPost, "/api/rounds", `{"entryFee":"lots"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertExpectations(t)
}

func TestActionErrors(t *testing.T) {
	tests := []struct {
		path   string
		method string
		err    error
		status int
	}{
		{path: "/api/master", method: "InitializeMaster", err: state.ErrMasterInitialized, status: http.StatusConflict},
		{path: "/api/tickets", method: "BuyTicket", err: state.ErrWalletNotConnected, status: http.StatusUnauthorized},
		{path: "/api/tickets", method: "BuyTicket", err: state.ErrRoundFinished, status: http.StatusConflict},
		{path: "/api/rounds/current/winner", method: "PickWinner", err: state.ErrNotRoundAuthority, status: http.StatusForbidden},
		{path: "/api/rounds/current/claim", method: "ClaimPrize", err: state.ErrNothingToClaim, status: http.StatusConflict},
		{path: "/api/rounds/current/claim", method: "ClaimPrize", err: state.ErrReadOnly, status: http.StatusNotImplemented},
		{path: "/api/master", method: "InitializeMaster", err: errors.New("signer rejected"), status: http.StatusInternalServerError},
		{path: "/api/rounds/current/winner", method: "PickWinner", err: nil, status: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+http.StatusText(tc.status), func(t *testing.T) {
			svc := &mockService{}
			svc.On(tc.method, mock.Anything).Return(tc.err).Once()
			svc.On("View").Return(state.View{RoundID: 4})

			w := serve(t, svc, http.MethodPost, tc.path, "")
			assert.Equal(t, tc.status, w.Code)
			if tc.err != nil {
				var resp errorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tc.err.Error(), resp.Error)
				assert.Equal(t, uint32(4), resp.State.RoundID)
				assert.NotEmpty(t, resp.RequestID)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestEvents(t *testing.T) {
	changes := make(chan struct{}, 1)
	svc := &mockService{}
	svc.On("Subscribe").Return(changes, func() {})
	svc.On("View").Return(state.View{RoundID: 1}).Once()
	svc.On("View").Return(state.View{RoundID: 2})

	srv := httptest.NewServer(NewRouter(svc))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	readData := func() state.View {
		for scanner.Scan() {
			line := scanner.Text()
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				var v state.View
				require.NoError(t, json.Unmarshal([]byte(data), &v))
				return v
			}
		}
		t.Fatalf("stream ended: %v", scanner.Err())
		return state.View{}
	}

	assert.Equal(t, uint32(1), readData().RoundID)
	changes <- struct{}{}
	assert.Equal(t, uint32(2), readData().RoundID)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&program.ValidationError{Field: "id", Reason: "zero"}))
	assert.Equal(t, http.StatusNotFound, statusFor(&program.NotFoundError{Kind: "round"}))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.DeadlineExceeded))
}
