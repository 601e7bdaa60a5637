package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"quantengine/instrument"
	"quantengine/portfolio"
	"quantengine/strategy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, string, string) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	totpKey, err := totp.Generate(totp.GenerateOpts{Issuer: "quantengine", AccountName: "admin"})
	require.NoError(t, err)

	cfg := Config{
		TokenHash:  string(hash),
		JWTSecret:  []byte("test-signing-key"),
		TokenTTL:   time.Minute,
		TOTPSecret: totpKey.Secret(),
	}

	mgr := portfolio.NewManager(portfolio.DefaultConfig(), instrument.New(), nil)
	strat := strategy.NewMeanReversion("mr1", strategy.DefaultMeanReversionConfig(), 1000)
	require.NoError(t, strat.Init())
	require.NoError(t, strat.Start())
	require.NoError(t, mgr.AddStrategy(portfolio.Registration{Strategy: strat, Weight: 0.5, Symbols: []string{"ES"}}))

	s := New(cfg, mgr, nil)

	code, err := totp.GenerateCode(totpKey.Secret(), time.Now())
	require.NoError(t, err)

	return s, "s3cret", code
}

func login(t *testing.T, r *gin.Engine, token string) string {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Token: token})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func TestLoginRejectsWrongToken(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := s.Router()

	body, _ := json.Marshal(loginRequest{Token: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatusRequiresBearerToken(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatusAndListStrategiesWithValidToken(t *testing.T) {
	s, token, _ := newTestServer(t)
	r := s.Router()
	access := login(t, r, token)

	req := httptest.NewRequest(http.MethodGet, "/strategies", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Strategies []map[string]interface{} `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Strategies, 1)
	require.Equal(t, "mr1", resp.Strategies[0]["id"])
	require.Equal(t, "Running", resp.Strategies[0]["state"])
}

func TestFlattenAllRequiresTOTPCode(t *testing.T) {
	s, token, _ := newTestServer(t)
	r := s.Router()
	access := login(t, r, token)

	req := httptest.NewRequest(http.MethodPost, "/flatten-all", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFlattenAllSucceedsWithValidTOTPCode(t *testing.T) {
	s, token, code := newTestServer(t)
	r := s.Router()
	access := login(t, r, token)

	req := httptest.NewRequest(http.MethodPost, "/flatten-all", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("X-TOTP-Code", code)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpointRequiresNoAuth(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "quantengine_")
}

func TestPauseUnknownStrategyReturnsNotFound(t *testing.T) {
	s, token, _ := newTestServer(t)
	r := s.Router()
	access := login(t, r, token)

	req := httptest.NewRequest(http.MethodPost, "/strategies/unknown/pause", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
