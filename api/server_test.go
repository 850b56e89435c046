package api_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/terrahash/landregistry/api"
	"github.com/terrahash/landregistry/internal/config"
	"github.com/terrahash/landregistry/internal/identities"
	"github.com/terrahash/landregistry/internal/listings"
	"github.com/terrahash/landregistry/internal/objections"
	"github.com/terrahash/landregistry/internal/parcels"
	"github.com/terrahash/landregistry/internal/transactions"
	"github.com/terrahash/landregistry/pkg/models"
	"github.com/terrahash/landregistry/pkg/validation"
	"github.com/terrahash/landregistry/testutil"
)

var rootWallet = testutil.Wallet(0xaa)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Count   *int            `json:"count"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Kind  string `json:"kind"`
			Field string `json:"field"`
		} `json:"details"`
	} `json:"error"`
}

type testServer struct {
	router   *gin.Engine
	db       *gorm.DB
	sessions *identities.Sessions
	uploader *testutil.FakeUploader
}

func setupServer(t *testing.T, rateLimit string) *testServer {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	db := testutil.NewDB(t)
	v := validation.NewValidator(log)
	ledger := testutil.NewFakeLedger()

	sessions := identities.NewSessions(config.SessionConfig{Secret: "test-secret", MaxAge: time.Hour}, nil)
	ids := identities.NewService(db, sessions, config.RootConfig{AdminWallets: []string{rootWallet}}, log)
	uploader := &testutil.FakeUploader{}

	srv, err := api.NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080, RateLimit: rateLimit}, "", api.Services{
		DB:           db,
		Identities:   ids,
		Parcels:      parcels.NewService(db, parcels.Deps{}, log),
		Listings:     listings.NewService(db, listings.Deps{}, v, log),
		Transactions: transactions.NewService(db, transactions.Deps{Ledger: ledger}, log),
		Objections:   objections.NewService(db, objections.Deps{}, v, log),
		Uploader:     uploader,
		Validator:    v,
	}, log)
	require.NoError(t, err)
	return &testServer{router: srv.Router(), db: db, sessions: sessions, uploader: uploader}
}

func (s *testServer) token(t *testing.T, u *models.User) string {
	token, _, err := s.sessions.Issue(u)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestHealthCheck(t *testing.T) {
	s := setupServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "disabled", resp["checks"].(map[string]any)["ledger"])
}

func TestRegisterSetsSessionCookie(t *testing.T) {
	s := setupServer(t, "")
	w, env := s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"wallet_address": "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01",
		"full_name":      "Wanjiru Kamau",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, env.Success)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "terrahash-session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	me := httptest.NewRecorder()
	s.router.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), "0xabcdef0123456789abcdef0123456789abcdef01")

	_, env = s.do(t, http.MethodGet, "/api/auth/check-wallet?address=0xabcdef0123456789abcdef0123456789abcdef01", "", nil)
	assert.Contains(t, string(env.Data), `"exists":true`)
}

func TestMeRequiresSession(t *testing.T) {
	s := setupServer(t, "")
	w, env := s.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_AUTHENTICATED", env.Error.Code)

	w, env = s.do(t, http.MethodGet, "/api/auth/session", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session":null}`, string(env.Data))
}

func TestLogoutClearsCookie(t *testing.T) {
	s := setupServer(t, "")
	user := testutil.CreateUser(t, s.db, models.UserPublic, testutil.Wallet(1))
	w, env := s.do(t, http.MethodPost, "/api/auth/logout", s.token(t, user), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Logged out successfully", env.Message)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestParcelRoutesRequireGov(t *testing.T) {
	s := setupServer(t, "")
	citizen := testutil.CreateUser(t, s.db, models.UserPublic, testutil.Wallet(1))
	gov := testutil.CreateUser(t, s.db, models.UserGov, testutil.Wallet(2))
	req := gin.H{
		"parcel_id":        "NBI-001",
		"geometry_geojson": testutil.Square(36.80, -1.28, 0.001),
		"admin_region":     gin.H{"country": "Kenya", "state": "Nairobi", "city": "Kilimani"},
		"status":           "UNCLAIMED",
	}

	w, env := s.do(t, http.MethodPost, "/api/parcels", "", req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/parcels", s.token(t, citizen), req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	w, env = s.do(t, http.MethodPost, "/api/parcels", s.token(t, gov), req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, env = s.do(t, http.MethodPost, "/api/parcels", s.token(t, gov), req)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/parcels", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Count)
	assert.Equal(t, 1, *env.Count)

	w, _ = s.do(t, http.MethodGet, "/api/parcels/NBI-001", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, env = s.do(t, http.MethodGet, "/api/parcels/NBI-404", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	w, _ = s.do(t, http.MethodDelete, "/api/parcels/NBI-001", s.token(t, gov), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPurchaseOverHTTP(t *testing.T) {
	s := setupServer(t, "")
	seller := testutil.CreateUser(t, s.db, models.UserPublic, testutil.Wallet(0x5e11))
	buyer := testutil.CreateUser(t, s.db, models.UserPublic, testutil.Wallet(0xb0b))
	gov := testutil.CreateUser(t, s.db, models.UserGov, testutil.Wallet(2))
	parcel := testutil.CreateParcel(t, s.db, "NBI-7", seller, 36.70, -1.30)
	listing := testutil.CreateListing(t, s.db, parcel, models.ListingSale, 250000)

	w, env := s.do(t, http.MethodPost, "/api/transactions/purchase", s.token(t, gov), gin.H{"listing_id": listing.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/transactions/purchase", s.token(t, buyer), gin.H{"listing_id": listing.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Purchase completed successfully", env.Message)

	var resp models.TransactionResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, models.TransactionCompleted, resp.Transaction.Status)
	assert.Equal(t, seller.WalletAddress, resp.Listing.SellerWallet)

	w, env = s.do(t, http.MethodGet, "/api/transactions", s.token(t, buyer), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, *env.Count)

	w, env = s.do(t, http.MethodGet, "/api/transactions/gov", s.token(t, gov), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, *env.Count)

	w, _ = s.do(t, http.MethodPost, "/api/transactions/purchase", s.token(t, buyer), gin.H{"listing_id": listing.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestObjectionRoutes(t *testing.T) {
	s := setupServer(t, "")
	citizen := testutil.CreateUser(t, s.db, models.UserPublic, testutil.Wallet(1))
	gov := testutil.CreateUser(t, s.db, models.UserGov, testutil.Wallet(2))
	testutil.CreateParcel(t, s.db, "NBI-9", nil, 36.70, -1.30)

	w, env := s.do(t, http.MethodPost, "/api/objections", s.token(t, citizen), gin.H{
		"parcel_id": "NBI-9",
		"message":   "This parcel overlaps the community borehole.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		Objection models.Objection `json:"objection"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))

	w, env = s.do(t, http.MethodPut, "/api/objections/"+body.Objection.ID+"/status", s.token(t, gov), gin.H{"status": "NOPE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPut, "/api/objections/"+body.Objection.ID+"/status", s.token(t, gov), gin.H{"status": "REVIEWED"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/objections/gov", s.token(t, gov), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, *env.Count)
}

func TestWhitelistIsRootOnly(t *testing.T) {
	s := setupServer(t, "")
	gov := testutil.CreateUser(t, s.db, models.UserGov, testutil.Wallet(2))
	root := &models.User{ID: models.RootUserID, Type: models.UserRoot, WalletAddress: rootWallet}

	w, _ := s.do(t, http.MethodGet, "/api/wallet/whitelists", s.token(t, gov), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/wallet/whitelists", s.token(t, root), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, *env.Count)

	w, _ = s.do(t, http.MethodPatch, "/api/wallet/whitelists?user_id="+gov.ID, s.token(t, root), gin.H{"status": "REVOKED"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpload(t *testing.T) {
	s := setupServer(t, "")
	user := testutil.CreateUser(t, s.db, models.UserPublic, testutil.Wallet(1))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "deed.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("not really a png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token(t, user))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "hedera-parcels/deed.png")

	empty := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(nil))
	empty.Header.Set("Authorization", "Bearer "+s.token(t, user))
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, empty)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "NO_FILE")
}

func TestAuthRateLimit(t *testing.T) {
	s := setupServer(t, "2-M")
	for i := 0; i < 2; i++ {
		w, _ := s.do(t, http.MethodGet, "/api/auth/session", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, env := s.do(t, http.MethodGet, "/api/auth/session", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)

	// reads outside /api/auth are not throttled
	w, _ = s.do(t, http.MethodGet, "/api/public-lists", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestValidation(t *testing.T) {
	s := setupServer(t, "")
	gov := testutil.CreateUser(t, s.db, models.UserGov, testutil.Wallet(2))

	w, env := s.do(t, http.MethodPost, "/api/parcels", s.token(t, gov), gin.H{
		"parcel_id":        "NBI-002",
		"geometry_geojson": testutil.Square(36.80, -1.28, 0.001),
		"status":           "SOLD",
		"asset_url":        []string{"not a url"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	fields := map[string]string{}
	for _, d := range env.Error.Details {
		fields[d.Field] = d.Kind
	}
	assert.Equal(t, "required", fields["admin_region"])
	assert.Equal(t, "parcel_status", fields["status"])
	assert.Equal(t, "url", fields["asset_url[0]"])

	w, env = s.do(t, http.MethodGet, "/api/public-lists?status=sold", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotEmpty(t, env.Error.Details)
	assert.Equal(t, "status", env.Error.Details[0].Field)

	w, _ = s.do(t, http.MethodGet, "/api/public-lists?status=owned&listing_type=sale", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, http.MethodPut, "/api/transactions/"+uuid.NewString()+"/complete", s.token(t, gov), gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotEmpty(t, env.Error.Details)
	assert.Equal(t, "transaction_hash", env.Error.Details[0].Field)
}
