package identities_test

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/terrahash/landregistry/internal/config"
	"github.com/terrahash/landregistry/internal/identities"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/models"
	"github.com/terrahash/landregistry/testutil"
)

const rootWallet = "0x00000000000000000000000000000000000000aa"

// memoryStore is a SessionStore kept in a map
type memoryStore struct {
	revoked map[string]time.Time
}

func (m *memoryStore) Revoke(_ context.Context, jti string, until time.Time) error {
	m.revoked[jti] = until
	return nil
}

func (m *memoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	_, ok := m.revoked[jti]
	return ok, nil
}

func setupService(t *testing.T, totpSecret string) (*identities.Service, *gorm.DB) {
	db := testutil.NewDB(t)
	sessions := identities.NewSessions(config.SessionConfig{Secret: "test-secret"}, &memoryStore{revoked: map[string]time.Time{}})
	svc := identities.NewService(db, sessions, config.RootConfig{
		AdminWallets: []string{rootWallet},
		TOTPSecret:   totpSecret,
	}, zap.NewNop())
	return svc, db
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := setupService(t, "")
	ctx := context.Background()

	wallet := "0xABCDEFabcdefABCDEFabcdefABCDEFabcdefABCD"
	auth, err := svc.Register(ctx, &models.RegisterRequest{WalletAddress: wallet, FullName: "Wanjiru Kamau"})
	require.NoError(t, err)
	assert.Equal(t, models.UserPublic, auth.User.Type)
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", auth.User.WalletAddress)
	assert.NotEmpty(t, auth.Token)

	_, err = svc.Register(ctx, &models.RegisterRequest{WalletAddress: wallet})
	assert.ErrorIs(t, err, identities.ErrWalletRegistered)
	assert.Equal(t, 409, errors.HTTPStatus(err))

	login, err := svc.Login(ctx, &models.LoginRequest{WalletAddress: wallet})
	require.NoError(t, err)
	assert.Equal(t, auth.User.ID, login.User.ID)

	claims, err := svc.Authenticate(ctx, login.Token)
	require.NoError(t, err)
	me, err := svc.Me(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, auth.User.ID, me.ID)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := setupService(t, "")
	ctx := context.Background()

	_, err := svc.Register(ctx, &models.RegisterRequest{})
	assert.ErrorIs(t, err, identities.ErrWalletRequired)

	_, err = svc.Register(ctx, &models.RegisterRequest{WalletAddress: "0x1234"})
	assert.ErrorIs(t, err, identities.ErrInvalidWallet)

	_, err = svc.Register(ctx, &models.RegisterRequest{WalletAddress: testutil.Wallet(1), FullName: "J"})
	assert.ErrorIs(t, err, identities.ErrInvalidFullName)
}

func TestLoginUnknownWallet(t *testing.T) {
	svc, _ := setupService(t, "")
	_, err := svc.Login(context.Background(), &models.LoginRequest{WalletAddress: testutil.Wallet(9)})
	assert.ErrorIs(t, err, identities.ErrWalletNotRegistered)
	assert.Equal(t, 404, errors.HTTPStatus(err))
}

func TestGovLoginRequiresActiveWhitelist(t *testing.T) {
	svc, db := setupService(t, "")
	ctx := context.Background()
	gov := testutil.CreateUser(t, db, models.UserGov, testutil.Wallet(2))

	_, err := svc.Login(ctx, &models.LoginRequest{WalletAddress: gov.WalletAddress})
	require.NoError(t, err)

	_, err = svc.SetWhitelistStatus(ctx, nil, &models.UpdateWhitelistRequest{UserID: gov.ID, Status: models.WhitelistRevoked})
	require.NoError(t, err)

	_, err = svc.Login(ctx, &models.LoginRequest{WalletAddress: gov.WalletAddress})
	assert.ErrorIs(t, err, identities.ErrGovAccessRevoked)
	assert.Equal(t, 403, errors.HTTPStatus(err))
}

func TestCheckWallet(t *testing.T) {
	svc, db := setupService(t, "")
	ctx := context.Background()
	user := testutil.CreateUser(t, db, models.UserPublic, testutil.Wallet(3))

	res, err := svc.CheckWallet(ctx, user.WalletAddress)
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, user.ID, res.User.ID)

	res, err = svc.CheckWallet(ctx, testutil.Wallet(4))
	require.NoError(t, err)
	assert.False(t, res.Exists)
	assert.Nil(t, res.User)

	res, err = svc.CheckWallet(ctx, "0x00000000000000000000000000000000000000AA")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.True(t, res.User.IsRoot())

	_, err = svc.CheckWallet(ctx, "")
	assert.ErrorIs(t, err, identities.ErrWalletRequired)
}

func TestRootLoginWithTOTP(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "terrahash", AccountName: "root"})
	require.NoError(t, err)
	svc, _ := setupService(t, key.Secret())
	ctx := context.Background()

	_, err = svc.Login(ctx, &models.LoginRequest{WalletAddress: rootWallet})
	assert.ErrorIs(t, err, identities.ErrTOTPRequired)

	_, err = svc.Login(ctx, &models.LoginRequest{WalletAddress: rootWallet, TOTPCode: "000000x"})
	assert.ErrorIs(t, err, identities.ErrInvalidTOTP)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)
	auth, err := svc.Login(ctx, &models.LoginRequest{WalletAddress: rootWallet, TOTPCode: code})
	require.NoError(t, err)
	assert.True(t, auth.User.IsRoot())

	me, err := svc.Me(ctx, auth.Claims)
	require.NoError(t, err)
	assert.Equal(t, models.UserRoot, me.Type)
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, db := setupService(t, "")
	ctx := context.Background()
	user := testutil.CreateUser(t, db, models.UserPublic, testutil.Wallet(5))

	auth, err := svc.Login(ctx, &models.LoginRequest{WalletAddress: user.WalletAddress})
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, auth.Claims))

	_, err = svc.Authenticate(ctx, auth.Token)
	assert.ErrorIs(t, err, identities.ErrNotAuthenticated)
}

func TestMeWithDeletedUser(t *testing.T) {
	svc, db := setupService(t, "")
	ctx := context.Background()
	user := testutil.CreateUser(t, db, models.UserPublic, testutil.Wallet(6))
	auth, err := svc.Login(ctx, &models.LoginRequest{WalletAddress: user.WalletAddress})
	require.NoError(t, err)

	require.NoError(t, db.Delete(&models.User{}, "id = ?", user.ID).Error)
	_, err = svc.Me(ctx, auth.Claims)
	assert.ErrorIs(t, err, identities.ErrNotAuthenticated)
}

func TestTamperedTokenRejected(t *testing.T) {
	svc, _ := setupService(t, "")
	other := identities.NewSessions(config.SessionConfig{Secret: "other-secret"}, nil)
	token, _, err := other.Issue(&models.User{ID: "x", Type: models.UserGov, WalletAddress: testutil.Wallet(7)})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token)
	assert.Equal(t, 401, errors.HTTPStatus(err))
}
