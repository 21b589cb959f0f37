package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVictimSignUpAndLogin(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	resp, err := env.svc.VictimSignUp(ctx, models.VictimSignUpRequest{
		Email:    " Victim@Test.com ",
		Password: testPassword,
		Name:     "Jane Doe",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "victim", resp.UserType)
	assert.Equal(t, "/victim/dashboard", resp.LandingRoute)
	assert.Equal(t, "victim@test.com", resp.User.Email)

	login, err := env.svc.Login(ctx, models.LoginRequest{Email: "victim@test.com", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, login.User.ID)

	_, err = env.svc.VictimSignUp(ctx, models.VictimSignUpRequest{
		Email: "victim@test.com", Password: testPassword, Name: "Again",
	})
	assertKind(t, err, KindConflict)
}

func TestVictimSignUpValidation(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.VictimSignUp(context.Background(), models.VictimSignUpRequest{
		Email: "not-an-email", Password: "123", Name: "",
	})
	assertKind(t, err, KindValidation)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Fields, "email")
	assert.Contains(t, se.Fields, "password")
	assert.Contains(t, se.Fields, "name")
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	env.seedUser(t, "officer@test.com", models.RoleOfficer, "Metro")

	_, wrongPassword := env.svc.Login(ctx, models.LoginRequest{Email: "officer@test.com", Password: "nope-nope"})
	_, unknownEmail := env.svc.Login(ctx, models.LoginRequest{Email: "ghost@test.com", Password: testPassword})

	assertKind(t, wrongPassword, KindInvalidCredentials)
	assertKind(t, unknownEmail, KindInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestLoginRejectsInactiveAndUnclaimedAccounts(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	inactive := env.seedUser(t, "gone@test.com", models.RoleOfficer, "Metro")
	_, err := env.repo.SetUserActive(ctx, inactive.ID, false)
	require.NoError(t, err)
	_, err = env.svc.Login(ctx, models.LoginRequest{Email: "gone@test.com", Password: testPassword})
	assertKind(t, err, KindInvalidCredentials)

	require.NoError(t, env.repo.CreateUser(ctx, &models.User{
		Email: "pending@test.com", Name: "Pending", Role: models.RoleVictim, IsActive: true,
	}))
	_, err = env.svc.Login(ctx, models.LoginRequest{Email: "pending@test.com", Password: ""})
	assertKind(t, err, KindValidation)
	_, err = env.svc.Login(ctx, models.LoginRequest{Email: "pending@test.com", Password: "anything"})
	assertKind(t, err, KindInvalidCredentials)
}

func TestVictimSignUpClaimsProvisionedAccount(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	provisioned := &models.User{
		Email: "claim@test.com", Name: "Provisioned", Role: models.RoleVictim, Department: "Metro", IsActive: true,
	}
	require.NoError(t, env.repo.CreateUser(ctx, provisioned))

	resp, err := env.svc.VictimSignUp(ctx, models.VictimSignUpRequest{
		Email: "claim@test.com", Password: testPassword, Name: "Claimed",
	})
	require.NoError(t, err)
	assert.Equal(t, provisioned.ID, resp.User.ID)
	assert.Equal(t, "Metro", resp.User.Department)

	// A provisioned officer cannot be claimed through victim signup
	require.NoError(t, env.repo.CreateUser(ctx, &models.User{
		Email: "staff@test.com", Name: "Staff", Role: models.RoleOfficer, IsActive: true,
	}))
	_, err = env.svc.VictimSignUp(ctx, models.VictimSignUpRequest{
		Email: "staff@test.com", Password: testPassword, Name: "Staff",
	})
	assertKind(t, err, KindConflict)
}

func issueToken(t *testing.T, env *testEnv, req models.IssueSignupTokenRequest) string {
	t.Helper()
	admin := env.seedUser(t, "root-"+uuid.NewString()+"@test.com", models.RoleSuperAdmin, "")
	if req.Department == "" {
		req.Department = "Metro"
	}
	resp, err := env.svc.IssueSignupToken(context.Background(), principal(admin), req)
	require.NoError(t, err)
	return resp.Token
}

func staffSignUp(email, token string) models.SignUpRequest {
	return models.SignUpRequest{
		Email:       email,
		Password:    testPassword,
		Name:        "Officer Smith",
		Department:  "Requested",
		BadgeNumber: "B-1001",
		SignupToken: token,
	}
}

func TestStaffSignUpConsumesTokenOnce(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	token := issueToken(t, env, models.IssueSignupTokenRequest{Department: "Metro"})

	resp, err := env.svc.SignUp(ctx, staffSignUp("officer@test.com", token))
	require.NoError(t, err)
	assert.Equal(t, models.RoleOfficer, resp.User.Role)
	assert.Equal(t, "Metro", resp.User.Department, "token department wins")
	assert.Equal(t, "officer", resp.UserType)

	_, err = env.svc.SignUp(ctx, staffSignUp("second@test.com", token))
	assertKind(t, err, KindInvalidSignupToken)

	got, err := env.repo.GetUserByEmail(ctx, "second@test.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStaffSignUpRejectsBadTokens(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.SignUp(ctx, staffSignUp("a@test.com", ""))
	assertKind(t, err, KindInvalidSignupToken)

	_, err = env.svc.SignUp(ctx, staffSignUp("a@test.com", "cts_made-up"))
	assertKind(t, err, KindInvalidSignupToken)

	token := issueToken(t, env, models.IssueSignupTokenRequest{TTLHours: 1})
	env.clock.Advance(2 * time.Hour)
	_, err = env.svc.SignUp(ctx, staffSignUp("a@test.com", token))
	assertKind(t, err, KindInvalidSignupToken)
}

func TestStaffSignUpChecksTokenBeforeFields(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	bad := models.SignUpRequest{Email: "not-an-email", Password: "123", SignupToken: "cts_made-up"}
	_, err := env.svc.SignUp(ctx, bad)
	assertKind(t, err, KindInvalidSignupToken)

	bad.SignupToken = ""
	_, err = env.svc.SignUp(ctx, bad)
	assertKind(t, err, KindInvalidSignupToken)

	// With a good token the fields are reported and the token survives
	token := issueToken(t, env, models.IssueSignupTokenRequest{})
	bad.SignupToken = token
	_, err = env.svc.SignUp(ctx, bad)
	assertKind(t, err, KindValidation)

	_, err = env.svc.SignUp(ctx, staffSignUp("fresh@test.com", token))
	require.NoError(t, err)
}

func TestStaffSignUpFailureKeepsTokenUsable(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	env.seedUser(t, "taken@test.com", models.RoleOfficer, "Metro")
	token := issueToken(t, env, models.IssueSignupTokenRequest{})

	_, err := env.svc.SignUp(ctx, staffSignUp("taken@test.com", token))
	assertKind(t, err, KindConflict)

	_, err = env.svc.SignUp(ctx, staffSignUp("fresh@test.com", token))
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	resp, err := env.svc.VictimSignUp(ctx, models.VictimSignUpRequest{
		Email: "victim@test.com", Password: testPassword, Name: "Jane", Department: "Metro",
	})
	require.NoError(t, err)

	p, err := env.svc.Authenticate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, models.Principal{UserID: resp.User.ID, Role: models.RoleVictim, Department: "Metro"}, *p)

	_, err = env.svc.Authenticate(ctx, resp.Token+"x")
	assertKind(t, err, KindUnauthorized)
	_, err = env.svc.Authenticate(ctx, "")
	assertKind(t, err, KindUnauthorized)

	// Deactivation takes effect on the next request
	_, err = env.repo.SetUserActive(ctx, resp.User.ID, false)
	require.NoError(t, err)
	_, err = env.svc.Authenticate(ctx, resp.Token)
	assertKind(t, err, KindUnauthorized)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	env.seedUser(t, "victim@test.com", models.RoleVictim, "")

	resp, err := env.svc.Login(ctx, models.LoginRequest{Email: "victim@test.com", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, int((24 * time.Hour).Seconds()), resp.ExpiresIn)

	env.clock.Advance(25 * time.Hour)
	_, err = env.svc.Authenticate(ctx, resp.Token)
	assertKind(t, err, KindUnauthorized)
}

func TestGetMe(t *testing.T) {
	env := setupService(t)
	user := env.seedUser(t, "me@test.com", models.RoleOfficer, "Metro")

	resp, err := env.svc.GetMe(context.Background(), principal(user))
	require.NoError(t, err)
	assert.Equal(t, user.ID, resp.User.ID)

	_, err = env.svc.GetMe(context.Background(), models.Principal{UserID: "missing"})
	assertKind(t, err, KindNotFound)
}
