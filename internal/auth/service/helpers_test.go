package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tradekit/authcore/internal/auth/backend"
	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/internal/auth/store"
	"github.com/tradekit/authcore/internal/auth/store/drivers/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	return st
}

// fakeBackend is a canned IdentityBackend for service tests.
type fakeBackend struct {
	user    domain.User
	session domain.Session

	signInErr error
	signUpErr error

	refreshed  domain.Session
	refreshErr error

	// validTokens are access tokens GetUser accepts.
	validTokens map[string]bool

	signOutErr error

	signInCalls  int
	signUpCalls  int
	refreshCalls int
	signOutCalls int
}

var _ backend.IdentityBackend = (*fakeBackend)(nil)

func (f *fakeBackend) SignIn(_ context.Context, _, _ string) (domain.Session, domain.User, error) {
	f.signInCalls++
	if f.signInErr != nil {
		return domain.Session{}, domain.User{}, f.signInErr
	}
	return f.session, f.user, nil
}

func (f *fakeBackend) SignUp(_ context.Context, _, _ string, _ map[string]any) (*domain.Session, domain.User, error) {
	f.signUpCalls++
	if f.signUpErr != nil {
		return nil, domain.User{}, f.signUpErr
	}
	sess := f.session
	return &sess, f.user, nil
}

func (f *fakeBackend) GetUser(_ context.Context, accessToken string) (domain.User, error) {
	if f.validTokens[accessToken] {
		return f.user, nil
	}
	return domain.User{}, backend.ErrInvalidToken
}

func (f *fakeBackend) RefreshSession(_ context.Context, _ string) (domain.Session, domain.User, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return domain.Session{}, domain.User{}, f.refreshErr
	}
	return f.refreshed, f.user, nil
}

func (f *fakeBackend) SignOut(_ context.Context, _ string) error {
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeBackend) ResetPasswordForEmail(_ context.Context, _ string) error {
	return nil
}

func (f *fakeBackend) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	return "https://provider.example/authorize?p=" + provider, nil
}

func (f *fakeBackend) ExchangeCodeForSession(_ context.Context, code string) (domain.Session, domain.User, error) {
	if code != "good-code" {
		return domain.Session{}, domain.User{}, backend.ErrInvalidCredentials
	}
	return f.session, f.user, nil
}
