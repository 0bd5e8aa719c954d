// internal/api/handler_test.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"extension-sync/internal/auth"
	custom_errors "extension-sync/internal/errors"
	"extension-sync/internal/model"
	"extension-sync/internal/syncer"
)

// MockService is a mock of the Service interface.
type MockService struct {
	mock.Mock
}

func (m *MockService) Get(ctx context.Context, id int64) (*model.GitHubModel, error) {
	args := m.Called(ctx, id)
	link, _ := args.Get(0).(*model.GitHubModel)
	return link, args.Error(1)
}

func (m *MockService) FetchOne(ctx context.Context, link *model.GitHubModel, user *model.User) (*model.GitHubModel, error) {
	args := m.Called(ctx, link, user)
	saved, _ := args.Get(0).(*model.GitHubModel)
	return saved, args.Error(1)
}

func (m *MockService) GenerateGitHub(ctx context.Context, link string) (*model.GitHubModel, error) {
	args := m.Called(ctx, link)
	saved, _ := args.Get(0).(*model.GitHubModel)
	return saved, args.Error(1)
}

func (m *MockService) Delete(ctx context.Context, link *model.GitHubModel) error {
	return m.Called(ctx, link).Error(0)
}

func (m *MockService) ConfigureSchedule(ctx context.Context, userID int64, spec *syncer.SettingsSpec) (*model.Settings, error) {
	args := m.Called(ctx, userID, spec)
	settings, _ := args.Get(0).(*model.Settings)
	return settings, args.Error(1)
}

func (m *MockService) ReadSettings(ctx context.Context, userID int64) syncer.SettingsSpec {
	return m.Called(ctx, userID).Get(0).(syncer.SettingsSpec)
}

const ownerID = int64(1)

type testServer struct {
	service *MockService
	router  http.Handler
	admin   string
	user    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tokens, err := auth.NewTokenService("api-test-secret-0123456789", time.Minute)
	require.NoError(t, err)

	adminToken, err := tokens.Generate(model.User{ID: 1, Username: "admin", Role: model.RoleAdmin})
	require.NoError(t, err)
	userToken, err := tokens.Generate(model.User{ID: 2, Username: "user", Role: "ROLE_USER"})
	require.NoError(t, err)

	service := new(MockService)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "extension_sync_up 1")
	})

	return &testServer{
		service: service,
		router:  NewRouter(service, tokens, logger, Options{ScheduleOwnerID: ownerID, Metrics: metrics}),
		admin:   adminToken,
		user:    userToken,
	}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestRouter_PublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "extension_sync_up")
}

func TestRouter_RequiresBearer(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/github/1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/github/1", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	s.service.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestRouter_GetGitHub(t *testing.T) {
	s := newTestServer(t)
	link := &model.GitHubModel{ID: 4, Link: "acme/widget", Owner: "acme", Repo: "widget", PullRequests: 3}
	s.service.On("Get", mock.Anything, int64(4)).Return(link, nil)
	s.service.On("Get", mock.Anything, int64(5)).Return(nil, fmt.Errorf("github record 5: %w", custom_errors.ErrNotFound))

	rec := s.do(t, http.MethodGet, "/v1/github/4", s.user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.GitHubModel](t, rec)
	assert.Equal(t, 3, got.PullRequests)

	rec = s.do(t, http.MethodGet, "/v1/github/5", s.user, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/github/abc", s.user, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_CreateGitHub(t *testing.T) {
	s := newTestServer(t)
	s.service.On("GenerateGitHub", mock.Anything, "https://github.com/acme/widget").
		Return(&model.GitHubModel{ID: 9, Owner: "acme", Repo: "widget"}, nil)
	s.service.On("GenerateGitHub", mock.Anything, "nonsense").
		Return(nil, &custom_errors.ErrInvalidRepoFormat{Repo: "nonsense"})

	rec := s.do(t, http.MethodPost, "/v1/github", s.user, `{"link": "https://github.com/acme/widget"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(9), decode[model.GitHubModel](t, rec).ID)

	rec = s.do(t, http.MethodPost, "/v1/github", s.user, `{"link": "nonsense"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/github", s.user, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_FetchGitHub(t *testing.T) {
	link := &model.GitHubModel{ID: 4, Owner: "acme", Repo: "widget"}

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "success", wantStatus: http.StatusOK},
		{name: "not an admin", err: fmt.Errorf("%w: nope", custom_errors.ErrUnauthorized), wantStatus: http.StatusForbidden},
		{name: "timed out", err: fmt.Errorf("%w: acme/widget after 50s", custom_errors.ErrFetchTimedOut), wantStatus: http.StatusGatewayTimeout},
		{name: "database failure", err: errors.New("conn closed"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.service.On("Get", mock.Anything, int64(4)).Return(link, nil)
			var saved *model.GitHubModel
			if tt.err == nil {
				saved = link
			}
			s.service.On("FetchOne", mock.Anything, link, mock.MatchedBy(func(u *model.User) bool {
				return u.ID == 2
			})).Return(saved, tt.err).Once()

			rec := s.do(t, http.MethodPost, "/v1/github/4/fetch", s.user, "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			s.service.AssertExpectations(t)
		})
	}
}

func TestRouter_AdminOnly(t *testing.T) {
	s := newTestServer(t)

	for _, req := range []struct{ method, path, body string }{
		{http.MethodGet, "/v1/github/settings", ""},
		{http.MethodPost, "/v1/github/settings", `{"rate": 1000}`},
		{http.MethodDelete, "/v1/github/4", ""},
	} {
		rec := s.do(t, req.method, req.path, s.user, req.body)
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", req.method, req.path)
	}
	s.service.AssertNotCalled(t, "ReadSettings", mock.Anything, mock.Anything)
	s.service.AssertNotCalled(t, "ConfigureSchedule", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_DeleteGitHub(t *testing.T) {
	s := newTestServer(t)
	link := &model.GitHubModel{ID: 4}
	s.service.On("Get", mock.Anything, int64(4)).Return(link, nil)
	s.service.On("Delete", mock.Anything, link).Return(nil).Once()

	rec := s.do(t, http.MethodDelete, "/v1/github/4", s.admin, "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	s.service.AssertExpectations(t)
}

func TestRouter_Settings(t *testing.T) {
	t.Run("reports settings in milliseconds", func(t *testing.T) {
		s := newTestServer(t)
		s.service.On("ReadSettings", mock.Anything, ownerID).
			Return(syncer.SettingsSpec{Token: "t", Username: "octo", Rate: time.Hour, Wait: 2 * time.Second})

		rec := s.do(t, http.MethodGet, "/v1/github/settings", s.admin, "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, settingsBody{Token: "t", Username: "octo", Rate: 3600000, Wait: 2000}, decode[settingsBody](t, rec))
	})

	t.Run("configures the schedule", func(t *testing.T) {
		s := newTestServer(t)
		want := &syncer.SettingsSpec{Token: "t", Username: "octo", Rate: time.Minute, Wait: time.Second}
		s.service.On("ConfigureSchedule", mock.Anything, ownerID, want).Return(&model.Settings{ID: 1}, nil).Once()
		s.service.On("ReadSettings", mock.Anything, ownerID).
			Return(syncer.SettingsSpec{Token: "t", Username: "octo", Rate: time.Minute, Wait: time.Second})

		rec := s.do(t, http.MethodPost, "/v1/github/settings", s.admin, `{"token":"t","username":"octo","rate":60000,"wait":1000}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(60000), decode[settingsBody](t, rec).Rate)
		s.service.AssertExpectations(t)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		s := newTestServer(t)
		authErr := &custom_errors.AuthError{Username: "octo", Err: errors.New("401 Bad credentials")}
		s.service.On("ConfigureSchedule", mock.Anything, ownerID, mock.Anything).
			Return(nil, fmt.Errorf("couldn't connect to github: %w", authErr)).Once()

		rec := s.do(t, http.MethodPost, "/v1/github/settings", s.admin, `{"token":"bad","username":"octo","rate":60000}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[errorResponse](t, rec).Error, "authentication failed")
	})

	t.Run("github unreachable", func(t *testing.T) {
		s := newTestServer(t)
		remoteErr := &custom_errors.RemoteUnavailable{Repo: "user octo", Err: errors.New("connection refused")}
		s.service.On("ConfigureSchedule", mock.Anything, ownerID, mock.Anything).
			Return(nil, fmt.Errorf("couldn't connect to github: %w", remoteErr)).Once()

		rec := s.do(t, http.MethodPost, "/v1/github/settings", s.admin, `{"token":"t","username":"octo","rate":60000}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("negative rate", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/v1/github/settings", s.admin, `{"rate":-1}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		s.service.AssertNotCalled(t, "ConfigureSchedule", mock.Anything, mock.Anything, mock.Anything)
	})
}
