package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crowdledger/internal/config"
	"crowdledger/internal/featureflags"
	"crowdledger/internal/middleware"
	"crowdledger/internal/models"
	"crowdledger/internal/notifications"
	"crowdledger/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret-with-enough-entropy"

// MockCampaignRepository is a mock of the CampaignRepository interface
type MockCampaignRepository struct {
	mock.Mock
}

func (m *MockCampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	args := m.Called(ctx, campaign)
	return args.Error(0)
}

func (m *MockCampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Campaign), args.Error(1)
}

func (m *MockCampaignRepository) List(ctx context.Context, limit, offset int) ([]*models.Campaign, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*models.Campaign), args.Error(1)
}

func (m *MockCampaignRepository) ToggleLike(ctx context.Context, id, userID string) (*models.Campaign, bool, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*models.Campaign), args.Bool(1), args.Error(2)
}

func (m *MockCampaignRepository) SetLike(ctx context.Context, id, userID string, liked bool) (*models.Campaign, error) {
	args := m.Called(ctx, id, userID, liked)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Campaign), args.Error(1)
}

func (m *MockCampaignRepository) AddComment(ctx context.Context, id string, comment *models.CampaignComment) (*models.Campaign, error) {
	args := m.Called(ctx, id, comment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Campaign), args.Error(1)
}

func (m *MockCampaignRepository) Donate(ctx context.Context, id string, amount models.Amount) (*models.Campaign, bool, error) {
	args := m.Called(ctx, id, amount)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*models.Campaign), args.Bool(1), args.Error(2)
}

func testConfig(trustClient bool) *config.Config {
	return &config.Config{
		JWTSecret:           testSecret,
		Env:                 "test",
		CampaignCategories:  "education,environment,business,health",
		TrustClientIdentity: trustClient,
		FeatureFlags:        "live_feed=on",
	}
}

// newTestApp wires the real routes to a mocked repository.
func newTestApp(repo *MockCampaignRepository, cfg *config.Config) *fiber.App {
	s := &Server{
		config:       cfg,
		campaignRepo: repo,
		featureFlags: featureflags.NewManager(cfg.FeatureFlags),
		feedHub:      notifications.NewFeedHub(),
	}
	s.campaignService = service.NewCampaignService(repo, service.CampaignServiceOptions{
		Categories: cfg.Categories(),
	})

	app := fiber.New()
	app.Use(middleware.Identity(cfg.JWTSecret))
	s.SetupRoutes(app)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func bearer(t *testing.T, userID, name string) string {
	t.Helper()
	tok, err := middleware.IssueIdentityToken(testSecret, userID, name, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func campaignFixture(id string) *models.Campaign {
	return &models.Campaign{
		ID:          id,
		Title:       "Library",
		Description: "Books for all",
		Category:    "education",
		Goal:        10000,
		LikedBy:     []string{},
		Comments:    []models.Comment{},
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateCampaign(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		mockSetup      func(*MockCampaignRepository)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "Success",
			body: map[string]interface{}{
				"title": "Library", "description": "Books", "category": "education", "goal": 100,
			},
			mockSetup: func(m *MockCampaignRepository) {
				m.On("Create", mock.Anything, mock.MatchedBy(func(c *models.Campaign) bool {
					return c.Title == "Library" && c.Goal == 10000 && c.ImageURL == ""
				})).Run(func(args mock.Arguments) {
					args.Get(1).(*models.Campaign).ID = "c-1"
				}).Return(nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Missing Fields",
			body:           map[string]interface{}{"title": "", "goal": 100},
			mockSetup:      func(*MockCampaignRepository) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name: "Non-positive Goal",
			body: map[string]interface{}{
				"title": "A", "description": "B", "category": "health", "goal": -3,
			},
			mockSetup:      func(*MockCampaignRepository) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name: "Goal As String",
			body: map[string]interface{}{
				"title": "A", "description": "B", "category": "health", "goal": "100",
			},
			mockSetup:      func(*MockCampaignRepository) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name: "Store Unavailable",
			body: map[string]interface{}{
				"title": "A", "description": "B", "category": "health", "goal": 1,
			},
			mockSetup: func(m *MockCampaignRepository) {
				m.On("Create", mock.Anything, mock.Anything).Return(&pgconn.PgError{Code: "08006"})
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   models.CodeStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockCampaignRepository)
			tt.mockSetup(repo)
			app := newTestApp(repo, testConfig(true))

			resp, body := doJSON(t, app, http.MethodPost, "/api/campaigns", tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedCode != "" {
				var errResp models.ErrorResponse
				require.NoError(t, json.Unmarshal(body, &errResp))
				assert.Equal(t, tt.expectedCode, errResp.Code)
				assert.Empty(t, errResp.Details)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestCreateCampaign_ResponseShape(t *testing.T) {
	repo := new(MockCampaignRepository)
	repo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Campaign).ID = "c-1"
	}).Return(nil)
	app := newTestApp(repo, testConfig(true))

	resp, body := doJSON(t, app, http.MethodPost, "/api/campaigns", map[string]interface{}{
		"title": "Library", "description": "Books", "category": "education", "goal": 60.5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &got))
	for _, key := range []string{"id", "title", "description", "category", "goal", "imageUrl",
		"createdAt", "likes", "likedBy", "donations", "comments", "isLikedByCurrentUser"} {
		assert.Contains(t, got, key)
	}
	assert.Equal(t, 60.5, got["goal"])
	assert.Equal(t, "", got["imageUrl"])
	assert.Equal(t, []interface{}{}, got["likedBy"])
	assert.Equal(t, []interface{}{}, got["comments"])
}

func TestListCampaigns(t *testing.T) {
	repo := new(MockCampaignRepository)
	liked := campaignFixture("a")
	liked.LikedBy = []string{"ann"}
	repo.On("List", mock.Anything, 0, 0).Return([]*models.Campaign{liked, campaignFixture("b")}, nil)
	app := newTestApp(repo, testConfig(true))

	resp, body := doJSON(t, app, http.MethodGet, "/api/campaigns?userId=ann", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []models.Campaign
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 2)
	assert.True(t, got[0].IsLikedByCurrentUser)
	assert.False(t, got[1].IsLikedByCurrentUser)
}

func TestListCampaigns_UntrustedQueryIdentityIgnored(t *testing.T) {
	repo := new(MockCampaignRepository)
	liked := campaignFixture("a")
	liked.LikedBy = []string{"ann"}
	repo.On("List", mock.Anything, 0, 0).Return([]*models.Campaign{liked}, nil)
	app := newTestApp(repo, testConfig(false))

	_, body := doJSON(t, app, http.MethodGet, "/api/campaigns?userId=ann", nil)
	var got []models.Campaign
	require.NoError(t, json.Unmarshal(body, &got))
	assert.False(t, got[0].IsLikedByCurrentUser)

	_, body = doJSON(t, app, http.MethodGet, "/api/campaigns", nil, "Authorization", bearer(t, "ann", "Ann"))
	require.NoError(t, json.Unmarshal(body, &got))
	assert.True(t, got[0].IsLikedByCurrentUser)
}

func TestListCampaigns_Pagination(t *testing.T) {
	repo := new(MockCampaignRepository)
	repo.On("List", mock.Anything, 100, 5).Return([]*models.Campaign{}, nil)
	app := newTestApp(repo, testConfig(true))

	resp, body := doJSON(t, app, http.MethodGet, "/api/campaigns?limit=500&offset=5", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = doJSON(t, app, http.MethodGet, "/api/campaigns?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/campaigns?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/api/campaigns?offset=20", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "offset requires limit")
	repo.AssertExpectations(t)
}

func TestGetCampaign_NotFound(t *testing.T) {
	repo := new(MockCampaignRepository)
	repo.On("GetByID", mock.Anything, "missing").Return(nil, gorm.ErrRecordNotFound)
	app := newTestApp(repo, testConfig(true))

	resp, body := doJSON(t, app, http.MethodGet, "/api/campaigns/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, models.CodeNotFound, errResp.Code)
}

func TestToggleLike(t *testing.T) {
	t.Run("Body Identity When Trusted", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		c := campaignFixture("a")
		c.Likes, c.LikedBy = 1, []string{"ann"}
		repo.On("ToggleLike", mock.Anything, "a", "ann").Return(c, true, nil)
		app := newTestApp(repo, testConfig(true))

		resp, body := doJSON(t, app, http.MethodPost, "/api/campaigns/a/like", map[string]string{"userId": "ann"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got models.Campaign
		require.NoError(t, json.Unmarshal(body, &got))
		assert.True(t, got.IsLikedByCurrentUser)
		assert.Equal(t, int64(1), got.Likes)
	})

	t.Run("Missing User", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		app := newTestApp(repo, testConfig(true))

		resp, _ := doJSON(t, app, http.MethodPost, "/api/campaigns/a/like", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		repo.AssertNotCalled(t, "ToggleLike", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Body Identity Rejected When Untrusted", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		app := newTestApp(repo, testConfig(false))

		resp, _ := doJSON(t, app, http.MethodPost, "/api/campaigns/a/like", map[string]string{"userId": "ann"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Token Wins Over Body", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		repo.On("ToggleLike", mock.Anything, "a", "bob").Return(campaignFixture("a"), true, nil)
		app := newTestApp(repo, testConfig(true))

		resp, _ := doJSON(t, app, http.MethodPost, "/api/campaigns/a/like",
			map[string]string{"userId": "mallory"}, "Authorization", bearer(t, "bob", ""))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		repo.AssertExpectations(t)
	})

	t.Run("Token Without Body", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		repo.On("ToggleLike", mock.Anything, "a", "bob").Return(campaignFixture("a"), true, nil)
		app := newTestApp(repo, testConfig(false))

		resp, _ := doJSON(t, app, http.MethodPost, "/api/campaigns/a/like", nil, "Authorization", bearer(t, "bob", ""))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Invalid Token", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		app := newTestApp(repo, testConfig(true))

		resp, _ := doJSON(t, app, http.MethodPost, "/api/campaigns/a/like", nil, "Authorization", "Bearer nope")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Campaign Missing", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		repo.On("ToggleLike", mock.Anything, "gone", "ann").Return(nil, false, gorm.ErrRecordNotFound)
		app := newTestApp(repo, testConfig(true))

		resp, _ := doJSON(t, app, http.MethodPost, "/api/campaigns/gone/like", map[string]string{"userId": "ann"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestSetLikeRoutes(t *testing.T) {
	repo := new(MockCampaignRepository)
	repo.On("SetLike", mock.Anything, "a", "ann", true).Return(campaignFixture("a"), nil).Once()
	repo.On("SetLike", mock.Anything, "a", "ann", false).Return(campaignFixture("a"), nil).Once()
	app := newTestApp(repo, testConfig(true))

	resp, _ := doJSON(t, app, http.MethodPut, "/api/campaigns/a/like", map[string]string{"userId": "ann"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/api/campaigns/a/like?userId=ann", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	repo.AssertExpectations(t)
}

func TestAddComment(t *testing.T) {
	repo := new(MockCampaignRepository)
	repo.On("AddComment", mock.Anything, "a", mock.MatchedBy(func(c *models.CampaignComment) bool {
		return c.Author == "Ann" && c.UserID == "ann" && c.Text == "lovely"
	})).Return(campaignFixture("a"), nil)
	app := newTestApp(repo, testConfig(true))

	resp, _ := doJSON(t, app, http.MethodPost, "/api/campaigns/a/comments", map[string]string{
		"userId": "ann", "displayName": "Ann", "text": " lovely ",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/api/campaigns/a/comments", map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), models.CodeValidation)

	repo.AssertNumberOfCalls(t, "AddComment", 1)
}

func TestAddComment_TokenNameUsed(t *testing.T) {
	repo := new(MockCampaignRepository)
	repo.On("AddComment", mock.Anything, "a", mock.MatchedBy(func(c *models.CampaignComment) bool {
		return c.Author == "Real Ann" && c.UserID == "ann"
	})).Return(campaignFixture("a"), nil)
	app := newTestApp(repo, testConfig(true))

	resp, _ := doJSON(t, app, http.MethodPost, "/api/campaigns/a/comments",
		map[string]string{"displayName": "Imposter", "text": "hi"},
		"Authorization", bearer(t, "ann", "Real Ann"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	repo.AssertExpectations(t)
}

func TestAddComment_NotFound(t *testing.T) {
	repo := new(MockCampaignRepository)
	repo.On("AddComment", mock.Anything, "gone", mock.Anything).Return(nil, gorm.ErrRecordNotFound)
	app := newTestApp(repo, testConfig(true))

	resp, body := doJSON(t, app, http.MethodPost, "/api/campaigns/gone/comments", map[string]string{
		"userId": "ann", "displayName": "Ann", "text": "hello",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, models.CodeNotFound, errResp.Code)
	repo.AssertExpectations(t)
}

func TestDonate(t *testing.T) {
	t.Run("Accepted", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		c := campaignFixture("a")
		c.Donations = 6050
		repo.On("Donate", mock.Anything, "a", models.Amount(6050)).Return(c, true, nil)
		app := newTestApp(repo, testConfig(true))

		resp, body := doJSON(t, app, http.MethodPost, "/api/campaigns/a/donations", map[string]interface{}{"amount": 60.5})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, 60.5, got["donations"])
	})

	t.Run("Cap Reached", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		c := campaignFixture("a")
		c.Donations = 6000
		repo.On("Donate", mock.Anything, "a", models.Amount(5000)).Return(c, false, nil)
		app := newTestApp(repo, testConfig(true))

		resp, body := doJSON(t, app, http.MethodPost, "/api/campaigns/a/donations", map[string]interface{}{"amount": 50})
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		var errResp models.ErrorResponse
		require.NoError(t, json.Unmarshal(body, &errResp))
		assert.Equal(t, models.CodeCapReached, errResp.Code)
		require.NotNil(t, errResp.Campaign)
		assert.Equal(t, models.Amount(6000), errResp.Campaign.Donations)
	})

	t.Run("Invalid Amount", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		app := newTestApp(repo, testConfig(true))

		for _, amount := range []interface{}{0, -5, "ten"} {
			resp, _ := doJSON(t, app, http.MethodPost, "/api/campaigns/a/donations", map[string]interface{}{"amount": amount})
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "amount %v", amount)
		}
		repo.AssertNotCalled(t, "Donate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Not Found", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		repo.On("Donate", mock.Anything, "gone", models.Amount(1000)).Return(nil, false, gorm.ErrRecordNotFound)
		app := newTestApp(repo, testConfig(true))

		resp, body := doJSON(t, app, http.MethodPost, "/api/campaigns/gone/donations", map[string]interface{}{"amount": 10})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		var errResp models.ErrorResponse
		require.NoError(t, json.Unmarshal(body, &errResp))
		assert.Equal(t, models.CodeNotFound, errResp.Code)
		assert.Nil(t, errResp.Campaign)
		repo.AssertExpectations(t)
	})

	t.Run("Store Failure", func(t *testing.T) {
		repo := new(MockCampaignRepository)
		repo.On("Donate", mock.Anything, "a", models.Amount(100)).Return(nil, false, errors.New("disk on fire"))
		app := newTestApp(repo, testConfig(true))

		resp, body := doJSON(t, app, http.MethodPost, "/api/campaigns/a/donations", map[string]interface{}{"amount": 1})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.NotContains(t, string(body), "disk on fire")
	})
}
