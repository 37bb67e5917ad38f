package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/mux"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/auth"
	"github.com/honeynil/EquipmentLendingService/internal/models"
	servicemocks "github.com/honeynil/EquipmentLendingService/internal/services/mocks"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	users      *servicemocks.MockUserService
	items      *servicemocks.MockItemService
	categories *servicemocks.MockCategoryService
	lending    *servicemocks.MockLendingService
	searchLogs *servicemocks.MockSearchLogService
	router     *mux.Router
}

// fakeAuthn trusts the X-User header: "<id>" for a user, "<id>:admin" for an admin.
func fakeAuthn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("X-User")
		if header == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not authenticated", Code: pkgerrors.KindUnauthorized})
			return
		}
		var id models.Identity
		parts := strings.Split(header, ":")
		fmt.Sscanf(parts[0], "%d", &id.UserID)
		id.IsAdmin = len(parts) == 2 && parts[1] == "admin"
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func newTestServer(t *testing.T) *testServer {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	s := &testServer{
		users:      servicemocks.NewMockUserService(ctrl),
		items:      servicemocks.NewMockItemService(ctrl),
		categories: servicemocks.NewMockCategoryService(ctrl),
		lending:    servicemocks.NewMockLendingService(ctrl),
		searchLogs: servicemocks.NewMockSearchLogService(ctrl),
		router:     mux.NewRouter(),
	}
	h := NewHandler(s.users, s.items, s.categories, s.lending, s.searchLogs)
	h.RegisterRoutes(s.router, fakeAuthn, auth.RequireAdmin)
	return s
}

func (s *testServer) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pkgerrors.ErrItemNotFound, http.StatusNotFound},
		{pkgerrors.ErrItemReserved, http.StatusConflict},
		{pkgerrors.ErrNothingToCancel, http.StatusConflict},
		{pkgerrors.ErrInvalidGrade, http.StatusBadRequest},
		{pkgerrors.ErrInvalidCredentials, http.StatusUnauthorized},
		{pkgerrors.ErrAdminRequired, http.StatusForbidden},
		{badRequest("invalid id"), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestHandler_Login(t *testing.T) {
	s := newTestServer(t)

	t.Run("sets the session cookie", func(t *testing.T) {
		expires := time.Now().Add(time.Hour).UTC()
		s.users.EXPECT().Login(gomock.Any(), "ann@example.com", "pw").
			Return(&models.AuthToken{AccessToken: "tok", TokenType: "bearer", ExpiresAt: expires, UserID: 1}, nil)

		rec := s.do(http.MethodPost, "/login", "", `{"email":"ann@example.com","password":"pw"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, auth.CookieName, cookies[0].Name)
		assert.Equal(t, "tok", cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)

		var token models.AuthToken
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&token))
		assert.Equal(t, "tok", token.AccessToken)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		s.users.EXPECT().Login(gomock.Any(), "ann@example.com", "bad").Return(nil, pkgerrors.ErrInvalidCredentials)

		rec := s.do(http.MethodPost, "/login", "", `{"email":"ann@example.com","password":"bad"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, pkgerrors.KindUnauthorized, decodeError(t, rec).Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/login", "", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, pkgerrors.KindInvalidInput, decodeError(t, rec).Code)
	})
}

func TestHandler_Register(t *testing.T) {
	s := newTestServer(t)

	s.users.EXPECT().Register(gomock.Any(), models.UserInput{Name: "Ann", Email: "ann@example.com", Grade: models.GradeU4, Password: "pw"}).
		Return(&models.User{ID: 3, Name: "Ann", Email: "ann@example.com", Grade: models.GradeU4, PasswordHash: "secret", IsActive: true}, nil)

	rec := s.do(http.MethodPost, "/users/", "", `{"name":"Ann","email":"ann@example.com","grade":"U4","password":"pw"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	s.users.EXPECT().Register(gomock.Any(), gomock.Any()).Return(nil, pkgerrors.ErrEmailExists)
	rec = s.do(http.MethodPost, "/users/", "", `{"name":"Ann","email":"ann@example.com","grade":"U4","password":"pw"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_Authorization(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/items/", "2", `{"name":"Camera"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, pkgerrors.KindForbidden, decodeError(t, rec).Code)

	s.items.EXPECT().Create(gomock.Any(), models.ItemInput{Name: "Camera"}).Return(&models.Item{ID: 1, Name: "Camera", IsAvailable: true}, nil)
	rec = s.do(http.MethodPost, "/items/", "1:admin", `{"name":"Camera"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	s.users.EXPECT().Get(gomock.Any(), int32(2)).Return(&models.User{ID: 2}, nil)
	rec = s.do(http.MethodGet, "/users/me", "2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ListItems(t *testing.T) {
	s := newTestServer(t)

	t.Run("filters from the query string", func(t *testing.T) {
		category, available, location := int32(4), true, "Lab"
		s.items.EXPECT().List(gomock.Any(), models.ItemFilter{
			CategoryID:  &category,
			Name:        "cam",
			Location:    &location,
			IsAvailable: &available,
			SortBy:      "name",
			SortOrder:   "desc",
			Skip:        10,
			Limit:       5,
		}).Return([]models.Item{{ID: 1}}, nil)

		rec := s.do(http.MethodGet, "/items/?category_id=4&name=cam&location=Lab&is_available=true&sort_by=name&sort_order=desc&skip=10&limit=5", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var items []models.Item
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&items))
		assert.Len(t, items, 1)
	})

	t.Run("bad number", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/items/?limit=ten", "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_ItemNotFound(t *testing.T) {
	s := newTestServer(t)
	s.items.EXPECT().Get(gomock.Any(), int32(42)).Return(nil, pkgerrors.ErrItemNotFound)

	rec := s.do(http.MethodGet, "/items/42", "2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, pkgerrors.KindNotFound, body.Code)
	assert.Equal(t, "item not found", body.Error)
}

func TestHandler_Transactions(t *testing.T) {
	s := newTestServer(t)
	alice := models.Identity{UserID: 2}
	admin := models.Identity{UserID: 1, IsAdmin: true}

	t.Run("request", func(t *testing.T) {
		s.lending.EXPECT().Request(gomock.Any(), alice, models.TransactionInput{ItemID: 10, Type: models.TypeBorrow}).
			Return(&models.Transaction{ID: 5, ItemID: 10, UserID: 2, Type: models.TypeBorrow, Status: models.StatusRequest}, nil)

		rec := s.do(http.MethodPost, "/transactions/requests", "2", `{"item_id":10,"type":"borrow"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"request"`)
	})

	t.Run("double booking", func(t *testing.T) {
		s.lending.EXPECT().CreateDirect(gomock.Any(), alice, gomock.Any()).Return(nil, pkgerrors.ErrItemReserved)

		rec := s.do(http.MethodPost, "/transactions/", "2", `{"item_id":10,"type":"borrow"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, pkgerrors.KindConflict, decodeError(t, rec).Code)
	})

	t.Run("update status from query", func(t *testing.T) {
		s.lending.EXPECT().UpdateStatus(gomock.Any(), admin, int32(5), models.StatusApproved).
			Return(&models.Transaction{ID: 5, Status: models.StatusApproved}, nil)

		rec := s.do(http.MethodPatch, "/transactions/5?status=approved", "1:admin", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown status", func(t *testing.T) {
		rec := s.do(http.MethodPatch, "/transactions/5?status=lost", "1:admin", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cancel answers null status", func(t *testing.T) {
		s.lending.EXPECT().Cancel(gomock.Any(), alice, int32(5)).
			Return(&models.Transaction{ID: 5, Status: models.StatusCancelled}, nil)

		rec := s.do(http.MethodPost, "/cancel/5", "2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":null`)
	})

	t.Run("nothing to cancel", func(t *testing.T) {
		s.lending.EXPECT().Cancel(gomock.Any(), alice, int32(6)).Return(nil, pkgerrors.ErrNothingToCancel)

		rec := s.do(http.MethodPost, "/cancel/6", "2", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, pkgerrors.KindInvalidTransition, body.Code)
		assert.Equal(t, "nothing to cancel", body.Error)
	})

	t.Run("return", func(t *testing.T) {
		s.lending.EXPECT().Return(gomock.Any(), alice, int32(5)).Return(&models.Transaction{ID: 5, Status: models.StatusReturned}, nil)

		rec := s.do(http.MethodPost, "/return/5", "2", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("list with cancelled filter", func(t *testing.T) {
		cancelled := models.StatusCancelled
		user := int32(2)
		s.lending.EXPECT().List(gomock.Any(), models.TransactionFilter{UserID: &user, Status: &cancelled}).
			Return([]models.TransactionDetails{}, nil)

		rec := s.do(http.MethodGet, "/transactions/?user_id=2&status=cancelled", "2", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("list with bad type", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/transactions/?type=lend", "2", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_PasswordFlows(t *testing.T) {
	s := newTestServer(t)

	s.users.EXPECT().ForgotPassword(gomock.Any(), "ann@example.com").Return(nil)
	rec := s.do(http.MethodPost, "/forgot-password", "", `{"email":"ann@example.com"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	s.users.EXPECT().ResetPassword(gomock.Any(), "tok", "new").Return(pkgerrors.ErrInvalidToken)
	rec = s.do(http.MethodPost, "/reset-password", "", `{"token":"tok","new_password":"new"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	s.users.EXPECT().ChangePassword(gomock.Any(), int32(2), "old", "new").Return(nil)
	rec = s.do(http.MethodPost, "/change-password", "2", `{"current_password":"old","new_password":"new"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_CategoriesAndSearchLogs(t *testing.T) {
	s := newTestServer(t)

	s.categories.EXPECT().Delete(gomock.Any(), int32(3)).Return(false, nil)
	rec := s.do(http.MethodDelete, "/categories/3", "1:admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":false}`, rec.Body.String())

	userID := int32(2)
	s.searchLogs.EXPECT().Record(gomock.Any(), &userID, "tripod").Return(&models.SearchLog{ID: 1, UserID: &userID, SearchKeyword: "tripod"}, nil)
	rec = s.do(http.MethodPost, "/search-logs/", "2", `{"search_keyword":"tripod"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandler_InternalErrorsAreMasked(t *testing.T) {
	s := newTestServer(t)
	s.categories.EXPECT().List(gomock.Any(), 0, 0).Return(nil, fmt.Errorf("pq: connection refused"))

	rec := s.do(http.MethodGet, "/categories/", "2", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, pkgerrors.KindInternal, body.Code)
	assert.NotContains(t, body.Error, "pq")
}
