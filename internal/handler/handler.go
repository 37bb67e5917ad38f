package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/auth"
	"github.com/honeynil/EquipmentLendingService/internal/models"
	service "github.com/honeynil/EquipmentLendingService/internal/services"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
)

type Handler struct {
	users      service.UserService
	items      service.ItemService
	categories service.CategoryService
	lending    service.LendingService
	searchLogs service.SearchLogService
}

func NewHandler(
	users service.UserService,
	items service.ItemService,
	categories service.CategoryService,
	lending service.LendingService,
	searchLogs service.SearchLogService,
) *Handler {
	return &Handler{
		users:      users,
		items:      items,
		categories: categories,
		lending:    lending,
		searchLogs: searchLogs,
	}
}

type Middleware func(http.Handler) http.Handler

// RegisterRoutes mounts every endpoint on r. authn resolves the caller,
// admin additionally requires the admin flag.
func (h *Handler) RegisterRoutes(r *mux.Router, authn, admin Middleware) {
	public := func(f http.HandlerFunc) http.Handler { return f }
	user := func(f http.HandlerFunc) http.Handler { return authn(f) }
	adminOnly := func(f http.HandlerFunc) http.Handler { return authn(admin(f)) }

	r.Handle("/login", public(h.Login)).Methods(http.MethodPost)
	r.Handle("/logout", user(h.Logout)).Methods(http.MethodPost)
	r.Handle("/forgot-password", public(h.ForgotPassword)).Methods(http.MethodPost)
	r.Handle("/reset-password", public(h.ResetPassword)).Methods(http.MethodPost)
	r.Handle("/change-password", user(h.ChangePassword)).Methods(http.MethodPost)

	r.Handle("/users/", public(h.Register)).Methods(http.MethodPost)
	r.Handle("/users/", user(h.ListUsers)).Methods(http.MethodGet)
	r.Handle("/me", user(h.Me)).Methods(http.MethodGet)
	r.Handle("/users/me", user(h.Me)).Methods(http.MethodGet)
	r.Handle("/users/{id:[0-9]+}", user(h.GetUser)).Methods(http.MethodGet)
	r.Handle("/users/{id:[0-9]+}", user(h.UpdateUser)).Methods(http.MethodPut)
	r.Handle("/users/{id:[0-9]+}", adminOnly(h.DeleteUser)).Methods(http.MethodDelete)

	r.Handle("/categories/", adminOnly(h.CreateCategory)).Methods(http.MethodPost)
	r.Handle("/categories/", user(h.ListCategories)).Methods(http.MethodGet)
	r.Handle("/categories/{id:[0-9]+}", user(h.GetCategory)).Methods(http.MethodGet)
	r.Handle("/categories/{id:[0-9]+}", adminOnly(h.UpdateCategory)).Methods(http.MethodPut)
	r.Handle("/categories/{id:[0-9]+}", adminOnly(h.DeleteCategory)).Methods(http.MethodDelete)

	r.Handle("/items/", adminOnly(h.CreateItem)).Methods(http.MethodPost)
	r.Handle("/items/", public(h.ListItems)).Methods(http.MethodGet)
	r.Handle("/items/{id:[0-9]+}", user(h.GetItem)).Methods(http.MethodGet)
	r.Handle("/items/{id:[0-9]+}", adminOnly(h.UpdateItem)).Methods(http.MethodPut)
	r.Handle("/items/{id:[0-9]+}", adminOnly(h.DeleteItem)).Methods(http.MethodDelete)

	r.Handle("/transactions/", user(h.CreateTransaction)).Methods(http.MethodPost)
	r.Handle("/transactions/requests", user(h.RequestTransaction)).Methods(http.MethodPost)
	r.Handle("/transactions/", user(h.ListTransactions)).Methods(http.MethodGet)
	r.Handle("/transactions/{id:[0-9]+}", user(h.GetTransaction)).Methods(http.MethodGet)
	r.Handle("/transactions/{id:[0-9]+}", user(h.UpdateTransactionStatus)).Methods(http.MethodPatch)
	r.Handle("/cancel/{id:[0-9]+}", user(h.CancelTransaction)).Methods(http.MethodPost)
	r.Handle("/return/{id:[0-9]+}", user(h.ReturnTransaction)).Methods(http.MethodPost)

	r.Handle("/search-logs/", user(h.CreateSearchLog)).Methods(http.MethodPost)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps the kind of err to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrConflict), errors.Is(err, pkgerrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: pkgerrors.Kind(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("malformed JSON body")
	}
	return nil
}

type inputError string

func (e inputError) Error() string { return string(e) }

func (e inputError) Unwrap() error { return pkgerrors.ErrInvalidInput }

func badRequest(msg string) error { return inputError(msg) }

func pathID(r *http.Request) (int32, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		return 0, badRequest("invalid id")
	}
	return int32(id), nil
}

func identity(r *http.Request) models.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

type queryReader struct {
	values map[string][]string
	err    error
}

func newQuery(r *http.Request) *queryReader {
	return &queryReader{values: r.URL.Query()}
}

func (q *queryReader) str(key string) string {
	if v := q.values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (q *queryReader) number(key string) int {
	s := q.str(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil && q.err == nil {
		q.err = badRequest("invalid " + key)
	}
	return n
}

func (q *queryReader) int32Ptr(key string) *int32 {
	s := q.str(key)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		if q.err == nil {
			q.err = badRequest("invalid " + key)
		}
		return nil
	}
	v := int32(n)
	return &v
}

func (q *queryReader) boolPtr(key string) *bool {
	s := q.str(key)
	if s == "" {
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		if q.err == nil {
			q.err = badRequest("invalid " + key)
		}
		return nil
	}
	return &b
}

func (q *queryReader) strPtr(key string) *string {
	if v, ok := q.values[key]; ok && len(v) > 0 {
		return &v[0]
	}
	return nil
}
