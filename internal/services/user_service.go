package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stderrors "errors"

	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/auth"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/kafka"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/redis"
	"github.com/honeynil/EquipmentLendingService/internal/models"
	"github.com/honeynil/EquipmentLendingService/internal/repository"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type UserService interface {
	Register(ctx context.Context, in models.UserInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.AuthToken, error)
	Logout(ctx context.Context, userID int32) error
	Get(ctx context.Context, id int32) (*models.User, error)
	List(ctx context.Context, skip, limit int) ([]models.User, error)
	Update(ctx context.Context, who models.Identity, id int32, patch models.UserPatch) (*models.User, error)
	Delete(ctx context.Context, id int32) (bool, error)
	ChangePassword(ctx context.Context, userID int32, current, next string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
}

type userService struct {
	userRepo    repository.UserRepository
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
	tokens      *auth.TokenManager
}

func NewUserService(
	userRepo repository.UserRepository,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	tokens *auth.TokenManager,
) *userService {
	return &userService{
		userRepo:    userRepo,
		redisClient: redisClient,
		producer:    producer,
		tokens:      tokens,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a regular, active account. Admin rights are granted later
// through Update.
func (s *userService) Register(ctx context.Context, in models.UserInput) (_ *models.User, err error) {
	ctx, end := traced(ctx, "user-service", "Register")
	defer end(&err)

	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if in.Name == "" || in.Email == "" || in.Password == "" {
		err = fmt.Errorf("%w: name, email and password are required", pkgerrors.ErrInvalidInput)
		return nil, err
	}
	if !in.Grade.Valid() {
		err = pkgerrors.ErrInvalidGrade
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		slog.Error("failed to hash password", "email", in.Email, "error", err)
		return nil, err
	}

	user := &models.User{
		Name:         in.Name,
		Email:        in.Email,
		Grade:        in.Grade,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err = s.userRepo.Create(ctx, user); err != nil {
		slog.Warn("user not registered", "email", in.Email, "error", err)
		return nil, err
	}

	slog.Info("user registered successfully", "user_id", user.ID, "email", user.Email)
	return user, nil
}

func (s *userService) Login(ctx context.Context, email, password string) (_ *models.AuthToken, err error) {
	ctx, end := traced(ctx, "user-service", "Login")
	defer end(&err)

	email = normalizeEmail(email)
	user, err := s.userRepo.GetByEmail(ctx, email)
	if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		slog.Warn("login for unknown email", "email", email)
		err = pkgerrors.ErrInvalidCredentials
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if err = auth.CheckPassword(user.PasswordHash, password); err != nil {
		slog.Warn("invalid password", "user_id", user.ID)
		return nil, err
	}
	if !user.IsActive {
		err = pkgerrors.ErrInactiveUser
		return nil, err
	}

	token, expiresAt, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		slog.Error("failed to generate JWT", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	if err = s.redisClient.Set(ctx, redis.SessionKey(user.ID), token, s.tokens.AccessTTL()); err != nil {
		slog.Error("failed to store session", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	slog.Info("user logged in", "user_id", user.ID)
	return &models.AuthToken{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		UserID:      user.ID,
		Name:        user.Name,
	}, nil
}

func (s *userService) Logout(ctx context.Context, userID int32) (err error) {
	ctx, end := traced(ctx, "user-service", "Logout", attribute.Int("user_id", int(userID)))
	defer end(&err)

	if err = s.redisClient.Del(ctx, redis.SessionKey(userID)); err != nil {
		slog.Error("failed to drop session", "user_id", userID, "error", err)
		return err
	}
	slog.Info("user logged out", "user_id", userID)
	return nil
}

func (s *userService) Get(ctx context.Context, id int32) (_ *models.User, err error) {
	ctx, end := traced(ctx, "user-service", "GetUser", attribute.Int("user_id", int(id)))
	defer end(&err)

	return s.userRepo.GetByID(ctx, id)
}

func (s *userService) List(ctx context.Context, skip, limit int) (_ []models.User, err error) {
	ctx, end := traced(ctx, "user-service", "ListUsers")
	defer end(&err)

	skip, limit = models.NormalizePage(skip, limit)
	return s.userRepo.List(ctx, skip, limit)
}

// Update applies patch to user id. Callers may edit themselves; admins may
// edit anyone and are the only ones allowed to touch is_admin and is_active.
func (s *userService) Update(ctx context.Context, who models.Identity, id int32, patch models.UserPatch) (_ *models.User, err error) {
	ctx, end := traced(ctx, "user-service", "UpdateUser", attribute.Int("user_id", int(id)))
	defer end(&err)

	if !who.CanActFor(id) {
		err = pkgerrors.ErrPermissionDenied
		return nil, err
	}
	if (patch.IsAdmin != nil || patch.IsActive != nil) && !who.IsAdmin {
		err = pkgerrors.ErrAdminRequired
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if user.Name = strings.TrimSpace(*patch.Name); user.Name == "" {
			err = pkgerrors.ErrNameRequired
			return nil, err
		}
	}
	if patch.Email != nil {
		if user.Email = normalizeEmail(*patch.Email); user.Email == "" {
			err = fmt.Errorf("%w: email is required", pkgerrors.ErrInvalidInput)
			return nil, err
		}
	}
	if patch.Grade != nil {
		if !patch.Grade.Valid() {
			err = pkgerrors.ErrInvalidGrade
			return nil, err
		}
		user.Grade = *patch.Grade
	}
	if patch.IsAdmin != nil {
		user.IsAdmin = *patch.IsAdmin
	}
	deactivated := false
	if patch.IsActive != nil {
		deactivated = user.IsActive && !*patch.IsActive
		user.IsActive = *patch.IsActive
	}

	if patch.Password != nil {
		if user.PasswordHash, err = hashNewPassword(*patch.Password); err != nil {
			return nil, err
		}
	}

	if err = s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}
	if deactivated {
		s.dropSession(ctx, user.ID)
	}

	slog.Info("user updated", "user_id", user.ID, "by", who.UserID)
	return user, nil
}

func (s *userService) Delete(ctx context.Context, id int32) (_ bool, err error) {
	ctx, end := traced(ctx, "user-service", "DeleteUser", attribute.Int("user_id", int(id)))
	defer end(&err)

	found, err := s.userRepo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if found {
		s.dropSession(ctx, id)
		slog.Info("user deleted", "user_id", id)
	}
	return found, nil
}

func (s *userService) ChangePassword(ctx context.Context, userID int32, current, next string) (err error) {
	ctx, end := traced(ctx, "user-service", "ChangePassword", attribute.Int("user_id", int(userID)))
	defer end(&err)

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err = auth.CheckPassword(user.PasswordHash, current); err != nil {
		return err
	}
	if err = s.setPassword(ctx, userID, next); err != nil {
		return err
	}
	slog.Info("password changed", "user_id", userID)
	return nil
}

// ForgotPassword issues a reset token for email and hands it to the
// notification pipeline.
func (s *userService) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, end := traced(ctx, "user-service", "ForgotPassword")
	defer end(&err)

	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}

	token, claims, err := s.tokens.IssueReset(user.Email)
	if err != nil {
		slog.Error("failed to issue reset token", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to issue reset token: %w", err)
	}

	publish(ctx, s.producer, kafka.TopicNotifications, int64(user.ID), kafka.EventPasswordResetRequested, kafka.PasswordResetRequested{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	})
	slog.Info("password reset requested", "user_id", user.ID)
	return nil
}

// ResetPassword sets a new password using a reset token. Each token works
// once: its id is marked used in redis until the token expires.
func (s *userService) ResetPassword(ctx context.Context, token, password string) (err error) {
	ctx, end := traced(ctx, "user-service", "ResetPassword")
	defer end(&err)

	claims, err := s.tokens.ParseReset(token)
	if err != nil {
		return err
	}
	if password == "" {
		err = fmt.Errorf("%w: password is required", pkgerrors.ErrInvalidInput)
		return err
	}

	user, err := s.userRepo.GetByEmail(ctx, claims.Email)
	if err != nil {
		return err
	}

	key := redis.ResetTokenKey(claims.ID)
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		ttl = time.Second
	}
	fresh, err := s.redisClient.SetNX(ctx, key, user.ID, ttl)
	if err != nil {
		slog.Error("failed to mark reset token", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to mark reset token: %w", err)
	}
	if !fresh {
		slog.Warn("reset token reused", "user_id", user.ID)
		err = pkgerrors.ErrInvalidToken
		return err
	}

	if err = s.setPassword(ctx, user.ID, password); err != nil {
		if delErr := s.redisClient.Del(ctx, key); delErr != nil {
			slog.Warn("failed to release reset token", "user_id", user.ID, "error", delErr)
		}
		return err
	}
	s.dropSession(ctx, user.ID)

	slog.Info("password reset", "user_id", user.ID)
	return nil
}

func (s *userService) setPassword(ctx context.Context, userID int32, password string) error {
	hash, err := hashNewPassword(password)
	if err != nil {
		return err
	}
	return s.userRepo.UpdatePassword(ctx, userID, hash)
}

func hashNewPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is required", pkgerrors.ErrInvalidInput)
	}
	return auth.HashPassword(password)
}

func (s *userService) dropSession(ctx context.Context, userID int32) {
	if err := s.redisClient.Del(ctx, redis.SessionKey(userID)); err != nil {
		slog.Warn("failed to drop session", "user_id", userID, "error", err)
	}
}
