package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/auth"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/kafka"
	kafkamocks "github.com/honeynil/EquipmentLendingService/internal/infrastructure/kafka/mocks"
	redismocks "github.com/honeynil/EquipmentLendingService/internal/infrastructure/redis/mocks"
	"github.com/honeynil/EquipmentLendingService/internal/models"
	repositorymocks "github.com/honeynil/EquipmentLendingService/internal/repository/mocks"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type userFixture struct {
	userRepo      *repositorymocks.MockUserRepository
	redisClient   *redismocks.MockRedisClient
	kafkaProducer *kafkamocks.MockKafkaProducer
	tokens        *auth.TokenManager
	service       *userService
}

func newUserFixture(t *testing.T) *userFixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := &userFixture{
		userRepo:      repositorymocks.NewMockUserRepository(ctrl),
		redisClient:   redismocks.NewMockRedisClient(ctrl),
		kafkaProducer: kafkamocks.NewMockKafkaProducer(ctrl),
		tokens:        auth.NewTokenManager("secret", 2*time.Hour, 30*time.Minute),
	}
	f.service = NewUserService(f.userRepo, f.redisClient, f.kafkaProducer, f.tokens)
	return f
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("successful registration", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
			assert.Equal(t, "ann@example.com", u.Email)
			assert.False(t, u.IsAdmin)
			assert.True(t, u.IsActive)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("pw")))
			u.ID = 5
			return nil
		})

		user, err := f.service.Register(ctx, models.UserInput{Name: "Ann", Email: " Ann@Example.com ", Grade: models.GradeM1, Password: "pw", IsAdmin: true})
		require.NoError(t, err)
		assert.Equal(t, int32(5), user.ID)
		assert.False(t, user.IsAdmin)
	})

	t.Run("duplicate email", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(pkgerrors.ErrEmailExists)

		_, err := f.service.Register(ctx, models.UserInput{Name: "Ann", Email: "ann@example.com", Grade: models.GradeU4, Password: "pw"})
		assert.ErrorIs(t, err, pkgerrors.ErrConflict)
	})

	t.Run("invalid grade", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.service.Register(ctx, models.UserInput{Name: "Ann", Email: "ann@example.com", Grade: "D1", Password: "pw"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidGrade)
	})

	t.Run("missing password", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.service.Register(ctx, models.UserInput{Name: "Ann", Email: "ann@example.com", Grade: models.GradeU4})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestUserService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("successful login", func(t *testing.T) {
		f := newUserFixture(t)
		user := &models.User{ID: 1, Name: "Ann", Email: "ann@example.com", PasswordHash: hashed(t, "pw"), IsActive: true}
		f.userRepo.EXPECT().GetByEmail(gomock.Any(), "ann@example.com").Return(user, nil)
		f.redisClient.EXPECT().Set(gomock.Any(), "user:1:token", gomock.Any(), 2*time.Hour).Return(nil)

		token, err := f.service.Login(ctx, "ANN@example.com", "pw")
		require.NoError(t, err)
		assert.Equal(t, "bearer", token.TokenType)
		assert.Equal(t, int32(1), token.UserID)

		claims, err := f.tokens.ParseAccess(token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "1", claims.Subject)
	})

	t.Run("unknown email", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().GetByEmail(gomock.Any(), "who@example.com").Return(nil, pkgerrors.ErrUserNotFound)

		_, err := f.service.Login(ctx, "who@example.com", "pw")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().GetByEmail(gomock.Any(), "ann@example.com").
			Return(&models.User{ID: 1, PasswordHash: hashed(t, "pw"), IsActive: true}, nil)

		_, err := f.service.Login(ctx, "ann@example.com", "nope")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("inactive user", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().GetByEmail(gomock.Any(), "ann@example.com").
			Return(&models.User{ID: 1, PasswordHash: hashed(t, "pw")}, nil)

		_, err := f.service.Login(ctx, "ann@example.com", "pw")
		assert.ErrorIs(t, err, pkgerrors.ErrInactiveUser)
	})
}

func TestUserService_Logout(t *testing.T) {
	f := newUserFixture(t)
	f.redisClient.EXPECT().Del(gomock.Any(), "user:4:token").Return(nil)

	assert.NoError(t, f.service.Logout(context.Background(), 4))
}

func TestUserService_Update(t *testing.T) {
	ctx := context.Background()
	name := "Annie"
	active := false
	isAdmin := true

	t.Run("self update", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().GetByID(gomock.Any(), int32(2)).Return(&models.User{ID: 2, Name: "Ann", IsActive: true}, nil)
		f.userRepo.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)

		user, err := f.service.Update(ctx, alice, 2, models.UserPatch{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "Annie", user.Name)
	})

	t.Run("other user", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.service.Update(ctx, bob, 2, models.UserPatch{Name: &name})
		assert.ErrorIs(t, err, pkgerrors.ErrPermissionDenied)
	})

	t.Run("self promotion to admin", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.service.Update(ctx, alice, 2, models.UserPatch{IsAdmin: &isAdmin})
		assert.ErrorIs(t, err, pkgerrors.ErrAdminRequired)
	})

	t.Run("admin deactivates and resets password", func(t *testing.T) {
		f := newUserFixture(t)
		password := "new"
		f.userRepo.EXPECT().GetByID(gomock.Any(), int32(2)).Return(&models.User{ID: 2, Name: "Ann", IsActive: true}, nil)
		f.userRepo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
			assert.False(t, u.IsActive)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("new")))
			return nil
		})
		f.redisClient.EXPECT().Del(gomock.Any(), "user:2:token").Return(nil)

		_, err := f.service.Update(ctx, admin, 2, models.UserPatch{IsActive: &active, Password: &password})
		assert.NoError(t, err)
	})

	t.Run("empty password writes nothing", func(t *testing.T) {
		f := newUserFixture(t)
		empty := ""
		f.userRepo.EXPECT().GetByID(gomock.Any(), int32(2)).Return(&models.User{ID: 2, Name: "Ann", PasswordHash: "old", IsActive: true}, nil)
		f.userRepo.EXPECT().Update(gomock.Any(), gomock.Any()).Times(0)
		f.userRepo.EXPECT().UpdatePassword(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := f.service.Update(ctx, alice, 2, models.UserPatch{Name: &name, Password: &empty})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("profile update keeps the stored hash", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().GetByID(gomock.Any(), int32(2)).Return(&models.User{ID: 2, Name: "Ann", PasswordHash: "old", IsActive: true}, nil)
		f.userRepo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
			assert.Equal(t, "old", u.PasswordHash)
			return nil
		})

		_, err := f.service.Update(ctx, alice, 2, models.UserPatch{Name: &name})
		assert.NoError(t, err)
	})
}

func TestUserService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("current password verified", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().GetByID(gomock.Any(), int32(2)).Return(&models.User{ID: 2, PasswordHash: hashed(t, "old")}, nil)
		f.userRepo.EXPECT().UpdatePassword(gomock.Any(), int32(2), gomock.Any()).DoAndReturn(func(_ context.Context, _ int32, hash string) error {
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("new")))
			return nil
		})

		assert.NoError(t, f.service.ChangePassword(ctx, 2, "old", "new"))
	})

	t.Run("wrong current password", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().GetByID(gomock.Any(), int32(2)).Return(&models.User{ID: 2, PasswordHash: hashed(t, "old")}, nil)

		err := f.service.ChangePassword(ctx, 2, "guess", "new")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})
}

func TestUserService_PasswordReset(t *testing.T) {
	ctx := context.Background()
	user := &models.User{ID: 2, Name: "Ann", Email: "ann@example.com", IsActive: true}

	t.Run("forgot password publishes a reset token", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().GetByEmail(gomock.Any(), "ann@example.com").Return(user, nil)
		f.kafkaProducer.EXPECT().Send(gomock.Any(), "notifications", int64(2), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, _ int64, value []byte) error {
				var event kafka.Event
				require.NoError(t, json.Unmarshal(value, &event))
				assert.Equal(t, kafka.EventPasswordResetRequested, event.Type)

				var payload kafka.PasswordResetRequested
				require.NoError(t, json.Unmarshal(event.Payload, &payload))
				claims, err := f.tokens.ParseReset(payload.Token)
				require.NoError(t, err)
				assert.Equal(t, "ann@example.com", claims.Email)
				assert.True(t, claims.ExpiresAt.Time.Equal(payload.ExpiresAt))
				return nil
			})

		assert.NoError(t, f.service.ForgotPassword(ctx, "ann@example.com"))
	})

	t.Run("forgot password for unknown email", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().GetByEmail(gomock.Any(), "who@example.com").Return(nil, pkgerrors.ErrUserNotFound)

		err := f.service.ForgotPassword(ctx, "who@example.com")
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})

	t.Run("reset succeeds once", func(t *testing.T) {
		f := newUserFixture(t)
		token, claims, err := f.tokens.IssueReset("ann@example.com")
		require.NoError(t, err)

		f.userRepo.EXPECT().GetByEmail(gomock.Any(), "ann@example.com").Return(user, nil).Times(2)
		f.redisClient.EXPECT().SetNX(gomock.Any(), "reset:"+claims.ID, int32(2), gomock.Any()).Return(true, nil)
		f.userRepo.EXPECT().UpdatePassword(gomock.Any(), int32(2), gomock.Any()).Return(nil)
		f.redisClient.EXPECT().Del(gomock.Any(), "user:2:token").Return(nil)

		require.NoError(t, f.service.ResetPassword(ctx, token, "fresh"))

		f.redisClient.EXPECT().SetNX(gomock.Any(), "reset:"+claims.ID, int32(2), gomock.Any()).Return(false, nil)
		err = f.service.ResetPassword(ctx, token, "again")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
	})

	t.Run("failed update releases the token", func(t *testing.T) {
		f := newUserFixture(t)
		token, claims, err := f.tokens.IssueReset("ann@example.com")
		require.NoError(t, err)

		f.userRepo.EXPECT().GetByEmail(gomock.Any(), "ann@example.com").Return(user, nil)
		f.redisClient.EXPECT().SetNX(gomock.Any(), "reset:"+claims.ID, int32(2), gomock.Any()).Return(true, nil)
		f.userRepo.EXPECT().UpdatePassword(gomock.Any(), int32(2), gomock.Any()).Return(errors.New("db down"))
		f.redisClient.EXPECT().Del(gomock.Any(), "reset:"+claims.ID).Return(nil)

		assert.Error(t, f.service.ResetPassword(ctx, token, "fresh"))
	})

	t.Run("garbage token", func(t *testing.T) {
		f := newUserFixture(t)
		err := f.service.ResetPassword(ctx, "not-a-token", "fresh")
		assert.ErrorIs(t, err, pkgerrors.ErrUnauthorized)
	})

	t.Run("access token is not a reset token", func(t *testing.T) {
		f := newUserFixture(t)
		access, _, err := f.tokens.IssueAccess(2)
		require.NoError(t, err)

		err = f.service.ResetPassword(ctx, access, "fresh")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
	})
}

func TestPromotionService_PromoteGrades(t *testing.T) {
	ctx := context.Background()
	const claimTTL = 400 * 24 * time.Hour

	newPromotion := func(t *testing.T) (*promotionService, *repositorymocks.MockUserRepository, *redismocks.MockRedisClient, *kafkamocks.MockKafkaProducer) {
		ctrl := gomock.NewController(t)
		t.Cleanup(ctrl.Finish)
		userRepo := repositorymocks.NewMockUserRepository(ctrl)
		redisClient := redismocks.NewMockRedisClient(ctrl)
		kafkaProducer := kafkamocks.NewMockKafkaProducer(ctrl)
		return NewPromotionService(userRepo, redisClient, kafkaProducer), userRepo, redisClient, kafkaProducer
	}

	t.Run("successful run keeps the claim", func(t *testing.T) {
		service, userRepo, redisClient, kafkaProducer := newPromotion(t)
		redisClient.EXPECT().SetNX(gomock.Any(), "promotion:2027", gomock.Any(), claimTTL).Return(true, nil)
		userRepo.EXPECT().PromoteGrades(gomock.Any()).Return(int64(12), int64(3), nil)
		kafkaProducer.EXPECT().Send(gomock.Any(), "users", int64(0), gomock.Any()).Return(nil)

		result, err := service.PromoteGrades(ctx, 2027)
		require.NoError(t, err)
		assert.Equal(t, int64(12), result.Promoted)
		assert.Equal(t, int64(3), result.Deactivated)
	})

	t.Run("year already claimed", func(t *testing.T) {
		service, _, redisClient, _ := newPromotion(t)
		redisClient.EXPECT().SetNX(gomock.Any(), "promotion:2027", gomock.Any(), claimTTL).Return(false, nil)

		_, err := service.PromoteGrades(ctx, 2027)
		assert.ErrorIs(t, err, pkgerrors.ErrPromotionClaimed)
	})

	t.Run("database failure releases the claim", func(t *testing.T) {
		service, userRepo, redisClient, _ := newPromotion(t)
		redisClient.EXPECT().SetNX(gomock.Any(), "promotion:2027", gomock.Any(), claimTTL).Return(true, nil)
		userRepo.EXPECT().PromoteGrades(gomock.Any()).Return(int64(0), int64(0), errors.New("db down"))
		redisClient.EXPECT().Del(gomock.Any(), "promotion:2027").Return(nil)

		_, err := service.PromoteGrades(ctx, 2027)
		assert.EqualError(t, err, "db down")
	})
}

func TestPromotionService_OneRunPerYearAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	shared := newFakeRedis()
	userRepo := repositorymocks.NewMockUserRepository(ctrl)
	replicaA := NewPromotionService(userRepo, shared, nil)
	replicaB := NewPromotionService(userRepo, shared, nil)

	userRepo.EXPECT().PromoteGrades(gomock.Any()).Return(int64(5), int64(1), nil).Times(1)

	_, err := replicaA.PromoteGrades(ctx, 2027)
	require.NoError(t, err)
	// второй реплике достаётся тот же год уже после завершения первой
	_, err = replicaB.PromoteGrades(ctx, 2027)
	assert.ErrorIs(t, err, pkgerrors.ErrPromotionClaimed)
	assert.True(t, shared.has("promotion:2027"))
	assert.Equal(t, 400*24*time.Hour, shared.ttl["promotion:2027"])

	// следующий год снова выполняется
	userRepo.EXPECT().PromoteGrades(gomock.Any()).Return(int64(4), int64(2), nil).Times(1)
	_, err = replicaB.PromoteGrades(ctx, 2028)
	require.NoError(t, err)
}

func TestPromotionService_FailedRunCanBeRetried(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	shared := newFakeRedis()
	userRepo := repositorymocks.NewMockUserRepository(ctrl)
	replicaA := NewPromotionService(userRepo, shared, nil)
	replicaB := NewPromotionService(userRepo, shared, nil)

	gomock.InOrder(
		userRepo.EXPECT().PromoteGrades(gomock.Any()).Return(int64(0), int64(0), errors.New("db down")),
		userRepo.EXPECT().PromoteGrades(gomock.Any()).Return(int64(5), int64(1), nil),
	)

	_, err := replicaA.PromoteGrades(ctx, 2027)
	require.Error(t, err)
	assert.False(t, shared.has("promotion:2027"))

	_, err = replicaB.PromoteGrades(ctx, 2027)
	require.NoError(t, err)
	assert.True(t, shared.has("promotion:2027"))
}
