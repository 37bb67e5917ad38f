package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/honeynil/EquipmentLendingService/internal/models"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const userColumns = `id, name, email, grade, password_hash, is_admin, is_active, created_at, updated_at`

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Grade, &u.PasswordHash, &u.IsAdmin, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) (err error) {
	ctx, done := observe(ctx, "user-repository", "CreateUser")
	defer done(&err)

	if user == nil {
		err = pkgerrors.ErrNilUser
		slog.Error("failed to create user", "method", "Create", "error", err)
		return err
	}
	if strings.TrimSpace(user.Name) == "" || user.Email == "" || user.PasswordHash == "" {
		err = fmt.Errorf("%w: name, email and password are required", pkgerrors.ErrInvalidInput)
		return err
	}
	if !user.Grade.Valid() {
		err = pkgerrors.ErrInvalidGrade
		return err
	}

	query := `INSERT INTO users (name, email, grade, password_hash, is_admin, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, user.Name, user.Email, string(user.Grade), user.PasswordHash, user.IsAdmin, user.IsActive).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if pqCode(err) == uniqueViolation {
		slog.Warn("email already registered", "method", "Create", "email", user.Email)
		return pkgerrors.ErrEmailExists
	}
	if err != nil {
		slog.Error("failed to create user", "method", "Create", "email", user.Email, "error", err)
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created", "method", "Create", "user_id", user.ID)
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int32) (_ *models.User, err error) {
	ctx, done := observe(ctx, "user-repository", "GetUserByID", attribute.Int("user_id", int(id)))
	defer done(&err)

	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get user by id", "method", "GetByID", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (_ *models.User, err error) {
	ctx, done := observe(ctx, "user-repository", "GetUserByEmail")
	defer done(&err)

	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get user by email", "method", "GetByEmail", "error", err)
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) List(ctx context.Context, skip, limit int) (_ []models.User, err error) {
	ctx, done := observe(ctx, "user-repository", "ListUsers")
	defer done(&err)

	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		slog.Error("failed to list users", "method", "List", "error", err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		u, scanErr := scanUser(rows)
		if scanErr != nil {
			err = scanErr
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func (r *PostgresUserRepository) Update(ctx context.Context, user *models.User) (err error) {
	ctx, done := observe(ctx, "user-repository", "UpdateUser")
	defer done(&err)

	if user == nil {
		err = pkgerrors.ErrNilUser
		return err
	}

	// пустой хеш оставляет пароль как есть
	query := `UPDATE users SET name = $2, email = $3, grade = $4, is_admin = $5, is_active = $6,
			password_hash = COALESCE(NULLIF($7, ''), password_hash), updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err = r.db.QueryRowContext(ctx, query, user.ID, user.Name, user.Email, string(user.Grade), user.IsAdmin, user.IsActive, user.PasswordHash).
		Scan(&user.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return err
	}
	if pqCode(err) == uniqueViolation {
		return pkgerrors.ErrEmailExists
	}
	if err != nil {
		slog.Error("failed to update user", "method", "Update", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to update user: %w", err)
	}

	slog.Info("user updated", "method", "Update", "user_id", user.ID)
	return nil
}

func (r *PostgresUserRepository) UpdatePassword(ctx context.Context, id int32, passwordHash string) (err error) {
	ctx, done := observe(ctx, "user-repository", "UpdatePassword", attribute.Int("user_id", int(id)))
	defer done(&err)

	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		slog.Error("failed to update password", "method", "UpdatePassword", "user_id", id, "error", err)
		return fmt.Errorf("failed to update password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		err = pkgerrors.ErrUserNotFound
		return err
	}
	return nil
}

func (r *PostgresUserRepository) Delete(ctx context.Context, id int32) (_ bool, err error) {
	ctx, done := observe(ctx, "user-repository", "DeleteUser", attribute.Int("user_id", int(id)))
	defer done(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		slog.Error("failed to delete user", "method", "Delete", "user_id", id, "error", err)
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	slog.Info("user deleted", "method", "Delete", "user_id", id, "found", n > 0)
	return n > 0, nil
}

func (r *PostgresUserRepository) PromoteGrades(ctx context.Context) (promoted, deactivated int64, err error) {
	ctx, done := observe(ctx, "user-repository", "PromoteGrades")
	defer done(&err)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "PromoteGrades", "error", err)
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	rollback := func(cause error) error {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "PromoteGrades", "error", rbErr)
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, cause)
		}
		return cause
	}

	// Users who reached OB_OG in an earlier run leave first, so this run's
	// M2 -> OB_OG promotions stay active for one more year.
	res, err := dbTx.ExecContext(ctx, `UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE grade = 'OB_OG' AND is_active`)
	if err != nil {
		err = rollback(fmt.Errorf("failed to deactivate graduates: %w", err))
		return 0, 0, err
	}
	if deactivated, err = res.RowsAffected(); err != nil {
		err = rollback(err)
		return 0, 0, err
	}

	res, err = dbTx.ExecContext(ctx, `UPDATE users
		SET grade = CASE grade WHEN 'U4' THEN 'M1' WHEN 'M1' THEN 'M2' WHEN 'M2' THEN 'OB_OG' END,
			updated_at = NOW()
		WHERE grade IN ('U4', 'M1', 'M2')`)
	if err != nil {
		err = rollback(fmt.Errorf("failed to promote grades: %w", err))
		return 0, 0, err
	}
	if promoted, err = res.RowsAffected(); err != nil {
		err = rollback(err)
		return 0, 0, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "PromoteGrades", "error", err)
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("grades promoted", "method", "PromoteGrades", "promoted", promoted, "deactivated", deactivated)
	return promoted, deactivated, nil
}
