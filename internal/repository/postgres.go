package repository

import (
	"context"
	"errors"
	"fmt"

	"chatline-backend/internal/models"
	"chatline-backend/internal/repository/zapadapter"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

const userColumns = `id, username, email, password_hash, COALESCE(push_token, ''),
        COALESCE(location_ciphertext, ''), COALESCE(location_iv, ''), created_at, updated_at`

// PostgresStore is the PostgreSQL implementation of Store
type PostgresStore struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// NewPostgresStore creates the connection pool and routes pgx logs into logger
func NewPostgresStore(ctx context.Context, logger *zap.SugaredLogger, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse database url: %w", err)
	}
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   zapadapter.NewLogger(logger.Desugar()),
		LogLevel: tracelog.LogLevelWarn,
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("could not create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not ping database: %w", err)
	}

	logger.Info("PostgreSQL connection pool established")
	return &PostgresStore{logger: logger, db: pool}, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.db.Close()
}

// RunMigrations executes the migration script
func (s *PostgresStore) RunMigrations(ctx context.Context, migrationSQL string) error {
	_, err := s.db.Exec(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("failed to run migration: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.PushToken,
		&user.LocationCiphertext,
		&user.LocationIV,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) queryUsers(ctx context.Context, sql string, args ...any) ([]*models.User, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	// empty slice rather than nil keeps the JSON consistent
	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// --- UserStore ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	s.logger.Debugf("Creating user (%s)", user.Email)

	sql := `
        INSERT INTO users (username, email, password_hash, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id`

	err := s.db.QueryRow(ctx, sql,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Debugf("Created user (%s) with id %d", user.Email, user.ID)
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(s.db.QueryRow(ctx, sql, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetAllUsers(ctx context.Context, exceptID int64) ([]*models.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE id <> $1 ORDER BY username, id`
	return s.queryUsers(ctx, sql, exceptID)
}

func (s *PostgresStore) GetUsersWithLocation(ctx context.Context, exceptID int64) ([]*models.User, error) {
	sql := `
        SELECT ` + userColumns + `
        FROM users
        WHERE id <> $1 AND location_ciphertext IS NOT NULL AND location_iv IS NOT NULL
        ORDER BY username, id`
	return s.queryUsers(ctx, sql, exceptID)
}

func (s *PostgresStore) UpdatePushToken(ctx context.Context, id int64, token string) error {
	sql := `UPDATE users SET push_token = NULLIF($2, ''), updated_at = now() WHERE id = $1`
	return s.updateUser(ctx, sql, id, token)
}

func (s *PostgresStore) UpdateLocation(ctx context.Context, id int64, ciphertext, iv string) error {
	sql := `
        UPDATE users
        SET location_ciphertext = $2, location_iv = $3, updated_at = now()
        WHERE id = $1`
	return s.updateUser(ctx, sql, id, ciphertext, iv)
}

func (s *PostgresStore) updateUser(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) GetPushTokens(ctx context.Context, ids []int64) ([]string, error) {
	tokens := []string{}
	if len(ids) == 0 {
		return tokens, nil
	}

	sql := `
        SELECT push_token
        FROM users
        WHERE id = ANY($1) AND push_token IS NOT NULL AND push_token <> ''`

	rows, err := s.db.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query push tokens: %w", err)
	}

	tokens, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect push tokens: %w", err)
	}
	return tokens, nil
}

// --- MessageStore ---

func (s *PostgresStore) CreateMessage(ctx context.Context, message *models.Message) error {
	s.logger.Debugf("Creating message from user (id: %d) to user (id: %d)", message.SenderID, message.ReceiverID)

	sql := `
        INSERT INTO messages (sender_id, receiver_id, content, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id`

	err := s.db.QueryRow(ctx, sql,
		message.SenderID,
		message.ReceiverID,
		message.Content,
		message.CreatedAt,
		message.UpdatedAt,
	).Scan(&message.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, userA, userB int64, limit int) ([]*models.Message, error) {
	sql := `
        SELECT id, sender_id, receiver_id, content, created_at, updated_at
        FROM (
            SELECT id, sender_id, receiver_id, content, created_at, updated_at
            FROM messages
            WHERE LEAST(sender_id, receiver_id) = LEAST($1::bigint, $2::bigint)
              AND GREATEST(sender_id, receiver_id) = GREATEST($1::bigint, $2::bigint)
            ORDER BY created_at DESC, id DESC
            LIMIT $3
        ) recent
        ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(ctx, sql, userA, userB, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		m := &models.Message{}
		err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))
	return messages, nil
}
