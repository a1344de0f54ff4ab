package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carcare/internal/models"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLStore keeps users and records in sqlite3 or mysql. Indicators, readings
// and mechanic expertise are stored as JSON text.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CreateRecord assigns an ID and timestamp when missing and inserts rec.
func (s *SQLStore) CreateRecord(ctx context.Context, rec *models.DiagnosticRecord) error {
	if rec.UserID == "" {
		return errors.New("record has no owner")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	indicators := rec.Indicators
	if indicators == nil {
		indicators = []models.Indicator{}
	}
	indicatorsJSON, err := json.Marshal(indicators)
	if err != nil {
		return fmt.Errorf("encode indicators: %w", err)
	}
	var readings sql.NullString
	if rec.Readings != nil {
		b, err := json.Marshal(rec.Readings)
		if err != nil {
			return fmt.Errorf("encode readings: %w", err)
		}
		readings = sql.NullString{String: string(b), Valid: true}
	}
	var tutorial sql.NullString
	if rec.TutorialVideo != nil {
		tutorial = sql.NullString{String: *rec.TutorialVideo, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO diagnostic_records
		(id, user_id, kind, tutorial_video, summary, fault, severity, status, recommendation, indicators, readings, schema_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Kind), tutorial, rec.Summary, rec.Fault, string(rec.Severity),
		rec.Status, rec.Recommendation, string(indicatorsJSON), readings, rec.SchemaVersion, rec.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert diagnostic record: %w", err)
	}
	return nil
}

func (s *SQLStore) ListRecordsByUser(ctx context.Context, userID string) ([]models.DiagnosticRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, kind, tutorial_video, summary, fault, severity, status,
		recommendation, indicators, readings, schema_version, created_at
		FROM diagnostic_records WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostic records: %w", err)
	}
	defer rows.Close()

	records := []models.DiagnosticRecord{}
	for rows.Next() {
		var (
			rec        models.DiagnosticRecord
			kind       string
			severity   string
			tutorial   sql.NullString
			indicators string
			readings   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &kind, &tutorial, &rec.Summary, &rec.Fault, &severity, &rec.Status,
			&rec.Recommendation, &indicators, &readings, &rec.SchemaVersion, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan diagnostic record: %w", err)
		}
		rec.Kind = models.Kind(kind)
		rec.Severity = models.Severity(severity)
		if tutorial.Valid {
			v := tutorial.String
			rec.TutorialVideo = &v
		}
		if err := json.Unmarshal([]byte(indicators), &rec.Indicators); err != nil {
			return nil, fmt.Errorf("decode indicators of %s: %w", rec.ID, err)
		}
		if readings.Valid {
			rec.Readings = &models.Readings{}
			if err := json.Unmarshal([]byte(readings.String), rec.Readings); err != nil {
				return nil, fmt.Errorf("decode readings of %s: %w", rec.ID, err)
			}
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CreateUser inserts u and, for mechanics, its profile in one transaction.
func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO users (id, email, phone, name, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Phone, u.Name, string(u.Role), u.PasswordHash, u.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	if u.Mechanic != nil {
		expertise := u.Mechanic.Expertise
		if expertise == nil {
			expertise = []string{}
		}
		b, err := json.Marshal(expertise)
		if err != nil {
			return fmt.Errorf("encode expertise: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO mechanic_profiles (user_id, expertise, rating, location)
			VALUES (?, ?, ?, ?)`, u.ID, string(b), u.Mechanic.Rating, u.Mechanic.Location); err != nil {
			return fmt.Errorf("insert mechanic profile: %w", err)
		}
	}
	return tx.Commit()
}

const userColumns = `u.id, u.email, u.phone, u.name, u.role, u.password_hash, u.created_at,
	m.expertise, m.rating, m.location`

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+`
		FROM users u LEFT JOIN mechanic_profiles m ON m.user_id = u.id
		WHERE u.email = ?`, email)
	return scanUser(row)
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+`
		FROM users u LEFT JOIN mechanic_profiles m ON m.user_id = u.id
		WHERE u.id = ?`, id)
	return scanUser(row)
}

// ListMechanics returns mechanics, best rated first.
func (s *SQLStore) ListMechanics(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+`
		FROM users u LEFT JOIN mechanic_profiles m ON m.user_id = u.id
		WHERE u.role = ? ORDER BY m.rating DESC, u.name ASC`, string(models.RoleMechanic))
	if err != nil {
		return nil, fmt.Errorf("query mechanics: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		role      string
		expertise sql.NullString
		rating    sql.NullFloat64
		location  sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.Name, &role, &u.PasswordHash, &u.CreatedAt,
		&expertise, &rating, &location)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = models.UserRole(role)
	u.CreatedAt = u.CreatedAt.UTC()
	if expertise.Valid {
		profile := &models.MechanicProfile{Rating: rating.Float64, Location: location.String}
		if err := json.Unmarshal([]byte(expertise.String), &profile.Expertise); err != nil {
			return nil, fmt.Errorf("decode expertise of %s: %w", u.ID, err)
		}
		u.Mechanic = profile
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
