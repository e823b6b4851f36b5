package devapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := Migrate(ctx, db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const userColumns = `id, username, email, first_name, last_name, role, is_active, hashed_password`

const patientColumns = `id, first_name, last_name, date_of_birth, gender, address, phone_number, email, medical_history, is_active`

// --- users ------------------------------------------------------------------

func (s *PostgresStore) CreateUser(ctx context.Context, u User) (User, error) {
	u.IsActive = true
	rows, err := s.db.NamedQueryContext(ctx, `
		INSERT INTO users (username, email, first_name, last_name, role, is_active, hashed_password)
		VALUES (:username, :email, :first_name, :last_name, :role, :is_active, :hashed_password)
		RETURNING id
	`, u)
	if err != nil {
		return User{}, translateUnique(err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&u.ID); err != nil {
			return User{}, err
		}
	}
	return u, rows.Err()
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return u, translateNoRows(err)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return u, translateNoRows(err)
}

// --- patients ---------------------------------------------------------------

func (s *PostgresStore) CreatePatient(ctx context.Context, p Patient) (Patient, error) {
	p.IsActive = true
	rows, err := s.db.NamedQueryContext(ctx, `
		INSERT INTO patients (first_name, last_name, date_of_birth, gender, address, phone_number, email, medical_history, is_active)
		VALUES (:first_name, :last_name, :date_of_birth, :gender, :address, :phone_number, :email, :medical_history, :is_active)
		RETURNING id
	`, p)
	if err != nil {
		return Patient{}, translateUnique(err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&p.ID); err != nil {
			return Patient{}, err
		}
	}
	return p, rows.Err()
}

func (s *PostgresStore) GetPatient(ctx context.Context, id int64) (Patient, error) {
	var p Patient
	err := s.db.GetContext(ctx, &p, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return p, translateNoRows(err)
}

func (s *PostgresStore) ListPatients(ctx context.Context, skip, limit int) ([]Patient, error) {
	patients := []Patient{}
	err := s.db.SelectContext(ctx, &patients,
		`SELECT `+patientColumns+` FROM patients ORDER BY id OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, err
	}
	return patients, nil
}

func (s *PostgresStore) UpdatePatient(ctx context.Context, p Patient) (Patient, error) {
	result, err := s.db.NamedExecContext(ctx, `
		UPDATE patients
		SET first_name = :first_name, last_name = :last_name, date_of_birth = :date_of_birth,
		    gender = :gender, address = :address, phone_number = :phone_number,
		    email = :email, medical_history = :medical_history
		WHERE id = :id
	`, p)
	if err != nil {
		return Patient{}, translateUnique(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return Patient{}, ErrNotFound
	}
	return s.GetPatient(ctx, p.ID)
}

func (s *PostgresStore) DeletePatient(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func translateNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// translateUnique maps unique violations to the store's duplicate errors.
func translateUnique(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case "users_username_key":
		return ErrUsernameTaken
	default:
		return ErrEmailTaken
	}
}
