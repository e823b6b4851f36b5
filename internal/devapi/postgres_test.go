package devapi

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres")), mock
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS patients").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (id INT);\n\n  CREATE TABLE b (id INT);\n")
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"}, got)
}

func TestPostgresCreateUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	u, err := store.CreateUser(context.Background(), User{Username: "ada", Email: "ada@example.com", Role: "user"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.True(t, u.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateUserDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})
	_, err := store.CreateUser(context.Background(), User{Username: "ada"})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})
	_, err = store.CreateUser(context.Background(), User{Username: "ada"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestPostgresGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetUserByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresListPatients(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "first_name", "last_name", "date_of_birth", "gender", "address",
		"phone_number", "email", "medical_history", "is_active",
	}).
		AddRow(1, "Grace", "Hopper", "1906-12-09", "", "", "", "grace@example.com", "", true).
		AddRow(2, "Alan", "Turing", "1912-06-23", "", "", "", "alan@example.com", "", true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM patients ORDER BY id OFFSET $1 LIMIT $2")).
		WithArgs(0, 100).
		WillReturnRows(rows)

	patients, err := store.ListPatients(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, "alan@example.com", patients[1].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeletePatient(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM patients WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.DeletePatient(context.Background(), 3))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM patients WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.DeletePatient(context.Background(), 3), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
