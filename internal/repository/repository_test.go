package repository

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")
	os.Exit(m.Run())
}

var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		mobile_number VARCHAR(20) NOT NULL UNIQUE,
		first_name VARCHAR(100) NULL,
		last_name VARCHAR(100) NULL,
		role VARCHAR(32) NOT NULL,
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		customer_id BIGINT UNSIGNED NOT NULL,
		partner_id BIGINT UNSIGNED NULL,
		pickup_address VARCHAR(500) NOT NULL,
		delivery_address VARCHAR(500) NOT NULL,
		customer_notes TEXT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		cancellation_reason TEXT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		assigned_at DATETIME NULL,
		started_at DATETIME NULL,
		reached_at DATETIME NULL,
		collected_at DATETIME NULL,
		delivered_at DATETIME NULL,
		cancelled_at DATETIME NULL,
		KEY idx_bookings_customer (customer_id),
		KEY idx_bookings_partner (partner_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS booking_status_logs (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		booking_id BIGINT UNSIGNED NOT NULL,
		from_status VARCHAR(20) NOT NULL,
		to_status VARCHAR(20) NOT NULL,
		changed_by BIGINT UNSIGNED NOT NULL,
		notes TEXT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_status_logs_booking (booking_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		booking_id BIGINT UNSIGNED NOT NULL,
		sender_id BIGINT UNSIGNED NOT NULL,
		sender_role VARCHAR(32) NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		KEY idx_chat_messages_booking (booking_id, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

// setupTestDB connects to the database named by the DB_* environment
// variables and provisions a clean schema. Tests are skipped entirely
// when no database is reachable.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	host := os.Getenv("DB_HOST")
	if host == "" {
		t.Skip("Skipping: DB_HOST not set")
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "3306"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), host, port, os.Getenv("DB_NAME"))

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("Skipping: could not connect to test database: %v", err)
		return nil
	}
	if err := db.Ping(); err != nil {
		t.Skipf("Skipping: could not ping test database: %v", err)
		return nil
	}

	for _, stmt := range testSchema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("create test schema: %v", err)
		}
	}
	resetTables(t, db)
	t.Cleanup(func() {
		resetTables(t, db)
		db.Close()
	})
	return db
}

func resetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"chat_messages", "booking_status_logs", "bookings", "users"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("clear %s: %v", table, err)
		}
		if _, err := db.Exec("ALTER TABLE " + table + " AUTO_INCREMENT = 1"); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}

// seedUser inserts a user row and returns its id.
func seedUser(t *testing.T, db *sql.DB, mobile, first, last, role string, active bool) uint64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO users (mobile_number, first_name, last_name, role, is_active) VALUES (?, ?, ?, ?, ?)`,
		mobile, first, last, role, active)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	id, _ := res.LastInsertId()
	return uint64(id)
}
