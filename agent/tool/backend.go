package tool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSlotTaken reports a booking collision on a specialist slot.
var ErrSlotTaken = errors.New("slot already booked")

type CustomerProfile struct {
	CompanyName    string `json:"company_name"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Domain         string `json:"domain,omitempty"`
	Phone          string `json:"phone,omitempty"`
	RequestDate    string `json:"request_date,omitempty"`
	RequestSummary string `json:"request_summary,omitempty"`
}

type CustomerRecord struct {
	CustomerID string          `json:"customer_id"`
	Profile    CustomerProfile `json:"profile"`
	// Created is false when an existing profile matched by email was reused.
	Created   bool      `json:"created"`
	CreatedAt time.Time `json:"created_at"`
}

type BookingRequest struct {
	CustomerID   string
	SpecialistID string
	StartsAt     time.Time
	Reason       string
	// DedupToken is stable across retries of the same logical booking; a
	// replayed token returns the original appointment instead of a new row.
	DedupToken string
}

type Appointment struct {
	AppointmentID string    `json:"appointment_id"`
	CustomerID    string    `json:"customer_id"`
	SpecialistID  string    `json:"specialist_id"`
	StartsAt      time.Time `json:"starts_at"`
	Reason        string    `json:"reason"`
	Replayed      bool      `json:"-"`
}

// Backend is the transactional system of record for customers and
// appointments. Session checkpoints live elsewhere; the backend only holds
// business rows.
type Backend interface {
	OnboardCustomer(ctx context.Context, profile CustomerProfile) (CustomerRecord, error)
	BookedSlots(ctx context.Context, specialistID string, from, to time.Time) (map[int64]bool, error)
	BookAppointment(ctx context.Context, req BookingRequest) (Appointment, error)
}

// SQLiteBackend stores business rows in SQLite. It is safe to share the
// handle with the session checkpoint store.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	if db == nil {
		return nil, errors.New("nil database handle")
	}
	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize backend schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		company_name TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		domain TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		request_date TEXT NOT NULL DEFAULT '',
		request_summary TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS appointments (
		appointment_id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		specialist_id TEXT NOT NULL,
		slot_at INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		dedup_token TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		UNIQUE (specialist_id, slot_at)
	);
	`
	_, err := b.db.Exec(query)
	return err
}

// OnboardCustomer creates a profile, or returns the existing one when the
// email is already registered. Identifier assignment is sequential so that
// customer ids stay human-readable.
func (b *SQLiteBackend) OnboardCustomer(ctx context.Context, profile CustomerProfile) (CustomerRecord, error) {
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email == "" {
		return CustomerRecord{}, errors.New("email is required")
	}
	profile.Email = email

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return CustomerRecord{}, fmt.Errorf("begin onboarding: %w", err)
	}
	defer tx.Rollback()

	existing, err := b.customerByEmail(ctx, tx, email)
	if err == nil {
		return existing, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return CustomerRecord{}, fmt.Errorf("lookup customer: %w", err)
	}

	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&count); err != nil {
		return CustomerRecord{}, fmt.Errorf("count customers: %w", err)
	}

	record := CustomerRecord{
		CustomerID: fmt.Sprintf("CUST-%03d", count+1),
		Profile:    profile,
		Created:    true,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO customers
		 (customer_id, company_name, name, email, domain, phone, request_date, request_summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CustomerID, profile.CompanyName, profile.Name, profile.Email,
		profile.Domain, profile.Phone, profile.RequestDate, profile.RequestSummary,
		record.CreatedAt.Unix(),
	); err != nil {
		return CustomerRecord{}, fmt.Errorf("insert customer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return CustomerRecord{}, fmt.Errorf("commit onboarding: %w", err)
	}
	return record, nil
}

func (b *SQLiteBackend) customerByEmail(ctx context.Context, tx *sql.Tx, email string) (CustomerRecord, error) {
	var rec CustomerRecord
	var createdAt int64
	err := tx.QueryRowContext(ctx,
		`SELECT customer_id, company_name, name, email, domain, phone, request_date, request_summary, created_at
		 FROM customers WHERE email = ?`, email,
	).Scan(
		&rec.CustomerID, &rec.Profile.CompanyName, &rec.Profile.Name, &rec.Profile.Email,
		&rec.Profile.Domain, &rec.Profile.Phone, &rec.Profile.RequestDate, &rec.Profile.RequestSummary,
		&createdAt,
	)
	if err != nil {
		return CustomerRecord{}, err
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return rec, nil
}

// BookedSlots returns the taken slot starts for one specialist, keyed by
// unix seconds.
func (b *SQLiteBackend) BookedSlots(ctx context.Context, specialistID string, from, to time.Time) (map[int64]bool, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT slot_at FROM appointments WHERE specialist_id = ? AND slot_at >= ? AND slot_at < ?`,
		specialistID, from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query booked slots: %w", err)
	}
	defer rows.Close()

	taken := make(map[int64]bool)
	for rows.Next() {
		var at int64
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan booked slot: %w", err)
		}
		taken[at] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booked slots: %w", err)
	}
	return taken, nil
}

// BookAppointment books a slot at most once per dedup token: a replayed
// token returns the original appointment unchanged.
func (b *SQLiteBackend) BookAppointment(ctx context.Context, req BookingRequest) (Appointment, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return Appointment{}, fmt.Errorf("begin booking: %w", err)
	}
	defer tx.Rollback()

	if prior, err := b.appointmentByToken(ctx, tx, req.DedupToken); err == nil {
		prior.Replayed = true
		return prior, tx.Commit()
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Appointment{}, fmt.Errorf("lookup booking token: %w", err)
	}

	var clash int64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments WHERE specialist_id = ? AND slot_at = ?`,
		req.SpecialistID, req.StartsAt.Unix(),
	).Scan(&clash)
	if err != nil {
		return Appointment{}, fmt.Errorf("check slot: %w", err)
	}
	if clash > 0 {
		return Appointment{}, ErrSlotTaken
	}

	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments`).Scan(&count); err != nil {
		return Appointment{}, fmt.Errorf("count appointments: %w", err)
	}

	appt := Appointment{
		AppointmentID: fmt.Sprintf("APT-%d", 1000+count+1),
		CustomerID:    req.CustomerID,
		SpecialistID:  req.SpecialistID,
		StartsAt:      req.StartsAt.UTC(),
		Reason:        req.Reason,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO appointments (appointment_id, customer_id, specialist_id, slot_at, reason, dedup_token, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		appt.AppointmentID, appt.CustomerID, appt.SpecialistID, appt.StartsAt.Unix(),
		appt.Reason, req.DedupToken, time.Now().UTC().Unix(),
	); err != nil {
		return Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Appointment{}, fmt.Errorf("commit booking: %w", err)
	}
	return appt, nil
}

func (b *SQLiteBackend) appointmentByToken(ctx context.Context, tx *sql.Tx, token string) (Appointment, error) {
	var appt Appointment
	var slotAt int64
	err := tx.QueryRowContext(ctx,
		`SELECT appointment_id, customer_id, specialist_id, slot_at, reason
		 FROM appointments WHERE dedup_token = ?`, token,
	).Scan(&appt.AppointmentID, &appt.CustomerID, &appt.SpecialistID, &slotAt, &appt.Reason)
	if err != nil {
		return Appointment{}, err
	}
	appt.StartsAt = time.Unix(slotAt, 0).UTC()
	return appt, nil
}
