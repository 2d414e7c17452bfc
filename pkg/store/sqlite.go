package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dvparth/wealthbooks/pkg/apperrors"
	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// MemoryDSN keeps the database in process memory; nothing survives a restart.
const MemoryDSN = "file::memory:?cache=shared"

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// One connection: pragmas apply to it, and an in-memory database lives as long as it does.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Debug("database connection established and schema initialized", "dsn", dataSourceName)
	return s, nil
}

// initSchema creates the tables if they don't already exist.
// Decimal fields are TEXT so no precision is lost; closure details and audit metadata are JSON.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS investments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		maturity_date DATETIME NOT NULL,
		interest_calculation_frequency TEXT NOT NULL,
		interest_payout_frequency TEXT NOT NULL,
		compounding TEXT NOT NULL,
		calculation_mode TEXT NOT NULL,
		expected_maturity_amount TEXT NOT NULL DEFAULT '0',
		actual_maturity_amount TEXT,
		status TEXT NOT NULL,
		premature_closure TEXT,
		maturity_closure TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS cashflows (
		id TEXT PRIMARY KEY,
		investment_id TEXT NOT NULL,
		date DATETIME NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		financial_year TEXT NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		linked_to TEXT NOT NULL DEFAULT '',
		adjusts_cashflow_id TEXT,
		reinvested_investment_id TEXT,
		related_cashflow_id TEXT,
		metadata TEXT,
		FOREIGN KEY(investment_id) REFERENCES investments(id)
	);
	CREATE INDEX IF NOT EXISTS idx_cashflows_investment ON cashflows(investment_id, date);
	`
	_, err := s.db.Exec(schema)
	return err
}

const investmentColumns = `id, name, principal, interest_rate, start_date, maturity_date,
	interest_calculation_frequency, interest_payout_frequency, compounding, calculation_mode,
	expected_maturity_amount, actual_maturity_amount, status, premature_closure, maturity_closure,
	created_at, updated_at`

const cashflowColumns = `id, investment_id, date, type, amount, financial_year, source, status,
	description, linked_to, adjusts_cashflow_id, reinvested_investment_id, related_cashflow_id, metadata`

// translate maps driver constraint failures onto the application's sentinel errors.
func translate(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", apperrors.ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: referenced investment does not exist", apperrors.ErrNotFound)
		}
	}
	return err
}

// CreateInvestment inserts a new investment into the database.
func (s *SQLiteStore) CreateInvestment(inv *models.Investment) error {
	premature, err := marshalNullable(inv.PrematureClosure)
	if err != nil {
		return err
	}
	matured, err := marshalNullable(inv.MaturityClosure)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO investments (`+investmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID.String(), inv.Name, inv.Principal, inv.InterestRate, inv.StartDate, inv.MaturityDate,
		inv.InterestCalculationFrequency, inv.InterestPayoutFrequency, inv.Compounding, inv.CalculationMode,
		inv.ExpectedMaturityAmount, nullDecimal(inv.ActualMaturityAmount), inv.Status, premature, matured,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create investment: %w", translate(err))
	}
	return nil
}

// GetInvestment retrieves an investment by its ID.
func (s *SQLiteStore) GetInvestment(id uuid.UUID) (*models.Investment, error) {
	row := s.db.QueryRow(`SELECT `+investmentColumns+` FROM investments WHERE id = ?`, id.String())
	inv, err := scanInvestment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("investment %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get investment: %w", err)
	}
	return inv, nil
}

// UpdateInvestment updates an existing investment in the database.
func (s *SQLiteStore) UpdateInvestment(inv *models.Investment) error {
	premature, err := marshalNullable(inv.PrematureClosure)
	if err != nil {
		return err
	}
	matured, err := marshalNullable(inv.MaturityClosure)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(
		`UPDATE investments SET name = ?, principal = ?, interest_rate = ?, start_date = ?, maturity_date = ?,
		interest_calculation_frequency = ?, interest_payout_frequency = ?, compounding = ?, calculation_mode = ?,
		expected_maturity_amount = ?, actual_maturity_amount = ?, status = ?, premature_closure = ?,
		maturity_closure = ?, updated_at = ? WHERE id = ?`,
		inv.Name, inv.Principal, inv.InterestRate, inv.StartDate, inv.MaturityDate,
		inv.InterestCalculationFrequency, inv.InterestPayoutFrequency, inv.Compounding, inv.CalculationMode,
		inv.ExpectedMaturityAmount, nullDecimal(inv.ActualMaturityAmount), inv.Status, premature,
		matured, inv.UpdatedAt, inv.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update investment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("investment %s: %w", inv.ID, apperrors.ErrNotFound)
	}
	return nil
}

// DeleteInvestment removes an investment and its cashflows from the database within a transaction.
func (s *SQLiteStore) DeleteInvestment(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM cashflows WHERE investment_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete associated cashflows: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM investments WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete investment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("investment %s: %w", id, apperrors.ErrNotFound)
	}

	return tx.Commit()
}

// GetAllInvestments retrieves all investments, oldest start date first.
func (s *SQLiteStore) GetAllInvestments() ([]*models.Investment, error) {
	rows, err := s.db.Query(`SELECT ` + investmentColumns + ` FROM investments ORDER BY start_date ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all investments: %w", err)
	}
	defer rows.Close()

	return scanInvestments(rows)
}

// GetAllActiveInvestments retrieves the investments still running.
func (s *SQLiteStore) GetAllActiveInvestments() ([]*models.Investment, error) {
	rows, err := s.db.Query(`SELECT `+investmentColumns+` FROM investments WHERE status = ? ORDER BY start_date ASC, created_at ASC`,
		models.InvestmentStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get all active investments: %w", err)
	}
	defer rows.Close()

	return scanInvestments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvestment(row rowScanner) (*models.Investment, error) {
	var inv models.Investment
	var idStr string
	var actual decimal.NullDecimal
	var premature, matured sql.NullString
	err := row.Scan(&idStr, &inv.Name, &inv.Principal, &inv.InterestRate, &inv.StartDate, &inv.MaturityDate,
		&inv.InterestCalculationFrequency, &inv.InterestPayoutFrequency, &inv.Compounding, &inv.CalculationMode,
		&inv.ExpectedMaturityAmount, &actual, &inv.Status, &premature, &matured,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt investment id %q: %w", idStr, err)
	}
	if actual.Valid {
		inv.ActualMaturityAmount = &actual.Decimal
	}
	if premature.Valid {
		inv.PrematureClosure = &models.PrematureClosure{}
		if err := json.Unmarshal([]byte(premature.String), inv.PrematureClosure); err != nil {
			return nil, fmt.Errorf("corrupt premature closure for %s: %w", idStr, err)
		}
	}
	if matured.Valid {
		inv.MaturityClosure = &models.MaturityClosure{}
		if err := json.Unmarshal([]byte(matured.String), inv.MaturityClosure); err != nil {
			return nil, fmt.Errorf("corrupt maturity closure for %s: %w", idStr, err)
		}
	}
	return &inv, nil
}

func scanInvestments(rows *sql.Rows) ([]*models.Investment, error) {
	var investments []*models.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan investment row: %w", err)
		}
		investments = append(investments, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return investments, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertCashflow(db execer, cf *models.CashflowRecord) error {
	metadata, err := marshalNullable(cf.Metadata)
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO cashflows (`+cashflowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cf.ID.String(), cf.InvestmentID.String(), cf.Date, cf.Type, cf.Amount, cf.FinancialYear, cf.Source, cf.Status,
		cf.Description, cf.LinkedTo, nullUUID(cf.AdjustsCashflowID), nullUUID(cf.ReinvestedInvestmentID),
		nullUUID(cf.RelatedCashflowID), metadata,
	)
	return translate(err)
}

// CreateCashflow inserts a new cashflow record into the database.
func (s *SQLiteStore) CreateCashflow(cf *models.CashflowRecord) error {
	if err := insertCashflow(s.db, cf); err != nil {
		return fmt.Errorf("failed to create cashflow: %w", err)
	}
	return nil
}

// ReplaceCashflows deletes an investment's cashflows and inserts records in their place.
func (s *SQLiteStore) ReplaceCashflows(investmentID uuid.UUID, records []models.CashflowRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cashflows WHERE investment_id = ?`, investmentID.String()); err != nil {
		return fmt.Errorf("failed to clear cashflows for investment %s: %w", investmentID, err)
	}
	for i := range records {
		if records[i].InvestmentID != investmentID {
			return fmt.Errorf("%w: cashflow %s belongs to investment %s", apperrors.ErrValidation, records[i].ID, records[i].InvestmentID)
		}
		if err := insertCashflow(tx, &records[i]); err != nil {
			return fmt.Errorf("failed to insert cashflow %s: %w", records[i].ID, err)
		}
	}
	return tx.Commit()
}

// GetCashflowsForInvestment retrieves all cashflows for a given investment ID in date order.
func (s *SQLiteStore) GetCashflowsForInvestment(investmentID uuid.UUID) ([]*models.CashflowRecord, error) {
	rows, err := s.db.Query(`SELECT `+cashflowColumns+` FROM cashflows WHERE investment_id = ? ORDER BY date ASC, rowid ASC`,
		investmentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get cashflows for investment %s: %w", investmentID, err)
	}
	defer rows.Close()

	var cashflows []*models.CashflowRecord
	for rows.Next() {
		var cf models.CashflowRecord
		var idStr, investmentIDStr string
		var adjusts, reinvested, related uuid.NullUUID
		var metadata sql.NullString
		if err := rows.Scan(&idStr, &investmentIDStr, &cf.Date, &cf.Type, &cf.Amount, &cf.FinancialYear, &cf.Source, &cf.Status,
			&cf.Description, &cf.LinkedTo, &adjusts, &reinvested, &related, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan cashflow row: %w", err)
		}
		cf.ID = uuid.MustParse(idStr)
		cf.InvestmentID = uuid.MustParse(investmentIDStr)
		cf.AdjustsCashflowID = uuidPtr(adjusts)
		cf.ReinvestedInvestmentID = uuidPtr(reinvested)
		cf.RelatedCashflowID = uuidPtr(related)
		if metadata.Valid {
			cf.Metadata = &models.ClosureMetadata{}
			if err := json.Unmarshal([]byte(metadata.String), cf.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt metadata for cashflow %s: %w", idStr, err)
			}
		}
		cashflows = append(cashflows, &cf)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for investment cashflows: %w", err)
	}
	return cashflows, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// marshalNullable stores a nil pointer as SQL NULL and anything else as JSON text.
func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

// IsMemoryDSN reports whether dsn names an in-memory database.
func IsMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
