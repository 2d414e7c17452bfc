package store

import (
	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/google/uuid"
)

// Storage defines the interface for database operations related to investments and their cashflow ledgers.
type Storage interface {
	CreateInvestment(inv *models.Investment) error
	GetInvestment(id uuid.UUID) (*models.Investment, error)
	UpdateInvestment(inv *models.Investment) error
	DeleteInvestment(id uuid.UUID) error
	GetAllInvestments() ([]*models.Investment, error)
	GetAllActiveInvestments() ([]*models.Investment, error)

	CreateCashflow(cf *models.CashflowRecord) error
	GetCashflowsForInvestment(investmentID uuid.UUID) ([]*models.CashflowRecord, error)
	// ReplaceCashflows swaps an investment's whole ledger atomically.
	ReplaceCashflows(investmentID uuid.UUID, records []models.CashflowRecord) error

	Close() error
}
