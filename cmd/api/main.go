package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvparth/wealthbooks/pkg/apperrors"
	"github.com/dvparth/wealthbooks/pkg/closure"
	"github.com/dvparth/wealthbooks/pkg/config"
	"github.com/dvparth/wealthbooks/pkg/ledger"
	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/dvparth/wealthbooks/pkg/observability"
	"github.com/dvparth/wealthbooks/pkg/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// Server holds the ledger instance.
type Server struct {
	ledger   *ledger.Ledger
	validate *validator.Validate
	logger   *slog.Logger
}

func NewServer(s store.Storage, logger *slog.Logger, opts ...ledger.Option) *Server {
	return &Server{
		ledger:   ledger.NewLedger(s, append([]ledger.Option{ledger.WithLogger(logger)}, opts...)...),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Routes wires every handler onto a new router.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/investments/preview", s.previewHandler).Methods("POST")
	router.HandleFunc("/investments", s.listInvestmentsHandler).Methods("GET")
	router.HandleFunc("/investments", s.createInvestmentHandler).Methods("POST")
	router.HandleFunc("/investments/{id}", s.getInvestmentHandler).Methods("GET")
	router.HandleFunc("/investments/{id}", s.deleteInvestmentHandler).Methods("DELETE")
	router.HandleFunc("/investments/{id}/schedule", s.scheduleHandler).Methods("GET")
	router.HandleFunc("/investments/{id}/summary", s.summaryHandler).Methods("GET")
	router.HandleFunc("/investments/{id}/cashflows", s.listCashflowsHandler).Methods("GET")
	router.HandleFunc("/investments/{id}/cashflows", s.addCashflowHandler).Methods("POST")
	router.HandleFunc("/investments/{id}/regenerate", s.regenerateHandler).Methods("POST")
	router.HandleFunc("/investments/{id}/closure", s.closureHandler).Methods("POST")
	router.HandleFunc("/investments/{id}/maturity", s.maturityHandler).Methods("POST")
	router.HandleFunc("/investments/{id}/actual-maturity-amount", s.actualMaturityHandler).Methods("PUT")
	return router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

type investmentRequest struct {
	Name                         string           `json:"name" validate:"max=120"`
	Principal                    decimal.Decimal  `json:"principal"`
	InterestRate                 decimal.Decimal  `json:"interest_rate"`
	StartDate                    string           `json:"start_date" validate:"required,datetime=2006-01-02"`
	MaturityDate                 string           `json:"maturity_date" validate:"required,datetime=2006-01-02"`
	InterestCalculationFrequency string           `json:"interest_calculation_frequency" validate:"omitempty,oneof=monthly quarterly yearly"`
	InterestPayoutFrequency      string           `json:"interest_payout_frequency" validate:"omitempty,oneof=monthly quarterly yearly maturity"`
	Compounding                  string           `json:"compounding" validate:"omitempty,oneof=yes no"`
	CalculationMode              string           `json:"calculation_mode" validate:"omitempty,oneof=fractional bank"`
	ActualMaturityAmount         *decimal.Decimal `json:"actual_maturity_amount"`
}

func (req investmentRequest) toInvestment() models.Investment {
	start, _ := time.Parse(time.DateOnly, req.StartDate)
	maturityDate, _ := time.Parse(time.DateOnly, req.MaturityDate)
	return models.Investment{
		Name:                         req.Name,
		Principal:                    req.Principal,
		InterestRate:                 req.InterestRate,
		StartDate:                    start,
		MaturityDate:                 maturityDate,
		InterestCalculationFrequency: models.Frequency(req.InterestCalculationFrequency),
		InterestPayoutFrequency:      models.Frequency(req.InterestPayoutFrequency),
		Compounding:                  models.Compounding(req.Compounding),
		CalculationMode:              models.CalculationMode(req.CalculationMode),
		ActualMaturityAmount:         req.ActualMaturityAmount,
	}
}

type cashflowRequest struct {
	Date                   string          `json:"date" validate:"required,datetime=2006-01-02"`
	Type                   string          `json:"type" validate:"required"`
	Amount                 decimal.Decimal `json:"amount"`
	Status                 string          `json:"status" validate:"omitempty,oneof=planned confirmed adjusted"`
	Description            string          `json:"description" validate:"max=500"`
	LinkedTo               string          `json:"linked_to" validate:"omitempty,oneof=MATURITY"`
	AdjustsCashflowID      string          `json:"adjusts_cashflow_id" validate:"omitempty,uuid"`
	ReinvestedInvestmentID string          `json:"reinvested_investment_id" validate:"omitempty,uuid"`
}

type closureRequest struct {
	ClosureDate        string          `json:"closure_date" validate:"required,datetime=2006-01-02"`
	PenaltyRatePercent decimal.Decimal `json:"penalty_rate_percent"`
	PenaltyAmount      decimal.Decimal `json:"penalty_amount"`
}

type maturityRequest struct {
	ActualPayout *decimal.Decimal `json:"actual_payout"`
}

type actualMaturityRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// decode reads a JSON body into dst and runs its validation tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, apperrors.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrClosed), errors.Is(err, apperrors.ErrDuplicate):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func investmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid investment ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// asOf reads the optional as_of query parameter, defaulting to the ledger's today.
func (s *Server) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return s.ledger.Today(), true
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		http.Error(w, "as_of must be a date in YYYY-MM-DD form", http.StatusBadRequest)
		return time.Time{}, false
	}
	return t, true
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	var req investmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	asOf, ok := s.asOf(w, r)
	if !ok {
		return
	}
	preview, err := s.ledger.Preview(req.toInvestment(), asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, preview)
}

func (s *Server) createInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	var req investmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	inv, err := s.ledger.CreateInvestment(req.toInvestment())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) getInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := investmentID(w, r)
	if !ok {
		return
	}
	inv, err := s.ledger.GetInvestment(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inv)
}

func (s *Server) listInvestmentsHandler(w http.ResponseWriter, r *http.Request) {
	investments, err := s.ledger.ListInvestments()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if investments == nil {
		investments = []*models.Investment{}
	}
	s.writeJSON(w, http.StatusOK, investments)
}

func (s *Server) deleteInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := investmentID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteInvestment(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := investmentID(w, r)
	if !ok {
		return
	}
	asOf, ok := s.asOf(w, r)
	if !ok {
		return
	}
	sched, err := s.ledger.Schedule(id, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sched)
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := investmentID(w, r)
	if !ok {
		return
	}
	asOf, ok := s.asOf(w, r)
	if !ok {
		return
	}
	summary, err := s.ledger.Summary(id, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listCashflowsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := investmentID(w, r)
	if !ok {
		return
	}
	records, err := s.ledger.Cashflows(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []models.CashflowRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) addCashflowHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := investmentID(w, r)
	if !ok {
		return
	}
	var req cashflowRequest
	if !s.decode(w, r, &req) {
		return
	}
	cfType, err := models.ParseCashflowType(req.Type)
	if err != nil {
		s.writeError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	rec := models.CashflowRecord{
		Date:        date,
		Type:        cfType,
		Amount:      req.Amount,
		Status:      models.CashflowStatus(req.Status),
		Description: req.Description,
		LinkedTo:    req.LinkedTo,
	}
	if req.AdjustsCashflowID != "" {
		adjusts := uuid.MustParse(req.AdjustsCashflowID)
		rec.AdjustsCashflowID = &adjusts
	}
	if req.ReinvestedInvestmentID != "" {
		target := uuid.MustParse(req.ReinvestedInvestmentID)
		rec.ReinvestedInvestmentID = &target
	}

	created, err := s.ledger.AddCashflow(id, rec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) regenerateHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := investmentID(w, r)
	if !ok {
		return
	}
	asOf, ok := s.asOf(w, r)
	if !ok {
		return
	}
	records, err := s.ledger.RegenerateCashflows(id, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) closureHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := investmentID(w, r)
	if !ok {
		return
	}
	var req closureRequest
	if !s.decode(w, r, &req) {
		return
	}
	closureDate, _ := time.Parse(time.DateOnly, req.ClosureDate)

	res, err := s.ledger.ClosePrematurely(id, ledger.ClosureRequest{
		ClosureDate:        closureDate,
		PenaltyRatePercent: req.PenaltyRatePercent,
		PenaltyAmount:      req.PenaltyAmount,
	})
	var verrs closure.ValidationErrors
	if errors.As(err, &verrs) {
		s.writeJSON(w, http.StatusBadRequest, map[string][]string{"errors": verrs})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) maturityHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := investmentID(w, r)
	if !ok {
		return
	}
	var req maturityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ActualPayout == nil {
		http.Error(w, "actual_payout is required", http.StatusBadRequest)
		return
	}
	res, err := s.ledger.RecordMaturity(id, *req.ActualPayout)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) actualMaturityHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := investmentID(w, r)
	if !ok {
		return
	}
	var req actualMaturityRequest
	if !s.decode(w, r, &req) {
		return
	}
	inv, err := s.ledger.SetActualMaturityAmount(id, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inv)
}

// runConfirmations posts due cashflows on every tick until ctx is done.
func (s *Server) runConfirmations(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Info("running due cashflow confirmation")
			n, err := s.ledger.ConfirmDueCashflows(s.ledger.Today())
			if err != nil {
				s.logger.Error("due cashflow confirmation failed", "error", err)
				continue
			}
			s.logger.Info("due cashflow confirmation complete", "confirmed", n)
		}
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := observability.InitLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize SQLite store", "error", err)
		os.Exit(1)
	}
	defer sqliteStore.Close()
	if store.IsMemoryDSN(cfg.DBPath) {
		logger.Warn("using an in-memory database, data is lost on exit", "dsn", cfg.DBPath)
	}

	server := NewServer(sqliteStore, logger,
		ledger.WithTDSRate(cfg.TDSRatePercent),
		ledger.WithStrict(cfg.StrictAnomalies()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go server.runConfirmations(ctx, cfg.ConfirmInterval)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Port, "tds_rate_percent", cfg.TDSRatePercent.String())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
