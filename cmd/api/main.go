package main

import (
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/mcclellann/debtcalc/pkg/config"
	"github.com/mcclellann/debtcalc/pkg/engine"
	"github.com/mcclellann/debtcalc/pkg/models"
	"github.com/mcclellann/debtcalc/pkg/store"
	"github.com/mcclellann/debtcalc/pkg/tracker"
)

// Server holds the tracker and its storage collaborator.
type Server struct {
	tracker *tracker.Tracker
	storage store.KeyValue // kept to close it on shutdown
	logger  *slog.Logger
}

func NewServer(kv store.KeyValue, opts ...tracker.Option) *Server {
	logger := slog.Default()
	opts = append([]tracker.Option{tracker.WithLogger(logger)}, opts...)
	return &Server{
		tracker: tracker.New(kv, opts...),
		storage: kv,
		logger:  logger,
	}
}

// summaryRow pairs a loan with its derived metrics for the overview table.
type summaryRow struct {
	Loan    models.Loan        `json:"loan"`
	Summary models.LoanSummary `json:"summary"`
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tracker.Loans())
}

func (s *Server) addLoanHandler(w http.ResponseWriter, r *http.Request) {
	loan := s.tracker.AddLoan()
	s.logger.Info("loan added", "id", loan.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loan, ok := s.tracker.Loan(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Loan not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loan)
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var patch models.LoanPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Out-of-range edits are clamped here, at the editing boundary; the
	// tracker accepts already-clamped values.
	patch.Clamp()
	s.tracker.UpdateLoan(id, patch)

	loan, ok := s.tracker.Loan(id)
	if !ok {
		http.Error(w, "Loan not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loan)
}

func (s *Server) removeLoanHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	_, existed := s.tracker.Loan(id)
	s.tracker.RemoveLoan(id)

	if !existed {
		http.Error(w, "Loan not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	loan, ok := s.tracker.Loan(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Loan not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(engine.SummarizeLoan(loan))
}

func (s *Server) scheduleCSVHandler(w http.ResponseWriter, r *http.Request) {
	loan, ok := s.tracker.Loan(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Loan not found", http.StatusNotFound)
		return
	}
	summary := engine.SummarizeLoan(loan)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"Index", "Date", "Payment", "Interest", "Principal", "ExtraApplied", "Balance"})
	for _, row := range summary.Schedule {
		cw.Write([]string{
			strconv.Itoa(row.Index),
			row.Date.String(),
			row.Payment.StringFixed(2),
			row.Interest.StringFixed(2),
			row.Principal.StringFixed(2),
			row.ExtraApplied.StringFixed(2),
			row.Balance.StringFixed(2),
		})
	}
	cw.Flush()
}

// visibleSummaries applies the showClosed filter and the configured sort to
// the loan list.
func (s *Server) visibleSummaries() []summaryRow {
	ui := s.tracker.UI()

	var rows []summaryRow
	for _, loan := range s.tracker.Loans() {
		summary := engine.SummarizeLoan(loan)
		if !ui.ShowClosed && engine.Closed(summary) {
			continue
		}
		rows = append(rows, summaryRow{Loan: loan, Summary: summary})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if ui.SortBy == models.SortByOutstanding {
			return rows[i].Summary.Remaining.GreaterThan(rows[j].Summary.Remaining)
		}
		return rows[i].Summary.PayoffExtra.Before(rows[j].Summary.PayoffExtra.Time)
	})
	return rows
}

func (s *Server) listSummariesHandler(w http.ResponseWriter, r *http.Request) {
	rows := s.visibleSummaries()
	if rows == nil {
		rows = []summaryRow{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

func (s *Server) kpiHandler(w http.ResponseWriter, r *http.Request) {
	ui := s.tracker.UI()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(engine.Aggregate(s.tracker.Loans(), ui.ShowClosed))
}

func (s *Server) exportCSVHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="debt-summary.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{
		"Description", "Principal", "StartDate", "AnnualRate", "TenureMonths",
		"ExtraMonthly", "Remaining", "EMI", "PayoffExtra", "InterestSaved",
	})
	for _, loan := range s.tracker.Loans() {
		summary := engine.SummarizeLoan(loan)
		cw.Write([]string{
			loan.Description,
			loan.Principal.String(),
			loan.StartDate.String(),
			loan.AnnualRate.String(),
			strconv.Itoa(loan.TenureMonths),
			loan.ExtraMonthly.String(),
			summary.Remaining.Round(0).String(),
			summary.EMI.Round(0).String(),
			summary.PayoffExtra.String(),
			summary.InterestSaved.Round(0).String(),
		})
	}
	cw.Flush()
}

func (s *Server) getUIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tracker.UI())
}

func (s *Server) setUIHandler(w http.ResponseWriter, r *http.Request) {
	var patch tracker.UIPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.tracker.SetUI(patch)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tracker.UI())
}

func (s *Server) selectHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID *string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.tracker.Select(req.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tracker.UI())
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	s.tracker.Reset()
	s.logger.Info("state reset to samples")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tracker.Snapshot())
}

func (s *Server) undoHandler(w http.ResponseWriter, r *http.Request) {
	s.tracker.Undo()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tracker.Snapshot())
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.addLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.updateLoanHandler).Methods("PUT", "PATCH")
	router.HandleFunc("/loans/{id}", s.removeLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/summary", s.summaryHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule.csv", s.scheduleCSVHandler).Methods("GET")

	router.HandleFunc("/summaries", s.listSummariesHandler).Methods("GET")
	router.HandleFunc("/kpi", s.kpiHandler).Methods("GET")
	router.HandleFunc("/export.csv", s.exportCSVHandler).Methods("GET")

	router.HandleFunc("/ui", s.getUIHandler).Methods("GET")
	router.HandleFunc("/ui", s.setUIHandler).Methods("PUT", "PATCH")
	router.HandleFunc("/select", s.selectHandler).Methods("POST")
	router.HandleFunc("/reset", s.resetHandler).Methods("POST")
	router.HandleFunc("/undo", s.undoHandler).Methods("POST")

	return router
}

func main() {
	godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var kv store.KeyValue
	if cfg.DBPath == "" {
		kv = store.NewMemoryStore()
	} else {
		sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			logger.Error("failed to initialize sqlite store", "path", cfg.DBPath, "error", err)
			os.Exit(1)
		}
		kv = sqliteStore
	}
	defer kv.Close()

	server := NewServer(kv, tracker.WithMaxHistory(cfg.HistoryDepth))

	logger.Info("server starting", "addr", cfg.Addr, "db", cfg.DBPath)
	if err := http.ListenAndServe(cfg.Addr, server.routes()); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
