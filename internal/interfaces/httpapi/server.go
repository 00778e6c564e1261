package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/thirdweb-dev/engine-sub003/internal/application"
	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// Pinger is any dependency whose liveness gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AccountRegistrar is the writable view of the account directory.
type AccountRegistrar interface {
	PutAccount(ctx context.Context, record domain.AccountRecord) error
	GetAccount(ctx context.Context, address string) (domain.AccountRecord, bool, error)
}

// RecordLedger reads back persisted transaction records. Optional: nil when
// no record store is configured.
type RecordLedger interface {
	GetRecord(ctx context.Context, transactionID string) (domain.TransactionRecord, bool, error)
}

type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

type Server struct {
	executor     *application.Executor
	sendQueue    application.Queue
	confirmQueue application.Queue
	accounts     AccountRegistrar
	records      RecordLedger
	pingers      []Pinger
	metrics      *Metrics
	buildInfo    BuildInfo
}

func NewServer(executor *application.Executor, sendQueue, confirmQueue application.Queue, accounts AccountRegistrar, records RecordLedger, pingers []Pinger, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if executor == nil || sendQueue == nil || confirmQueue == nil || accounts == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		executor:     executor,
		sendQueue:    sendQueue,
		confirmQueue: confirmQueue,
		accounts:     accounts,
		records:      records,
		pingers:      pingers,
		metrics:      metrics,
		buildInfo:    buildInfo,
	}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/transactions", s.handleExecute)
	mux.HandleFunc("/transactions/attempts", s.handleAttempts)
	mux.HandleFunc("/transactions/record", s.handleRecord)
	mux.HandleFunc("/accounts", s.handleAccounts)
	mux.HandleFunc("/nonces/state", s.handleNonceState)
	mux.HandleFunc("/nonces/missing", s.handleMissingNonces)
	mux.HandleFunc("/nonces/reset", s.handleNonceReset)
	mux.HandleFunc("/nonces/engine-max", s.handleEngineNonceMax)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, pinger := range s.pingers {
		if err := pinger.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "dependency not ready")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type executeRequest struct {
	ChainID          uint64        `json:"chain_id"`
	ExecutionOptions executeOpts   `json:"execution_options"`
	Calls            []domain.Call `json:"calls"`
}

type executeOpts struct {
	Type                string `json:"type"`
	From                string `json:"from"`
	Signer              string `json:"signer"`
	SmartAccountAddress string `json:"smart_account_address"`
	Factory             string `json:"factory"`
	Entrypoint          string `json:"entrypoint"`
	Salt                string `json:"salt"`
	SponsorGas          bool   `json:"sponsor_gas"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requestType := domain.RequestType(req.ExecutionOptions.Type)
	if req.ExecutionOptions.Type == "" {
		requestType = domain.RequestTypeAuto
	}
	result, err := s.executor.Execute(r.Context(), domain.ExecutionRequest{
		Type:                requestType,
		ChainID:             req.ChainID,
		From:                req.ExecutionOptions.From,
		Signer:              req.ExecutionOptions.Signer,
		SmartAccountAddress: req.ExecutionOptions.SmartAccountAddress,
		Factory:             req.ExecutionOptions.Factory,
		Entrypoint:          req.ExecutionOptions.Entrypoint,
		Salt:                req.ExecutionOptions.Salt,
		SponsorGas:          req.ExecutionOptions.SponsorGas,
	}, req.Calls)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	transactionID := r.URL.Query().Get("transaction_id")
	if transactionID == "" {
		respondError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}
	attempts, err := s.executor.GetTransactionAttempts(r.Context(), transactionID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"transaction_id": transactionID,
		"attempts":       attempts,
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		respondError(w, http.StatusNotFound, "transaction ledger is not configured")
		return
	}
	transactionID := r.URL.Query().Get("transaction_id")
	if transactionID == "" {
		respondError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}
	record, found, err := s.records.GetRecord(r.Context(), transactionID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "transaction not found")
		return
	}
	respondJSON(w, http.StatusOK, record)
}

type accountRequest struct {
	Address    string `json:"address"`
	Kind       string `json:"kind"`
	Signer     string `json:"signer"`
	Factory    string `json:"factory"`
	Entrypoint string `json:"entrypoint"`
	Salt       string `json:"salt"`
	SponsorGas bool   `json:"sponsor_gas"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		address := r.URL.Query().Get("address")
		if address == "" {
			respondError(w, http.StatusBadRequest, "address is required")
			return
		}
		record, found, err := s.accounts.GetAccount(r.Context(), address)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		if !found {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		respondJSON(w, http.StatusOK, accountRequest{
			Address:    record.Address,
			Kind:       string(record.Kind),
			Signer:     record.Signer,
			Factory:    record.Factory,
			Entrypoint: record.Entrypoint,
			Salt:       record.Salt,
			SponsorGas: record.SponsorGas,
		})
	case http.MethodPost:
		var req accountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		kind := domain.AccountKind(req.Kind)
		if req.Address == "" || (kind != domain.AccountKindSigner && kind != domain.AccountKindSmartAccount) {
			respondError(w, http.StatusBadRequest, "address and a valid kind are required")
			return
		}
		if kind == domain.AccountKindSmartAccount && req.Signer == "" {
			respondError(w, http.StatusBadRequest, "smart account records require a signer")
			return
		}
		err := s.accounts.PutAccount(r.Context(), domain.AccountRecord{
			Address:    req.Address,
			Kind:       kind,
			Signer:     req.Signer,
			Factory:    req.Factory,
			Entrypoint: req.Entrypoint,
			Salt:       req.Salt,
			SponsorGas: req.SponsorGas,
		})
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleNonceState(w http.ResponseWriter, r *http.Request) {
	address, chainID, err := parseAccountParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := s.executor.GetNonceState(r.Context(), address, chainID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleMissingNonces(w http.ResponseWriter, r *http.Request) {
	address, chainID, err := parseAccountParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxMissing := int64(100)
	if raw := r.URL.Query().Get("max_missing"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "invalid max_missing")
			return
		}
		maxMissing = parsed
	}
	result, err := s.executor.CheckMissingNonces(r.Context(), address, chainID, maxMissing)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"missing": result.Missing,
		"count":   result.Count,
	})
}

type nonceAdminRequest struct {
	Address string `json:"address"`
	ChainID uint64 `json:"chain_id"`
	Nonce   uint64 `json:"nonce"`
}

func (s *Server) handleNonceReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req nonceAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Address == "" || req.ChainID == 0 {
		respondError(w, http.StatusBadRequest, "address and chain_id are required")
		return
	}
	if err := s.executor.ResetNonceState(r.Context(), req.Address, req.ChainID, req.Nonce); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"nonce":  req.Nonce,
	})
}

func (s *Server) handleEngineNonceMax(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req nonceAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Address == "" || req.ChainID == 0 {
		respondError(w, http.StatusBadRequest, "address and chain_id are required")
		return
	}
	engine, err := s.executor.SetEngineNonceMax(r.Context(), req.Address, req.ChainID, req.Nonce)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"engine_nonce": engine,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	snap := s.metrics.Snapshot()

	uptime := time.Since(snap.StartTime).Seconds()
	fmt.Fprintf(w, "engine_uptime_seconds %.0f\n", uptime)
	fmt.Fprintf(w, "engine_transactions_submitted_total %d\n", snap.Submitted)
	fmt.Fprintf(w, "engine_transactions_confirmed_total %d\n", snap.ConfirmedSuccess)
	fmt.Fprintf(w, "engine_transactions_reverted_total %d\n", snap.ConfirmedReverted)
	fmt.Fprintf(w, "engine_transactions_unknown_total %d\n", snap.ConfirmedUnknown)
	writeQueueCounts(w, "engine_jobs_completed_total", snap.JobsCompleted)
	writeQueueCounts(w, "engine_jobs_retried_total", snap.JobsRetried)
	writeQueueCounts(w, "engine_jobs_failed_total", snap.JobsFailed)
	writeQueueCounts(w, "engine_jobs_delayed_total", snap.JobsDelayed)

	if ready, delayed, err := s.sendQueue.Depth(r.Context()); err == nil {
		fmt.Fprintf(w, "engine_queue_ready{queue=\"send\"} %d\n", ready)
		fmt.Fprintf(w, "engine_queue_delayed{queue=\"send\"} %d\n", delayed)
	}
	if ready, delayed, err := s.confirmQueue.Depth(r.Context()); err == nil {
		fmt.Fprintf(w, "engine_queue_ready{queue=\"confirm\"} %d\n", ready)
		fmt.Fprintf(w, "engine_queue_delayed{queue=\"confirm\"} %d\n", delayed)
	}
}

func writeQueueCounts(w http.ResponseWriter, name string, counts map[string]uint64) {
	queues := make([]string, 0, len(counts))
	for queue := range counts {
		queues = append(queues, queue)
	}
	sort.Strings(queues)
	for _, queue := range queues {
		fmt.Fprintf(w, "%s{queue=%q} %d\n", name, queue, counts[queue])
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func parseAccountParams(r *http.Request) (string, uint64, error) {
	address := r.URL.Query().Get("address")
	if address == "" {
		return "", 0, errors.New("address is required")
	}
	chainRaw := r.URL.Query().Get("chain_id")
	if chainRaw == "" {
		return "", 0, errors.New("chain_id is required")
	}
	chainID, err := strconv.ParseUint(chainRaw, 10, 64)
	if err != nil {
		return "", 0, errors.New("invalid chain_id")
	}
	return address, chainID, nil
}

// respondDomainError maps the error taxonomy onto HTTP statuses: validation
// and account problems are the caller's fault, everything else is ours.
func respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsKind(err, domain.ErrorKindValidation):
		status = http.StatusBadRequest
	case domain.IsKind(err, domain.ErrorKindAccount):
		if domain.IsCode(err, domain.CodeAccountNotFound) {
			status = http.StatusNotFound
		} else {
			status = http.StatusBadRequest
		}
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
