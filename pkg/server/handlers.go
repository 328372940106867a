package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/speedrun-hq/speedrun-relayer/pkg/intent"
	"github.com/speedrun-hq/speedrun-relayer/pkg/metrics"
	"github.com/speedrun-hq/speedrun-relayer/pkg/relay"
)

// isoMillis matches the ISO-8601 layout browsers produce
const isoMillis = "2006-01-02T15:04:05.000Z"

type relayResponse struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
	Version         uint64 `json:"version"`
	ExplorerURL     string `json:"explorerUrl"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

type relayerInfo struct {
	Address          string      `json:"address"`
	Balance          json.Number `json:"balance"`
	BalanceFormatted string      `json:"balanceFormatted"`
}

type statsInfo struct {
	TotalTransactions      int `json:"totalTransactions"`
	SuccessfulTransactions int `json:"successfulTransactions"`
	FailedTransactions     int `json:"failedTransactions"`
}

type transactionInfo struct {
	Hash        string `json:"hash"`
	Action      string `json:"action"`
	User        string `json:"user"`
	Timestamp   string `json:"timestamp"`
	Success     bool   `json:"success"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

type statusResponse struct {
	Relayer            relayerInfo       `json:"relayer"`
	Stats              statsInfo         `json:"stats"`
	RecentTransactions []transactionInfo `json:"recentTransactions"`
	Circuit            any               `json:"circuit,omitempty"`
}

func (s *Server) handleRelayIntent(w http.ResponseWriter, r *http.Request) {
	si, err := intent.DecodeSignedIntent(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}

	result, err := s.relayer.Relay(r.Context(), si)
	if err != nil {
		var re *relay.Error
		if !errors.As(err, &re) {
			s.logger.Error("Unexpected relay error: %v", err)
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Transaction failed"})
			return
		}

		resp := errorResponse{Error: re.Message, Details: re.Detail}
		if re.Kind == relay.KindSubmissionFailure {
			retryable := re.Retryable
			resp.Retryable = &retryable
		}
		s.writeJSON(w, re.Kind.HTTPStatus(), resp)
		return
	}

	s.writeJSON(w, http.StatusOK, relayResponse{
		Success:         true,
		TransactionHash: result.Hash,
		Version:         result.Version,
		ExplorerURL:     result.ExplorerURL,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.relayer.Status(r.Context())

	balance, formatted := formatBalance(status.Balance, s.cfg.NativeDecimals, s.cfg.NativeSymbol)
	metrics.RelayerBalance.Set(balance)

	recent := make([]transactionInfo, 0, len(status.Recent))
	for _, o := range status.Recent {
		tx := transactionInfo{
			Hash:      o.Hash,
			Action:    string(o.Action),
			User:      o.User,
			Timestamp: o.Timestamp.UTC().Format(isoMillis),
			Success:   o.Success,
		}
		// attempts that failed before broadcast have no hash
		if o.Hash != "" {
			tx.ExplorerURL = s.relayer.ExplorerURL(o.Hash)
		}
		recent = append(recent, tx)
	}

	resp := statusResponse{
		Relayer: relayerInfo{
			Address:          status.Address,
			Balance:          json.Number(status.Balance.String()),
			BalanceFormatted: formatted,
		},
		Stats: statsInfo{
			TotalTransactions:      status.Stats.Total,
			SuccessfulTransactions: status.Stats.Success,
			FailedTransactions:     status.Stats.Failed,
		},
		RecentTransactions: recent,
	}
	if s.breaker != nil {
		resp.Circuit = s.breaker.State()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		s.logger.Notice("Readiness check failed: %v", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Ledger not reachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, _ *http.Request) {
	if s.breaker == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("No circuit breaker configured"))
		return
	}
	s.breaker.Reset()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Circuit breaker reset"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding response JSON: %v", err)
	}
}

// formatBalance converts base units to whole units and renders them with four
// decimals and thousands separators
func formatBalance(balance *big.Int, decimals int, symbol string) (float64, string) {
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	whole, _ := new(big.Float).Quo(new(big.Float).SetInt(balance), divisor).Float64()
	return whole, humanize.FormatFloat("#,###.####", whole) + " " + symbol
}
