package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"stablebank/core/genesis"
	"stablebank/core/types"
	"stablebank/native/bank"
	"stablebank/services/bankd/executor"
	"stablebank/services/bankd/storage"
)

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type accountResponse struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Balance string `json:"balance"`
}

type bankResponse struct {
	ChainID        uint64 `json:"chainId"`
	Address        string `json:"address"`
	Admin          string `json:"admin"`
	Settlement     string `json:"settlement"`
	Router         string `json:"router,omitempty"`
	WrappedNative  string `json:"wrappedNative,omitempty"`
	TotalDeposited string `json:"totalDeposited"`
	Cap            string `json:"cap"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var tx types.Transaction
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPayload", fmt.Sprintf("decode transaction: %v", err))
		return
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "InvalidPayload", "trailing data after transaction")
		return
	}
	receipt, err := s.exec.Submit(r.Context(), &tx)
	if err != nil {
		code := executor.Code(err)
		status := admissionStatus(code)
		if status == http.StatusInternalServerError {
			s.logger.Error("submit failed", slog.Any("error", err))
		}
		writeError(w, status, code, err.Error())
		return
	}
	status := http.StatusOK
	if receipt.Status == storage.StatusRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, receipt)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	rec, err := s.journal.Transaction(r.Context(), chi.URLParam(r, "hash"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NotFound", "transaction not journaled")
		return
	}
	if err != nil {
		s.logger.Error("load transaction", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, executor.CodeInternal, "failed to load transaction")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleBank(w http.ResponseWriter, _ *http.Request) {
	var resp bankResponse
	err := s.exec.Read(func(world *genesis.World) error {
		total, err := world.Bank.TotalDeposited()
		if err != nil {
			return err
		}
		limit, err := world.Bank.Cap()
		if err != nil {
			return err
		}
		resp = bankResponse{
			ChainID:        world.ChainID,
			Address:        formatAddress(world.Bank.Address()),
			Admin:          formatAddress(world.Bank.Admin()),
			Settlement:     formatAddress(world.Bank.Settlement()),
			TotalDeposited: total.String(),
			Cap:            limit.String(),
		}
		if world.Router != nil {
			resp.Router = formatAddress(world.Router.Address())
			resp.WrappedNative = formatAddress(world.Router.WrappedNative())
		}
		return nil
	})
	if err != nil {
		s.internalError(w, "load bank", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAddressParam(w, r, "asset")
	if !ok {
		return
	}
	result, err := s.exec.View(r.Context(), common.Address{}, bank.Message{Method: bank.MethodIsAssetAllowed, Asset: asset})
	if err != nil {
		s.internalError(w, "load asset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":   formatAddress(asset),
		"allowed": result.Allowed,
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddressParam(w, r, "address")
	if !ok {
		return
	}
	var resp accountResponse
	err := s.exec.Read(func(world *genesis.World) error {
		nonce, err := world.State.Nonce(account)
		if err != nil {
			return err
		}
		balance, err := world.Bank.BalanceOf(account)
		if err != nil {
			return err
		}
		resp = accountResponse{Address: formatAddress(account), Nonce: nonce, Balance: balance.String()}
		return nil
	})
	if err != nil {
		s.internalError(w, "load account", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddressParam(w, r, "address")
	if !ok {
		return
	}
	asset, ok := parseAddressParam(w, r, "asset")
	if !ok {
		return
	}
	var balance *big.Int
	err := s.exec.Read(func(world *genesis.World) error {
		var err error
		balance, err = world.Tokens.BalanceOf(asset, account)
		return err
	})
	if err != nil {
		s.internalError(w, "load token balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": formatAddress(account),
		"asset":   formatAddress(asset),
		"balance": balance.String(),
	})
}

func (s *Server) handlePreviewWithdraw(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddressParam(w, r, "address")
	if !ok {
		return
	}
	amount, ok := parseAmountQuery(w, r, "amount")
	if !ok {
		return
	}
	_, err := s.exec.View(r.Context(), account, bank.Message{Method: bank.MethodPreviewWithdraw, Account: account, Amount: amount})
	if err != nil {
		code := executor.Code(err)
		if code == executor.CodeInternal {
			s.internalError(w, "preview withdraw", err)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": formatAddress(account),
		"amount":  amount.String(),
		"ok":      true,
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	amountIn, ok := parseAmountQuery(w, r, "amountIn")
	if !ok {
		return
	}
	rawPath := strings.Split(r.URL.Query().Get("path"), ",")
	path := make([]common.Address, 0, len(rawPath))
	for _, raw := range rawPath {
		trimmed := strings.TrimSpace(raw)
		if !common.IsHexAddress(trimmed) {
			writeError(w, http.StatusBadRequest, "InvalidPath", fmt.Sprintf("invalid path element %q", trimmed))
			return
		}
		path = append(path, common.HexToAddress(trimmed))
	}
	var amounts []*big.Int
	err := s.exec.Read(func(world *genesis.World) error {
		if world.Router == nil {
			return fmt.Errorf("exchange not configured")
		}
		var err error
		amounts, err = world.Router.GetAmountsOut(amountIn, path)
		return err
	})
	if err != nil {
		code := executor.Code(err)
		if code == executor.CodeInternal {
			s.internalError(w, "quote", err)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, code, err.Error())
		return
	}
	out := make([]string, len(amounts))
	for i, amount := range amounts {
		out[i] = amount.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"amounts": out})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.EventFilter{Type: strings.TrimSpace(query.Get("type"))}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "InvalidQuery", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidQuery", "since must be RFC3339")
			return
		}
		filter.Since = since
	}
	records, err := s.journal.ListEvents(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": records})
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	var out []accountResponse
	err := s.exec.Read(func(world *genesis.World) error {
		accounts, err := world.Bank.Accounts()
		if err != nil {
			return err
		}
		out = make([]accountResponse, 0, len(accounts))
		for _, account := range accounts {
			balance, err := world.Bank.BalanceOf(account)
			if err != nil {
				return err
			}
			nonce, err := world.State.Nonce(account)
			if err != nil {
				return err
			}
			out = append(out, accountResponse{Address: formatAddress(account), Nonce: nonce, Balance: balance.String()})
		}
		return nil
	})
	if err != nil {
		s.internalError(w, "list accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": out})
}

func (s *Server) handleInvariants(w http.ResponseWriter, _ *http.Request) {
	err := s.exec.Read(func(world *genesis.World) error {
		return world.Bank.CheckInvariants()
	})
	if err != nil {
		s.logger.Error("ledger invariant check failed", slog.Any("error", err))
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, executor.CodeInternal, op+" failed")
}

func admissionStatus(code string) int {
	switch code {
	case "MissingSignature", "InvalidSignature":
		return http.StatusUnauthorized
	case "WrongChain", "InvalidField":
		return http.StatusBadRequest
	case "NonceMismatch":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseAddressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "InvalidAddress", fmt.Sprintf("invalid %s %q", name, raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmountQuery(w http.ResponseWriter, r *http.Request, name string) (*big.Int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "InvalidAmount", fmt.Sprintf("%s must be a positive integer", name))
		return nil, false
	}
	return amount, true
}

func formatAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Error: message})
}
