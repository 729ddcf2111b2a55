package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"

	"megaluck/native/common"
	"megaluck/native/redeem"
	"megaluck/observability/audit"
	"megaluck/observability/logging"
)

const (
	codeRedeemInvalidParams  = -32051
	codeRedeemForbidden      = -32052
	codeRedeemConflict       = -32053
	codeRedeemRejected       = -32054
	codeRedeemPaused         = -32055
	codeRedeemNotInitialized = -32056
	codeRedeemUnavailable    = -32057
	codeRedeemInternal       = -32058
)

type initConfigParams struct {
	Caller    string `json:"caller"`
	Authority string `json:"authority"`
	Asset     string `json:"asset"`
	Fee       string `json:"fee"`
}

type burnParams struct {
	Payer   string `json:"payer"`
	NFTMint string `json:"nftMint"`
	Name    string `json:"name"`
}

type ownerClassParams struct {
	Owner string `json:"owner"`
	Class string `json:"class"`
}

type ownerParams struct {
	Owner string `json:"owner"`
}

type listEventsParams struct {
	Type  string `json:"type"`
	Payer string `json:"payer"`
	Limit int    `json:"limit"`
}

type setPauseParams struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) redeemMethods() map[string]methodHandler {
	return map[string]methodHandler{
		"redeem_initConfig":       {admin: true, fn: s.handleRedeemInitConfig},
		"redeem_setPause":         {admin: true, fn: s.handleRedeemSetPause},
		"redeem_verifyAudit":      {admin: true, fn: s.handleRedeemVerifyAudit},
		"redeem_claim":            {fn: s.handleRedeemClaim},
		"redeem_claimRank":        {fn: s.handleRedeemClaimRank},
		"redeem_enterLottery":     {fn: s.handleRedeemEnterLottery},
		"redeem_burnNft":          {fn: s.handleRedeemBurnNFT},
		"redeem_deposit":          {fn: s.handleRedeemDeposit},
		"redeem_initNonceAccount": {fn: s.handleRedeemInitNonceAccount},
		"redeem_getConfig":        {fn: s.handleRedeemGetConfig},
		"redeem_getNonce":         {fn: s.handleRedeemGetNonce},
		"redeem_getPoolBalance":   {fn: s.handleRedeemGetPoolBalance},
		"redeem_getBalance":       {fn: s.handleRedeemGetBalance},
		"redeem_listEvents":       {fn: s.handleRedeemListEvents},
	}
}

// decodeParams unmarshals the single parameter object. It reports false after
// writing the error response.
func decodeParams(w http.ResponseWriter, req *RPCRequest, dst interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeRedeemInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedeemInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeRedeemInvalidParams, "invalid_params", err.Error())
}

func writeRedeemError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeRedeemInternal
	switch {
	case errors.Is(err, common.ErrModulePaused):
		status = http.StatusServiceUnavailable
		code = codeRedeemPaused
	case errors.Is(err, redeem.ErrNotInitialized):
		status = http.StatusPreconditionFailed
		code = codeRedeemNotInitialized
	case errors.Is(err, redeem.ErrNotSigner):
		status = http.StatusForbidden
		code = codeRedeemForbidden
	case errors.Is(err, redeem.ErrAlreadyInited) || errors.Is(err, redeem.ErrInvalidNonce):
		status = http.StatusConflict
		code = codeRedeemConflict
	case errors.Is(err, redeem.ErrInsufficientBalance) || errors.Is(err, redeem.ErrInvalidTimestamp) ||
		errors.Is(err, redeem.ErrSigVerificationFailed) || errors.Is(err, redeem.ErrZeroAddress) ||
		errors.Is(err, redeem.ErrInvalidAmount) || errors.Is(err, redeem.ErrInvalidName) ||
		errors.Is(err, redeem.ErrInvalidClass):
		status = http.StatusUnprocessableEntity
		code = codeRedeemRejected
	}
	writeError(w, status, id, code, redeem.Kind(err), err.Error())
}

func (s *Server) logRejected(method, remote string, err error) {
	s.logger.Warn("rpc: redeem call rejected",
		slog.String("method", method),
		slog.String("remote", remote),
		slog.String("kind", redeem.Kind(err)),
		slog.Any("error", err))
}

// handleRedeemInitConfig is admin-only. The caller field is not signed; the
// bearer credential checked by requireAuth is what authenticates the request,
// and the engine then matches caller against the configured administrator.
func (s *Server) handleRedeemInitConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params initConfigParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseIdentity("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	authority, err := parseIdentity("authority", params.Authority)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	asset, err := parseIdentity("asset", params.Asset)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	fee := uint64(0)
	if strings.TrimSpace(params.Fee) != "" {
		if fee, err = parseAmount("fee", params.Fee); err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
	}
	cfg, err := s.node.InitConfig(caller, authority, asset, fee)
	if err != nil {
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ConfigResult{
		Authority: cfg.AuthorityKey.String(),
		Asset:     cfg.AssetID.String(),
		Fee:       formatAmount(cfg.FeeAmount),
		Paused:    s.node.Paused(),
		Height:    s.node.Height(),
	})
}

// normalizeModule accepts either the short module name or the full key.
func normalizeModule(module string) (string, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(module))
	if !strings.Contains(trimmed, ".") {
		trimmed = "redeem." + trimmed
	}
	switch trimmed {
	case redeem.ModuleClaims, redeem.ModuleLottery:
		return trimmed, true
	default:
		return "", false
	}
}

func (s *Server) handleRedeemSetPause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setPauseParams
	if !decodeParams(w, req, &params) {
		return
	}
	module, ok := normalizeModule(params.Module)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeRedeemInvalidParams, "invalid_params", "unknown module")
		return
	}
	s.node.SetPaused(module, params.Paused)
	writeResult(w, req.ID, map[string][]string{"paused": s.node.Paused()})
}

func (s *Server) handleRedeemClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params ClaimRequestJSON
	if !decodeParams(w, req, &params) {
		return
	}
	claim, err := params.Decode()
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	s.logger.Debug("rpc: claim submitted",
		slog.String("payer", params.Payer),
		slog.Uint64("nonce", params.Nonce),
		logging.MaskField("signature", params.Signature))
	record, err := s.node.Claim(claim)
	if err != nil {
		s.logRejected(req.Method, clientSource(r), err)
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, settlementResult(record, s.node.Height()))
}

func (s *Server) handleRedeemClaimRank(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params RankClaimRequestJSON
	if !decodeParams(w, req, &params) {
		return
	}
	claim, err := params.Decode()
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	s.logger.Debug("rpc: rank claim submitted",
		slog.String("payer", params.Payer),
		slog.Uint64("nonce", params.Nonce),
		logging.MaskField("signature", params.Signature))
	record, err := s.node.ClaimRank(claim)
	if err != nil {
		s.logRejected(req.Method, clientSource(r), err)
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, settlementResult(record, s.node.Height()))
}

func (s *Server) handleRedeemEnterLottery(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params LotteryEntryJSON
	if !decodeParams(w, req, &params) {
		return
	}
	entry, err := params.Decode()
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	evt, err := s.node.EnterLottery(entry)
	if err != nil {
		s.logRejected(req.Method, clientSource(r), err)
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, LotteryResult{
		Payer:    evt.Payer.String(),
		NFTMint:  evt.NFTMint.String(),
		Sequence: evt.Sequence,
		Name:     evt.Name,
		Fee:      formatAmount(evt.Fee),
	})
}

func (s *Server) handleRedeemBurnNFT(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params burnParams
	if !decodeParams(w, req, &params) {
		return
	}
	payer, err := parseIdentity("payer", params.Payer)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	mint, err := parseIdentity("nftMint", params.NFTMint)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	evt, err := s.node.BurnNFT(payer, mint, params.Name)
	if err != nil {
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BurnResult{
		Payer:     evt.Payer.String(),
		NFTMint:   evt.NFTMint.String(),
		Name:      evt.Name,
		Timestamp: evt.Timestamp,
	})
}

func (s *Server) handleRedeemDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params DepositRequestJSON
	if !decodeParams(w, req, &params) {
		return
	}
	deposit, err := params.Decode()
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	balance, err := s.node.Deposit(deposit)
	if err != nil {
		s.logRejected(req.Method, clientSource(r), err)
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{Balance: formatAmount(balance)})
}

func parseOwnerClass(params ownerClassParams) (solana.PublicKey, redeem.ClaimClass, error) {
	owner, err := parseIdentity("owner", params.Owner)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	class, err := redeem.ParseClaimClass(params.Class)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	return owner, class, nil
}

func (s *Server) handleRedeemInitNonceAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ownerClassParams
	if !decodeParams(w, req, &params) {
		return
	}
	owner, class, err := parseOwnerClass(params)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.InitNonceAccount(owner, class); err != nil {
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleRedeemGetConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	cfg, err := s.node.Config()
	if err != nil {
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ConfigResult{
		Authority: cfg.AuthorityKey.String(),
		Asset:     cfg.AssetID.String(),
		Fee:       formatAmount(cfg.FeeAmount),
		Paused:    s.node.Paused(),
		Height:    s.node.Height(),
	})
}

func (s *Server) handleRedeemGetNonce(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ownerClassParams
	if !decodeParams(w, req, &params) {
		return
	}
	owner, class, err := parseOwnerClass(params)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	nonce, err := s.node.Nonce(owner, class)
	if err != nil {
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NonceResult{Owner: owner.String(), Class: class.String(), Nonce: nonce})
}

func (s *Server) handleRedeemGetPoolBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	balance, err := s.node.PoolBalance()
	if err != nil {
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{Balance: formatAmount(balance)})
}

func (s *Server) handleRedeemGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ownerParams
	if !decodeParams(w, req, &params) {
		return
	}
	owner, err := parseIdentity("owner", params.Owner)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	balance, err := s.node.Balance(owner)
	if err != nil {
		writeRedeemError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{Owner: owner.String(), Balance: formatAmount(balance)})
}

func (s *Server) handleRedeemListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeRedeemUnavailable, "audit_unavailable", nil)
		return
	}
	var params listEventsParams
	if len(req.Params) > 0 && !decodeParams(w, req, &params) {
		return
	}
	if params.Payer != "" {
		if _, err := parseIdentity("payer", params.Payer); err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
	}
	records, err := s.audit.List(audit.Query{Type: params.Type, Payer: params.Payer, Limit: params.Limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeRedeemInternal, "internal", err.Error())
		return
	}
	out := make([]AuditEventResult, 0, len(records))
	for _, record := range records {
		attrs, err := record.Decode()
		if err != nil {
			writeError(w, http.StatusInternalServerError, req.ID, codeRedeemInternal, "internal", err.Error())
			return
		}
		out = append(out, AuditEventResult{
			Seq:        record.Seq,
			ID:         record.ID.String(),
			Type:       record.Type,
			Payer:      record.Payer,
			Attributes: attrs,
			CreatedAt:  record.CreatedAt.Unix(),
			Digest:     record.Digest,
		})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleRedeemVerifyAudit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeRedeemUnavailable, "audit_unavailable", nil)
		return
	}
	checked, err := s.audit.Verify()
	switch {
	case err == nil:
		writeResult(w, req.ID, AuditVerifyResult{Checked: checked, Intact: true})
	case errors.Is(err, audit.ErrChainBroken):
		s.logger.Error("audit chain broken", slog.Uint64("checked", checked), slog.Any("error", err))
		writeResult(w, req.ID, AuditVerifyResult{Checked: checked, Error: err.Error()})
	default:
		writeError(w, http.StatusInternalServerError, req.ID, codeRedeemInternal, "internal", err.Error())
	}
}
