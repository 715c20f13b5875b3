package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/middleware"
	"ledger-service/internal/pkg/xerrors"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/response"
)

type LedgerHandler struct {
	purchaseUC   *usecase.PurchaseEngine
	transferUC   *usecase.TransferEngine
	withdrawalUC *usecase.WithdrawalEngine
	topupUC      *usecase.TopUpEngine
	historyUC    *usecase.HistoryReader
	auditorUC    *usecase.ReconciliationAuditor
	logger       *zap.Logger
}

func NewLedgerHandler(
	purchaseUC *usecase.PurchaseEngine,
	transferUC *usecase.TransferEngine,
	withdrawalUC *usecase.WithdrawalEngine,
	topupUC *usecase.TopUpEngine,
	historyUC *usecase.HistoryReader,
	auditorUC *usecase.ReconciliationAuditor,
	logger *zap.Logger,
) *LedgerHandler {
	return &LedgerHandler{
		purchaseUC:   purchaseUC,
		transferUC:   transferUC,
		withdrawalUC: withdrawalUC,
		topupUC:      topupUC,
		historyUC:    historyUC,
		auditorUC:    auditorUC,
		logger:       logger,
	}
}

func (h *LedgerHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var in usecase.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.UserID = userID
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	if in.Role == "" {
		in.Role = domain.WalletRolePassenger
	}

	resp, err := h.purchaseUC.Purchase(r.Context(), &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, resp)
}

func (h *LedgerHandler) Requery(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var in usecase.RequeryRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.UserID = userID
	if in.ProviderReference == "" {
		response.Error(w, http.StatusBadRequest, "provider_reference is required")
		return
	}
	if in.Role == "" {
		in.Role = domain.WalletRolePassenger
	}

	resp, err := h.purchaseUC.Requery(r.Context(), &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, resp)
}

type transferJSON struct {
	usecase.TransferRequest
	Pin string `json:"pin"`
}

func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var in transferJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.SenderID = userID
	in.TransferRequest.Pin = in.Pin
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	if in.SenderRole == "" {
		in.SenderRole = domain.WalletRolePassenger
	}

	resp, err := h.transferUC.Transfer(r.Context(), &in.TransferRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, resp)
}

type withdrawalJSON struct {
	usecase.WithdrawalRequest
	Pin string `json:"pin"`
}

func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var in withdrawalJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.UserID = userID
	in.WithdrawalRequest.Pin = in.Pin
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	if in.Role == "" {
		in.Role = domain.WalletRolePassenger
	}

	resp, err := h.withdrawalUC.Withdraw(r.Context(), &in.WithdrawalRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, resp)
}

func (h *LedgerHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var in usecase.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.UserID = userID
	if in.Role == "" {
		in.Role = domain.WalletRolePassenger
	}

	resp, err := h.topupUC.VerifyAndCredit(r.Context(), &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, resp)
}

func (h *LedgerHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.historyUC.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, entries)
}

func (h *LedgerHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	reference := chi.URLParam(r, "reference")
	entry, err := h.historyUC.GetByReference(r.Context(), reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entry.UserID != userID {
		role, _ := middleware.GetRole(r.Context())
		if role != "admin" {
			response.Error(w, http.StatusNotFound, xerrors.ErrEntryNotFound.Error())
			return
		}
	}
	response.JSON(w, http.StatusOK, entry)
}

func (h *LedgerHandler) ReconcileMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	role := domain.WalletRole(r.URL.Query().Get("role"))
	if role == "" {
		role = domain.WalletRolePassenger
	}

	snapshot, err := h.auditorUC.ReconcileUser(r.Context(), userID, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, snapshot)
}

func (h *LedgerHandler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.auditorUC.ReconcileAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, summary)
}

func (h *LedgerHandler) ListDrifted(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	snapshots, err := h.historyUC.ListDriftedSnapshots(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, snapshots)
}

// writeError maps the error taxonomy onto HTTP statuses and stable
// envelope codes. Unknown errors are logged and masked as a 500.
func (h *LedgerHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, xerrors.ErrInvalidRequest),
		errors.Is(err, xerrors.ErrInvalidAmount),
		errors.Is(err, xerrors.ErrAmountBelowMinimum),
		errors.Is(err, xerrors.ErrAmountAboveMaximum),
		errors.Is(err, xerrors.ErrInvalidServiceType),
		errors.Is(err, xerrors.ErrInvalidTarget),
		errors.Is(err, xerrors.ErrSelfTransfer):
		response.ErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, xerrors.ErrPinVerification),
		errors.Is(err, xerrors.ErrUnauthorized):
		response.ErrorCode(w, http.StatusUnauthorized, "unauthorized", err.Error())

	case errors.Is(err, xerrors.ErrWalletDisabled),
		errors.Is(err, xerrors.ErrForbidden):
		response.ErrorCode(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, xerrors.ErrWalletNotFound),
		errors.Is(err, xerrors.ErrRecipientNotFound),
		errors.Is(err, xerrors.ErrEntryNotFound),
		errors.Is(err, xerrors.ErrNotFound):
		response.ErrorCode(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, xerrors.ErrIdempotencyConflict),
		errors.Is(err, xerrors.ErrDuplicateReference):
		response.ErrorCode(w, http.StatusConflict, "duplicate_request", err.Error())

	case errors.Is(err, xerrors.ErrInsufficientBalance):
		response.ErrorCode(w, http.StatusUnprocessableEntity, "insufficient_balance", err.Error())

	case errors.Is(err, xerrors.ErrDailyAmountLimitExceeded),
		errors.Is(err, xerrors.ErrDailyCountLimitExceeded):
		response.ErrorCode(w, http.StatusUnprocessableEntity, "limit_exceeded", err.Error())

	case errors.Is(err, xerrors.ErrPriceMismatch):
		response.ErrorCode(w, http.StatusUnprocessableEntity, "price_mismatch", err.Error())

	case errors.Is(err, xerrors.ErrIdempotencyKeyReused):
		response.ErrorCode(w, http.StatusUnprocessableEntity, "key_reused", err.Error())

	case errors.Is(err, xerrors.ErrProviderRejected):
		response.ErrorCode(w, http.StatusUnprocessableEntity, "provider_rejected", err.Error())

	case errors.Is(err, xerrors.ErrTopUpNotPaid):
		response.ErrorCode(w, http.StatusPaymentRequired, "topup_unpaid", err.Error())

	case errors.Is(err, xerrors.ErrProviderAmbiguous):
		// The client must requery; nothing was debited.
		response.ErrorCode(w, http.StatusBadGateway, "provider_ambiguous", err.Error())

	default:
		h.logger.Error("unhandled request error",
			zap.String("path", r.URL.Path), zap.Error(err))
		response.ErrorCode(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
