// Package handler exposes the credit lifecycle over HTTP. It validates and
// decodes requests, delegates to the service, and maps domain errors onto
// status codes; no business logic lives here.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"karbon/internal/credit/models"
	"karbon/internal/credit/store"
	id "karbon/pkg/domain"
	dErrors "karbon/pkg/domain-errors"
	"karbon/pkg/requestcontext"
)

// Service is the orchestrator surface the handler consumes.
type Service interface {
	IssueCredits(ctx context.Context, projectID id.ProjectID, verificationID id.VerificationID) (*models.CreditEntry, error)
	TransferCredits(ctx context.Context, creditID id.CreditID, senderID, recipientID id.UserID, quantity decimal.Decimal) (*models.CreditEntry, error)
	RetireCredits(ctx context.Context, creditID id.CreditID, userID id.UserID, quantity decimal.Decimal, reason string) (*models.CreditEntry, string, error)
	GetCredit(ctx context.Context, creditID id.CreditID) (*models.CreditEntry, error)
	GetCreditBySerial(ctx context.Context, serial string) (*models.CreditEntry, error)
	ListCredits(ctx context.Context, f store.Filter) ([]*models.CreditEntry, int, error)
	ListTransactions(ctx context.Context, creditID id.CreditID) ([]*models.CreditTransaction, error)
}

// Handler handles credit lifecycle endpoints.
type Handler struct {
	logger  *slog.Logger
	credits Service
}

// New creates a credit Handler.
func New(credits Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, credits: credits}
}

// Register mounts the credit routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/credits", func(r chi.Router) {
		r.Post("/issue", h.handleIssue)
		r.Get("/", h.handleList)
		r.Get("/serial/{serial}", h.handleGetBySerial)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Get("/transactions", h.handleTransactions)
			r.Post("/transfer", h.handleTransfer)
			r.Post("/retire", h.handleRetire)
		})
	})
}

type issueRequest struct {
	ProjectID      string `json:"project_id"`
	VerificationID string `json:"verification_id"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r, w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	projectID, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	verificationID, err := id.ParseVerificationID(req.VerificationID)
	if err != nil {
		h.writeError(r, w, err)
		return
	}

	credit, err := h.credits.IssueCredits(r.Context(), projectID, verificationID)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, creditResponse(credit))
}

type transferRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Quantity    string `json:"quantity"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	creditID, err := id.ParseCreditID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r, w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	senderID, err := id.ParseUserID(req.SenderID)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	recipientID, err := id.ParseUserID(req.RecipientID)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	quantity, err := parseQuantity(req.Quantity)
	if err != nil {
		h.writeError(r, w, err)
		return
	}

	credit, err := h.credits.TransferCredits(r.Context(), creditID, senderID, recipientID, quantity)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, creditResponse(credit))
}

type retireRequest struct {
	UserID   string `json:"user_id"`
	Quantity string `json:"quantity"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleRetire(w http.ResponseWriter, r *http.Request) {
	creditID, err := id.ParseCreditID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	var req retireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r, w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	quantity, err := parseQuantity(req.Quantity)
	if err != nil {
		h.writeError(r, w, err)
		return
	}

	credit, burnHash, err := h.credits.RetireCredits(r.Context(), creditID, userID, quantity, req.Reason)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	body := creditResponse(credit)
	body["burn_tx_hash"] = burnHash
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	creditID, err := id.ParseCreditID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	credit, err := h.credits.GetCredit(r.Context(), creditID)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, creditResponse(credit))
}

func (h *Handler) handleGetBySerial(w http.ResponseWriter, r *http.Request) {
	credit, err := h.credits.GetCreditBySerial(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, creditResponse(credit))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	credits, total, err := h.credits.ListCredits(r.Context(), f)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	items := make([]map[string]any, 0, len(credits))
	for _, c := range credits {
		items = append(items, creditResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credits": items,
		"total":   total,
		"page":    f.Page,
	})
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	creditID, err := id.ParseCreditID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	txns, err := h.credits.ListTransactions(r.Context(), creditID)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	items := make([]map[string]any, 0, len(txns))
	for _, t := range txns {
		items = append(items, transactionResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": items})
}

func filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter
	if raw := q.Get("owner_id"); raw != "" {
		owner, err := id.ParseUserID(raw)
		if err != nil {
			return f, err
		}
		f.OwnerID = &owner
	}
	if raw := q.Get("project_id"); raw != "" {
		project, err := id.ParseProjectID(raw)
		if err != nil {
			return f, err
		}
		f.ProjectID = &project
	}
	if raw := q.Get("status"); raw != "" {
		status := models.CreditStatus(raw)
		switch status {
		case models.CreditStatusActive, models.CreditStatusTransferred, models.CreditStatusRetired:
			f.Status = &status
		default:
			return f, dErrors.Newf(dErrors.CodeInvalidInput, "unknown status %q", raw)
		}
	}
	if raw := q.Get("vintage"); raw != "" {
		vintage, err := strconv.Atoi(raw)
		if err != nil {
			return f, dErrors.New(dErrors.CodeInvalidInput, "vintage must be a year")
		}
		f.Vintage = &vintage
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	f.SortBy = q.Get("sort_by")
	f.SortDesc = q.Get("sort_desc") == "true"
	return f, nil
}

func parseQuantity(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Decimal{}, dErrors.New(dErrors.CodeInvalidInput, "quantity is required")
	}
	quantity, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, dErrors.New(dErrors.CodeInvalidInput, "quantity must be a decimal number")
	}
	return quantity, nil
}

func creditResponse(c *models.CreditEntry) map[string]any {
	body := map[string]any{
		"id":             c.ID.String(),
		"serial":         c.Serial,
		"project_id":     c.ProjectID.String(),
		"owner_id":       c.OwnerID.String(),
		"quantity":       c.Quantity.String(),
		"vintage":        c.Vintage,
		"status":         c.Status,
		"issued_at":      c.IssuedAt.Format(time.RFC3339),
		"last_action_at": c.LastActionAt.Format(time.RFC3339),
	}
	if c.Anchor != nil {
		body["anchor"] = map[string]string{
			"policy_id":    c.Anchor.PolicyID,
			"asset_name":   c.Anchor.AssetName,
			"mint_tx_hash": c.Anchor.MintTxHash,
		}
	}
	return body
}

func transactionResponse(t *models.CreditTransaction) map[string]any {
	body := map[string]any{
		"id":         t.ID.String(),
		"credit_id":  t.CreditID.String(),
		"type":       t.Type,
		"quantity":   t.Quantity.String(),
		"status":     t.Status,
		"created_at": t.CreatedAt.Format(time.RFC3339),
	}
	if t.Sender != nil {
		body["sender_id"] = t.Sender.String()
	}
	if t.Recipient != nil {
		body["recipient_id"] = t.Recipient.String()
	}
	if t.TxHash != "" {
		body["tx_hash"] = t.TxHash
	}
	return body
}

func (h *Handler) writeError(r *http.Request, w http.ResponseWriter, err error) {
	var dErr *dErrors.Error
	status := http.StatusInternalServerError
	message := "internal error"
	if errors.As(err, &dErr) {
		message = dErr.Message
		switch dErr.Code {
		case dErrors.CodeInvalidInput:
			status = http.StatusBadRequest
		case dErrors.CodeNotFound:
			status = http.StatusNotFound
		case dErrors.CodeUnauthorized:
			status = http.StatusForbidden
		case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
			status = http.StatusConflict
		case dErrors.CodeAnchorFailed, dErrors.CodeUnavailable:
			status = http.StatusBadGateway
		}
	}
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "request_id", requestcontext.RequestID(r.Context()), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
