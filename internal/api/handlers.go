package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"

	"github.com/eigerco/lottery/internal/crypto"
	"github.com/eigerco/lottery/internal/program"
	"github.com/eigerco/lottery/internal/state"
	"github.com/eigerco/lottery/pkg/log"
)

// errorResponse carries the failure and the state after it, so clients
// never need a second request to re-render.
type errorResponse struct {
	Error     string     `json:"error"`
	RequestID string     `json:"requestId"`
	State     state.View `json:"state"`
}

// GetState serves the current view with an ETag over its JSON encoding.
func (h *Handler) GetState(c *gin.Context) {
	body, err := json.Marshal(h.svc.View())
	if err != nil {
		log.API.Error().Err(err).Msg("encode state")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	tag := crypto.HashData(body).ETag()
	c.Header("ETag", tag)
	c.Header("Cache-Control", "no-cache")
	if c.GetHeader("If-None-Match") == tag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *Handler) GetHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.View().History)
}

// Events streams the view as server-sent "state" events: once on connect
// and again after every change.
func (h *Handler) Events(c *gin.Context) {
	changes, cancel := h.svc.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.SSEvent("state", h.svc.View())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-changes:
			c.SSEvent("state", h.svc.View())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h *Handler) Refresh(c *gin.Context) {
	err := h.svc.Sync(c.Request.Context())
	if errors.Is(err, state.ErrSuperseded) {
		err = nil
	}
	h.respond(c, err)
}

type walletRequest struct {
	// Wallet is a base58 public key; null or empty disconnects.
	Wallet *string `json:"wallet"`
}

func (h *Handler) SetWallet(c *gin.Context) {
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}
	var wallet *solana.PublicKey
	if req.Wallet != nil && *req.Wallet != "" {
		key, err := solana.PublicKeyFromBase58(*req.Wallet)
		if err != nil {
			h.fail(c, http.StatusBadRequest, &program.ValidationError{Field: "wallet", Reason: err.Error()})
			return
		}
		wallet = &key
	}
	err := h.svc.SetWallet(c.Request.Context(), wallet)
	if errors.Is(err, state.ErrSuperseded) {
		err = nil
	}
	h.respond(c, err)
}

func (h *Handler) InitializeMaster(c *gin.Context) {
	h.act(c, h.svc.InitializeMaster)
}

type createRoundRequest struct {
	// EntryFee is the ticket price in lamports.
	EntryFee uint64 `json:"entryFee"`
}

func (h *Handler) CreateRound(c *gin.Context) {
	var req createRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}
	h.act(c, func(ctx context.Context) error {
		return h.svc.CreateRound(ctx, req.EntryFee)
	})
}

func (h *Handler) BuyTicket(c *gin.Context) {
	h.act(c, h.svc.BuyTicket)
}

func (h *Handler) PickWinner(c *gin.Context) {
	h.act(c, h.svc.PickWinner)
}

func (h *Handler) ClaimPrize(c *gin.Context) {
	h.act(c, h.svc.ClaimPrize)
}

func (h *Handler) act(c *gin.Context, action func(context.Context) error) {
	h.respond(c, action(c.Request.Context()))
}

func (h *Handler) respond(c *gin.Context, err error) {
	if err != nil {
		h.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, h.svc.View())
}

func (h *Handler) fail(c *gin.Context, status int, err error) {
	c.JSON(status, errorResponse{
		Error:     err.Error(),
		RequestID: c.GetString(requestIDKey),
		State:     h.svc.View(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrWalletNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, state.ErrNotRoundAuthority):
		return http.StatusForbidden
	case errors.Is(err, state.ErrReadOnly):
		return http.StatusNotImplemented
	case errors.Is(err, state.ErrMasterInitialized),
		errors.Is(err, state.ErrMasterMissing),
		errors.Is(err, state.ErrNoActiveRound),
		errors.Is(err, state.ErrRoundFinished),
		errors.Is(err, state.ErrNothingToClaim):
		return http.StatusConflict
	case program.IsValidation(err):
		return http.StatusBadRequest
	case program.IsNotFound(err):
		return http.StatusNotFound
	case program.IsTransport(err), program.IsInconsistent(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
