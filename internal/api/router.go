// Package api exposes the synchronised lottery state and its actions over
// HTTP.
package api

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"

	"github.com/eigerco/lottery/internal/state"
)

// Service is the state store as seen by the handlers. *state.Store
// satisfies it.
type Service interface {
	View() state.View
	Subscribe() (<-chan struct{}, func())
	Sync(ctx context.Context) error
	SetWallet(ctx context.Context, wallet *solana.PublicKey) error

	InitializeMaster(ctx context.Context) error
	CreateRound(ctx context.Context, entryFee uint64) error
	BuyTicket(ctx context.Context) error
	PickWinner(ctx context.Context) error
	ClaimPrize(ctx context.Context) error
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// NewRouter builds the gin engine serving every route under /api.
func NewRouter(svc Service) *gin.Engine {
	engine := gin.New()
	engine.Use(RequestID(), AccessLog(), gin.Recovery())

	h := NewHandler(svc)
	h.RegisterRoutes(engine.Group("/api"))
	return engine
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/state", h.GetState)
	r.GET("/history", h.GetHistory)
	r.GET("/events", h.Events)
	r.POST("/refresh", h.Refresh)
	r.PUT("/wallet", h.SetWallet)

	r.POST("/master", h.InitializeMaster)
	r.POST("/rounds", h.CreateRound)
	r.POST("/tickets", h.BuyTicket)
	r.POST("/rounds/current/winner", h.PickWinner)
	r.POST("/rounds/current/claim", h.ClaimPrize)
}
