// Package webapi exposes the ledger, sessions, rewards, VIP and admin
// operations over HTTP.
package webapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bancalabs/banca/internal/admin"
	"github.com/bancalabs/banca/internal/rewards"
	"github.com/bancalabs/banca/internal/vip"
	"github.com/bancalabs/banca/pkg/arena"
	"github.com/bancalabs/banca/pkg/cooldown"
	"github.com/bancalabs/banca/pkg/ledger"
)

// ErrInvalidServerConfig reports a misconfigured server.
var ErrInvalidServerConfig = errors.New("invalid server config")

// Server routes HTTP requests into the domain services.
type Server struct {
	config  Config
	logger  *zap.Logger
	ledger  *ledger.Service
	engine  *arena.Engine
	rewards *rewards.Service
	vips    *vip.Service
	admins  *admin.Service
}

// NewServer wires a Server over the domain services.
func NewServer(config Config, logger *zap.Logger, ledgerService *ledger.Service, engine *arena.Engine, rewardsService *rewards.Service, vipService *vip.Service, adminService *admin.Service) (*Server, error) {
	if logger == nil || ledgerService == nil || engine == nil || rewardsService == nil || vipService == nil || adminService == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidServerConfig)
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	return &Server{
		config:  config,
		logger:  logger,
		ledger:  ledgerService,
		engine:  engine,
		rewards: rewardsService,
		vips:    vipService,
		admins:  adminService,
	}, nil
}

// Router builds the gin engine with every route installed.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	corsConfig := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	// An empty origin list means the middleware would reject everything and
	// cors.New panics on it, so treat it as an open deployment.
	if len(server.config.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = server.config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")

	api.GET("/users/:user_id/wallet", server.handleWallet)

	api.POST("/rewards/daily", server.handleClaimDaily)
	api.POST("/rewards/work", server.handleClaimWork)
	api.POST("/rewards/vip", server.handleClaimVIP)

	api.POST("/sessions", server.handlePropose)
	api.GET("/sessions/:session_id", server.handleSession)
	api.POST("/sessions/:session_id/accept", server.handleAccept)
	api.POST("/sessions/:session_id/decline", server.handleDecline)
	api.POST("/sessions/:session_id/join", server.handleJoin)
	api.POST("/sessions/:session_id/finalize", server.handleFinalize)
	api.POST("/sessions/:session_id/guess", server.handleGuess)

	api.GET("/vip/:user_id", server.handleVIPStatus)
	api.PUT("/vip/:user_id/emblem", server.handleSetEmblem)

	api.POST("/admin/credits", server.handleAdminCredit)
	api.POST("/admin/grants", server.handleAdminGrant)
	api.DELETE("/admin/grants/:user_id", server.handleAdminRevoke)
	api.POST("/admin/vip-grants", server.handleVIPGrant)

	return router
}

// Run serves the router until ctx is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.config.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("webapi listening", zap.String("addr", server.config.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) handleWallet(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx, "user_id")
	if !ok {
		return
	}
	balance, err := server.ledger.Balance(ctx.Request.Context(), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	history, err := server.ledger.History(ctx.Request.Context(), userID, server.config.HistoryLimit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	transactions := make([]transactionPayload, 0, len(history))
	for _, transaction := range history {
		transactions = append(transactions, newTransactionPayload(transaction))
	}
	ctx.JSON(http.StatusOK, walletResponse{
		UserID:       userID.String(),
		BalanceCents: balance.Int64(),
		Transactions: transactions,
	})
}

func (server *Server) handleClaimDaily(ctx *gin.Context) {
	server.handleClaim(ctx, server.rewards.ClaimDaily)
}

func (server *Server) handleClaimWork(ctx *gin.Context) {
	server.handleClaim(ctx, server.rewards.ClaimWork)
}

func (server *Server) handleClaimVIP(ctx *gin.Context) {
	server.handleClaim(ctx, server.rewards.ClaimVIP)
}

func (server *Server) handleClaim(ctx *gin.Context, claim func(context.Context, ledger.UserID) (ledger.Transaction, error)) {
	var request claimRequest
	if !server.bindJSON(ctx, &request) {
		return
	}
	userID, ok := server.parseUserID(ctx, request.UserID)
	if !ok {
		return
	}
	transaction, err := claim(ctx.Request.Context(), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction": newTransactionPayload(transaction)})
}

func (server *Server) handlePropose(ctx *gin.Context) {
	var request proposeRequest
	if !server.bindJSON(ctx, &request) {
		return
	}
	kind, err := arena.ParseKind(request.Kind)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	proposer, ok := server.parseUserID(ctx, request.ProposerID)
	if !ok {
		return
	}
	proposal := arena.Proposal{
		Kind:     kind,
		Proposer: proposer,
		Stake:    ledger.AmountCents(request.StakeCents),
		Capacity: request.Capacity,
	}
	if request.OpponentID != "" {
		opponent, ok := server.parseUserID(ctx, request.OpponentID)
		if !ok {
			return
		}
		proposal.Opponent = opponent
	}
	ack, err := server.engine.Propose(ctx.Request.Context(), proposal)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, newAckPayload(ack))
}

func (server *Server) handleSession(ctx *gin.Context) {
	ack, err := server.engine.Session(ctx.Param("session_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newAckPayload(ack))
}

func (server *Server) handleAccept(ctx *gin.Context) {
	server.handleTerminalTransition(ctx, server.engine.Accept)
}

func (server *Server) handleDecline(ctx *gin.Context) {
	server.handleTerminalTransition(ctx, server.engine.Decline)
}

func (server *Server) handleFinalize(ctx *gin.Context) {
	server.handleTerminalTransition(ctx, server.engine.Finalize)
}

func (server *Server) handleTerminalTransition(ctx *gin.Context, transition func(context.Context, string, ledger.UserID) (arena.Outcome, error)) {
	var request participantRequest
	if !server.bindJSON(ctx, &request) {
		return
	}
	userID, ok := server.parseUserID(ctx, request.UserID)
	if !ok {
		return
	}
	outcome, err := transition(ctx.Request.Context(), ctx.Param("session_id"), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"outcome": newOutcomePayload(outcome)})
}

func (server *Server) handleJoin(ctx *gin.Context) {
	var request participantRequest
	if !server.bindJSON(ctx, &request) {
		return
	}
	userID, ok := server.parseUserID(ctx, request.UserID)
	if !ok {
		return
	}
	ack, outcome, err := server.engine.Join(ctx.Request.Context(), ctx.Param("session_id"), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	response := gin.H{"session": newAckPayload(ack)}
	if outcome != nil {
		response["outcome"] = newOutcomePayload(*outcome)
	}
	ctx.JSON(http.StatusOK, response)
}

func (server *Server) handleGuess(ctx *gin.Context) {
	var request guessRequest
	if !server.bindJSON(ctx, &request) {
		return
	}
	userID, ok := server.parseUserID(ctx, request.UserID)
	if !ok {
		return
	}
	outcome, err := server.engine.Guess(ctx.Request.Context(), ctx.Param("session_id"), userID, request.Choice)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"outcome": newOutcomePayload(outcome)})
}

func (server *Server) handleVIPStatus(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx, "user_id")
	if !ok {
		return
	}
	entitlement, err := server.vips.Entitlement(ctx.Request.Context(), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newEntitlementPayload(entitlement))
}

func (server *Server) handleSetEmblem(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx, "user_id")
	if !ok {
		return
	}
	var request emblemRequest
	if !server.bindJSON(ctx, &request) {
		return
	}
	entitlement, err := server.vips.SetEmblem(ctx.Request.Context(), userID, request.Emblem)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newEntitlementPayload(entitlement))
}

func (server *Server) handleAdminCredit(ctx *gin.Context) {
	var request adminCreditRequest
	if !server.bindJSON(ctx, &request) {
		return
	}
	adminID, ok := server.parseUserID(ctx, request.AdminID)
	if !ok {
		return
	}
	userID, ok := server.parseUserID(ctx, request.UserID)
	if !ok {
		return
	}
	transaction, err := server.admins.Credit(ctx.Request.Context(), adminID, userID, ledger.AmountCents(request.AmountCents), request.Note)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction": newTransactionPayload(transaction)})
}

func (server *Server) handleAdminGrant(ctx *gin.Context) {
	var request adminGrantRequest
	if !server.bindJSON(ctx, &request) {
		return
	}
	adminID, ok := server.parseUserID(ctx, request.AdminID)
	if !ok {
		return
	}
	userID, ok := server.parseUserID(ctx, request.UserID)
	if !ok {
		return
	}
	if err := server.admins.GrantAccess(ctx.Request.Context(), adminID, userID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"status": "granted"})
}

func (server *Server) handleAdminRevoke(ctx *gin.Context) {
	adminID, ok := server.parseUserID(ctx, ctx.Query("admin_id"))
	if !ok {
		return
	}
	userID, ok := server.pathUserID(ctx, "user_id")
	if !ok {
		return
	}
	if err := server.admins.RevokeAccess(ctx.Request.Context(), adminID, userID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (server *Server) handleVIPGrant(ctx *gin.Context) {
	var request vipGrantRequest
	if !server.bindJSON(ctx, &request) {
		return
	}
	adminID, ok := server.parseUserID(ctx, request.AdminID)
	if !ok {
		return
	}
	authorized, err := server.admins.IsAuthorized(ctx.Request.Context(), adminID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if !authorized {
		server.respondError(ctx, fmt.Errorf("%w: %s", admin.ErrNotAuthorized, adminID))
		return
	}
	userID, ok := server.parseUserID(ctx, request.UserID)
	if !ok {
		return
	}
	entitlement, err := server.vips.Grant(ctx.Request.Context(), userID, time.Duration(request.Days)*24*time.Hour)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newEntitlementPayload(entitlement))
}

func (server *Server) bindJSON(ctx *gin.Context, request any) bool {
	if err := ctx.ShouldBindJSON(request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return false
	}
	return true
}

func (server *Server) pathUserID(ctx *gin.Context, param string) (ledger.UserID, bool) {
	return server.parseUserID(ctx, ctx.Param(param))
}

func (server *Server) parseUserID(ctx *gin.Context, raw string) (ledger.UserID, bool) {
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		server.respondError(ctx, err)
		return ledger.UserID{}, false
	}
	return userID, true
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	var active cooldown.ActiveError
	if errors.As(err, &active) {
		ctx.JSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{
				"code":                "cooldown_active",
				"message":             err.Error(),
				"retry_after_seconds": int64(active.Remaining / time.Second),
			},
		})
		return
	}

	switch {
	case errors.Is(err, ledger.ErrInvalidUserID),
		errors.Is(err, ledger.ErrInvalidAmountCents),
		errors.Is(err, ledger.ErrInvalidTransactionKind),
		errors.Is(err, ledger.ErrSameAccountTransfer),
		errors.Is(err, arena.ErrInvalidStake),
		errors.Is(err, arena.ErrInvalidCapacity),
		errors.Is(err, arena.ErrInvalidChoice),
		errors.Is(err, arena.ErrInvalidKind),
		errors.Is(err, vip.ErrInvalidDuration),
		errors.Is(err, vip.ErrInvalidEmblem):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_argument", err.Error()))
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, arena.ErrInsufficientFunds):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("insufficient_funds", err.Error()))
	case errors.Is(err, arena.ErrUnknownSession),
		errors.Is(err, vip.ErrNotVIP),
		errors.Is(err, admin.ErrGrantNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, arena.ErrSessionAlreadyTerminal),
		errors.Is(err, arena.ErrSessionNotJoinable),
		errors.Is(err, arena.ErrAlreadyGuessed),
		errors.Is(err, arena.ErrCapacityExceeded),
		errors.Is(err, arena.ErrNotEnoughParticipants),
		errors.Is(err, admin.ErrAlreadyAuthorized):
		ctx.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	case errors.Is(err, admin.ErrNotAuthorized),
		errors.Is(err, arena.ErrInvalidParticipant),
		errors.Is(err, vip.ErrVIPExpired):
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", err.Error()))
	default:
		server.logger.Error("request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "internal error"))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
