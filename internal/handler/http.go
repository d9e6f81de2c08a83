package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/staked-tictactoe/internal/domain"
	"github.com/staked-tictactoe/internal/service"
	"github.com/staked-tictactoe/internal/websocket"
)

// Identity headers
const (
	HeaderWallet  = "X-Wallet-Address"
	HeaderChainID = "X-Chain-Id"
)

// Options configures the HTTP surface
type Options struct {
	// ChainID, when set, must match the X-Chain-Id header of requests that send one.
	ChainID        string
	AllowedOrigins []string
}

// Handler provides HTTP handlers for the match engine API
type Handler struct {
	service *service.MatchService
	hub     *websocket.Hub
	opts    Options
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.MatchService, hub *websocket.Hub, opts Options, logger *slog.Logger) *Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Handler{
		service: service,
		hub:     hub,
		opts:    opts,
		logger:  logger,
	}
}

// APIResponse represents a standard API response. Code names the domain
// error kind so clients can map failures back.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", HeaderWallet, HeaderChainID},
		AllowCredentials: false,
		MaxAge:           60 * 15,
	}))

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(h.chainGuard)

		// Token
		r.Get("/token", h.GetTokenInfo)
		r.Post("/token/mint", h.Mint)
		r.Post("/token/faucet", h.Faucet)
		r.Post("/token/transfer", h.Transfer)
		r.Post("/token/approve", h.Approve)
		r.Post("/token/transfer-from", h.TransferFrom)
		r.Post("/token/minters", h.AddMinter)
		r.Delete("/token/minters/{address}", h.RemoveMinter)

		r.Get("/accounts/{address}", h.GetBalance)
		r.Get("/accounts/{address}/allowances/{spender}", h.GetAllowance)

		// Matches
		r.Route("/matches", func(r chi.Router) {
			r.Post("/", h.CreateMatch)
			r.Get("/", h.MatchHistory)
			r.Get("/open", h.ListOpenMatches)

			r.Route("/{matchID}", func(r chi.Router) {
				r.Get("/", h.GetMatch)
				r.Get("/moves", h.GetMoves)
				r.Get("/events", h.GetMatchEvents)
				r.Post("/join", h.JoinMatch)
				r.Post("/moves", h.SubmitMove)
				r.Post("/claim", h.ClaimWinnings)
			})
		})

		// Players
		r.Get("/players/top", h.TopWinners)
		r.Get("/players/{address}/matches", h.PlayerMatches)
		r.Get("/players/{address}/stats", h.PlayerStats)
		r.Get("/platform", h.Platform)

		// Sessions
		r.Get("/sessions/{name}", h.GetSession)
		r.Put("/sessions/{name}/snapshot", h.PutSnapshot)
		r.Post("/sessions/{name}/presence", h.Heartbeat)
		r.Delete("/sessions/{name}/presence/{peer}", h.LeaveSession)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// chainGuard rejects requests signed for another chain
func (h *Handler) chainGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.ChainID != "" {
			if got := r.Header.Get(HeaderChainID); got != "" && got != h.opts.ChainID {
				h.writeError(w, fmt.Errorf("%w: wrong chain %q", domain.ErrInvalidRequest, got))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps a domain error kind to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotWinner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrMatchClosed),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrCellOccupied),
		errors.Is(err, domain.ErrNotYourTurn),
		errors.Is(err, domain.ErrStakeMismatch),
		errors.Is(err, domain.ErrSelfJoinForbidden):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrSupplyExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidMove),
		errors.Is(err, domain.ErrInvalidStake),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response. Unclassified errors are logged
// and hidden behind ErrInternalError.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		err = domain.ErrInternalError
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
		Code:    domain.Kind(err),
	})
}

// decode reads a JSON request body into v
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

// caller resolves the acting address from the wallet header or the body
func caller(r *http.Request, fromBody string) (string, error) {
	addr := r.Header.Get(HeaderWallet)
	if addr == "" {
		addr = fromBody
	}
	addr = domain.NormalizeAddress(addr)
	if addr == "" {
		return "", fmt.Errorf("%w: %s header is required", domain.ErrInvalidRequest, HeaderWallet)
	}
	return addr, nil
}

func matchID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "matchID"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad match id %q", domain.ErrInvalidRequest, chi.URLParam(r, "matchID"))
	}
	return id, nil
}

func queryInt(r *http.Request, key string) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"status":  "ready",
		"matches": h.service.Engine().MatchCount(),
	})
}
