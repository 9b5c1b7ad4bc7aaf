// Package httpapi exposes the lottery engine over REST.
package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/metrics"
	"github.com/R3E-Network/lottery_engine/internal/app/services/engine"
	"github.com/R3E-Network/lottery_engine/pkg/logger"
)

// callerHeader identifies the acting address on mutating requests.
const callerHeader = "X-Caller-Address"

type handler struct {
	engine *engine.Service
	log    *logger.Logger
}

// Options tunes the router middleware.
type Options struct {
	// RateLimit is the sustained requests-per-second budget per caller.
	// Zero disables rate limiting.
	RateLimit float64
	RateBurst int
}

// NewHandler returns the REST router for the engine.
func NewHandler(svc *engine.Service, log *logger.Logger, opts Options) http.Handler {
	h := &handler{engine: svc, log: log}

	r := chi.NewRouter()
	r.Use(metrics.InstrumentHandler)
	if opts.RateLimit > 0 {
		r.Use(newRateLimiter(opts.RateLimit, opts.RateBurst, log).middleware)
	}

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/deposits", h.deposit)
	r.Get("/entries", h.entries)
	r.Get("/stats", h.stats)

	r.Get("/tiers", h.tiers)
	r.Get("/tiers/{kind}", h.tier)
	r.Post("/tiers/{kind}/finish", h.finishTier)

	r.Post("/draws/callback", h.drawCallback)
	r.Get("/settlements", h.settlements)

	r.Get("/players", h.players)
	r.Get("/players/{address}", h.player)
	r.Get("/players/{address}/bonus", h.bonus)
	r.Post("/players/{address}/bonus/withdraw", h.withdrawBonus)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/config", h.adminConfig)
		r.Put("/ticket-price", h.setTicketPrice)
		r.Put("/referral-cut", h.setReferralCut)
		r.Put("/tiers/{kind}/thresholds", h.setThresholds)
		r.Post("/transfer", h.transferAdmin)
	})

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Buyer    string `json:"buyer"`
		Referrer string `json:"referrer"`
		Tickets  int64  `json:"tickets"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.engine.Deposit(r.Context(), payload.Buyer, payload.Referrer, payload.Tickets)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) entries(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)
	writeJSON(w, http.StatusOK, h.engine.Entries(offset, limit))
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_deposited": h.engine.TotalDeposited(),
		"total_tickets":   h.engine.TotalTickets(),
		"ticket_price":    h.engine.TicketPrice(),
		"bonus":           h.engine.Bonus(),
	})
}

func (h *handler) tiers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Tiers())
}

func (h *handler) tier(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Tier(lottery.TierKind(chi.URLParam(r, "kind")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) finishTier(w http.ResponseWriter, r *http.Request) {
	draw, err := h.engine.FinishTier(r.Context(), lottery.TierKind(chi.URLParam(r, "kind")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	// Settlement completes when the beacon calls back with the draw.
	writeJSON(w, http.StatusAccepted, draw)
}

func (h *handler) drawCallback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
		Value int64  `json:"value"`
		Proof string `json:"proof"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	proof, err := hex.DecodeString(payload.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("proof must be hex encoded"))
		return
	}

	settlement, err := h.engine.OnDrawReceived(r.Context(), payload.Token, payload.Value, proof)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (h *handler) settlements(w http.ResponseWriter, r *http.Request) {
	kind := lottery.TierKind(r.URL.Query().Get("tier"))
	limit := queryInt(r, "limit", 50)

	settlements, err := h.engine.Settlements(r.Context(), kind, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if settlements == nil {
		settlements = []lottery.Settlement{}
	}
	writeJSON(w, http.StatusOK, settlements)
}

func (h *handler) players(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Players())
}

func (h *handler) player(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Player(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) bonus(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":   addr,
		"available": h.engine.AvailableBonus(addr),
	})
}

func (h *handler) withdrawBonus(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	amount, err := h.engine.WithdrawBonus(r.Context(), addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"amount":  amount,
	})
}

func (h *handler) adminConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_price": h.engine.TicketPrice(),
		"referral_bps": h.engine.ReferralCut(),
		"tiers":        h.engine.Tiers(),
	})
}

func (h *handler) setTicketPrice(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Price int64 `json:"price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.SetTicketPrice(caller(r), payload.Price); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setReferralCut(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Bps int64 `json:"bps"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.SetReferralCut(caller(r), payload.Bps); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setThresholds(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MinParticipants int   `json:"min_participants"`
		MinPot          int64 `json:"min_pot"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind := lottery.TierKind(chi.URLParam(r, "kind"))
	if err := h.engine.SetTierThresholds(caller(r), kind, payload.MinParticipants, payload.MinPot); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) transferAdmin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Next string `json:"next"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.TransferAdmin(caller(r), payload.Next); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func caller(r *http.Request) string {
	return r.Header.Get(callerHeader)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeEngineError maps engine sentinel errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lottery.ErrInvalidInput), errors.Is(err, lottery.ErrUnknownTier):
		status = http.StatusBadRequest
	case errors.Is(err, lottery.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, lottery.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, lottery.ErrUnknownCorrelationToken):
		status = http.StatusNotFound
	case errors.Is(err, lottery.ErrProofVerificationFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, lottery.ErrThresholdNotMet),
		errors.Is(err, lottery.ErrAlreadyAwaitingRandomness),
		errors.Is(err, lottery.ErrNothingToWithdraw),
		errors.Is(err, lottery.ErrNoValidWinner):
		status = http.StatusConflict
	case errors.Is(err, lottery.ErrTransferFailed):
		status = http.StatusBadGateway
	}
	writeError(w, status, err)
}
