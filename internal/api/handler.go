package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fees"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	engine     *fees.Engine
	aggregates *aggregate.Service
	version    string
	policy     fees.NoMatchPolicy
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *fees.Engine, aggregates *aggregate.Service, version string, policy fees.NoMatchPolicy) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		engine:     engine,
		aggregates: aggregates,
		version:    version,
		policy:     policy,
	}
}

// TransactionInput is the transaction payload shared by the resolve,
// batch and scenario endpoints.
type TransactionInput struct {
	ID              string          `json:"id,omitempty"`
	MerchantID      string          `json:"merchantId"`
	Amount          decimal.Decimal `json:"amount"`
	CardScheme      string          `json:"cardScheme"`
	IsCredit        bool            `json:"isCredit"`
	ACI             string          `json:"aci"`
	IssuingCountry  string          `json:"issuingCountry"`
	AcquirerCountry string          `json:"acquirerCountry"`
	Year            int             `json:"year"`
	DayOfYear       int             `json:"dayOfYear"`
	Fraudulent      bool            `json:"fraudulent"`
}

func (in *TransactionInput) toDomain(tenantID string) (*domain.Transaction, string) {
	if in.MerchantID == "" {
		return nil, "merchantId is required"
	}
	if in.CardScheme == "" {
		return nil, "cardScheme is required"
	}
	if in.Amount.IsNegative() {
		return nil, "amount must not be negative"
	}
	if in.Year <= 0 || in.DayOfYear <= 0 {
		return nil, "year and dayOfYear are required"
	}

	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &domain.Transaction{
		ID:              id,
		TenantID:        tenantID,
		MerchantID:      in.MerchantID,
		Amount:          in.Amount,
		CardScheme:      in.CardScheme,
		IsCredit:        in.IsCredit,
		ACI:             in.ACI,
		IssuingCountry:  in.IssuingCountry,
		AcquirerCountry: in.AcquirerCountry,
		Year:            in.Year,
		DayOfYear:       in.DayOfYear,
		Fraudulent:      in.Fraudulent,
		CreatedAt:       time.Now().UTC(),
	}, ""
}

// ResolveRequest is the request body for POST /resolve.
type ResolveRequest struct {
	Transaction TransactionInput `json:"transaction"`
}

// ResolveResponse is the response for POST /resolve.
type ResolveResponse struct {
	ResolutionID string          `json:"resolutionId"`
	TxID         string          `json:"txId"`
	RuleID       string          `json:"ruleId,omitempty"`
	Fee          decimal.Decimal `json:"fee"`
	Matched      bool            `json:"matched"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// buildContext assembles the evaluation context for a transaction from
// its stored merchant profile and merchant-month aggregate.
func (h *Handler) buildContext(r *http.Request, tenantID string, tx *domain.Transaction) (*domain.EvaluationContext, error) {
	profile, err := h.repo.GetMerchantProfile(r.Context(), tenantID, tx.MerchantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fees.ErrUnknownMerchant
		}
		return nil, err
	}

	agg, err := h.aggregates.MerchantMonth(r.Context(), tenantID, tx.MonthKey())
	if err != nil {
		return nil, err
	}

	return &domain.EvaluationContext{
		Transaction:  tx,
		Profile:      profile,
		Aggregate:    agg,
		Intracountry: tx.Intracountry(),
	}, nil
}

// Resolve handles POST /resolve requests: it matches one transaction
// against the fee catalog and computes the applicable fee.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx, msg := req.Transaction.toDomain(tenantID)
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	ectx, err := h.buildContext(r, tenantID, tx)
	if err != nil {
		if errors.Is(err, fees.ErrUnknownMerchant) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "unknown merchant: " + tx.MerchantID,
			})
			return
		}
		slog.Error("failed to build evaluation context", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build evaluation context",
		})
		return
	}

	fee, rule, err := h.engine.ResolveFee(ectx)
	matched := err == nil
	switch {
	case matched:
	case errors.Is(err, fees.ErrNoMatchingRule) && h.policy == fees.Lenient:
		fee = decimal.Zero
	case errors.Is(err, fees.ErrNoMatchingRule):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "no fee rule matches transaction " + tx.ID,
		})
		return
	default:
		slog.Error("fee resolution failed", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "fee resolution failed",
		})
		return
	}

	res := &domain.FeeResolution{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		TxID:       tx.ID,
		MerchantID: tx.MerchantID,
		Fee:        fee,
		Matched:    matched,
		ResolvedAt: time.Now().UnixNano(),
	}
	if rule != nil {
		res.RuleID = rule.ID
	}

	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		}
		if err := h.repo.SaveResolution(ctx, tenantID, res); err != nil {
			slog.Error("failed to save resolution", "resolution_id", res.ID, "error", err)
		}
	}

	if h.cache != nil {
		// Rolling per-merchant resolution counter, best effort
		if _, err := h.cache.IncrementCounter(ctx, tenantID, "resolutions:"+tx.MerchantID, 24*time.Hour); err != nil {
			slog.Debug("failed to increment resolution counter", "merchant_id", tx.MerchantID, "error", err)
		}
	}

	if h.bus != nil {
		topic := domain.TopicFeeResolved
		if !matched {
			topic = domain.TopicFeeNoMatch
		}
		payload, _ := json.Marshal(res)
		if err := h.bus.Publish(ctx, tenantID, topic, payload); err != nil {
			slog.Error("failed to publish resolution event", "topic", topic, "error", err)
		}
	}

	resp := ResolveResponse{
		ResolutionID: res.ID,
		TxID:         tx.ID,
		RuleID:       res.RuleID,
		Fee:          fee,
		Matched:      matched,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// BatchRequest is the request body for POST /resolve/batch.
type BatchRequest struct {
	Transactions []TransactionInput `json:"transactions"`

	// Policy overrides the server default: "strict" or "lenient".
	Policy string `json:"policy,omitempty"`
}

// ResolveBatch handles POST /resolve/batch: all transactions share one
// aggregation window, so monthly volumes and fraud ratios are computed
// from the batch itself.
func (h *Handler) ResolveBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one transaction is required",
		})
		return
	}

	policy := h.policy
	if req.Policy != "" {
		p, err := fees.ParseNoMatchPolicy(req.Policy)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		policy = p
	}

	txs := make([]*domain.Transaction, 0, len(req.Transactions))
	for _, in := range req.Transactions {
		tx, msg := in.toDomain(tenantID)
		if msg != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
			return
		}
		txs = append(txs, tx)
	}

	profileList, err := h.repo.ListMerchantProfiles(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list merchant profiles", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load merchant profiles",
		})
		return
	}
	profiles := make(map[string]*domain.MerchantProfile, len(profileList))
	for _, p := range profileList {
		profiles[p.MerchantID] = p
	}

	resolutions, summary, err := h.engine.ResolveBatch(tenantID, txs, profiles, policy)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, fees.ErrNoMatchingRule) || errors.Is(err, fees.ErrUnknownMerchant) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveTransactions(ctx, tenantID, txs); err != nil {
			slog.Error("failed to save batch transactions", "count", len(txs), "error", err)
		}
		for _, res := range resolutions {
			if err := h.repo.SaveResolution(ctx, tenantID, res); err != nil {
				slog.Error("failed to save resolution", "resolution_id", res.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resolutions": resolutions,
		"summary":     summary,
	})
}

// ScenarioRequest is the request body for POST /scenario.
type ScenarioRequest struct {
	Transaction TransactionInput `json:"transaction"`

	// Candidates restricts the ACI sweep; empty means the full alphabet.
	Candidates []string `json:"candidates,omitempty"`

	// Objective is "minimize" (default) or "maximize".
	Objective string `json:"objective,omitempty"`
}

// Scenario handles POST /scenario: it re-resolves the transaction under
// each candidate ACI and reports the fee spread plus the optimum.
func (h *Handler) Scenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	objective, err := fees.ParseObjective(req.Objective)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	tx, msg := req.Transaction.toDomain(tenantID)
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	ectx, err := h.buildContext(r, tenantID, tx)
	if err != nil {
		if errors.Is(err, fees.ErrUnknownMerchant) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "unknown merchant: " + tx.MerchantID,
			})
			return
		}
		slog.Error("failed to build evaluation context", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build evaluation context",
		})
		return
	}

	feesByACI, err := h.engine.SweepACI(ectx, req.Candidates)
	if err != nil {
		if errors.Is(err, fees.ErrNoMatchingRule) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "no fee rule matches any candidate ACI",
			})
			return
		}
		slog.Error("scenario sweep failed", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scenario sweep failed",
		})
		return
	}

	bestACI, bestFee, err := fees.Best(feesByACI, objective)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fees": feesByACI,
		"best": map[string]any{
			"aci": bestACI,
			"fee": bestFee,
		},
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetResolution retrieves a fee resolution by ID.
func (h *Handler) GetResolution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	resID := chi.URLParam(r, "id")

	if resID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "resolution id is required",
		})
		return
	}

	res, err := h.repo.GetResolution(ctx, tenantID, resID)
	if err != nil {
		slog.Error("failed to get resolution", "id", resID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "resolution not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// IngestTransactions handles POST /transactions: transactions are
// persisted and announced on the bus; the worker resolves them
// asynchronously.
func (h *Handler) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var inputs []TransactionInput
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(inputs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one transaction is required",
		})
		return
	}

	txs := make([]*domain.Transaction, 0, len(inputs))
	for _, in := range inputs {
		tx, msg := in.toDomain(tenantID)
		if msg != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
			return
		}
		txs = append(txs, tx)
	}

	if err := h.repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		slog.Error("failed to save transactions", "count", len(txs), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transactions",
		})
		return
	}

	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.ID)

		// New volume invalidates the cached merchant-month aggregate
		_ = h.aggregates.Invalidate(ctx, tenantID, tx.MonthKey())

		if h.bus != nil {
			payload, _ := json.Marshal(tx)
			if err := h.bus.Publish(ctx, tenantID, domain.TopicTransactionIngested, payload); err != nil {
				slog.Error("failed to publish ingested transaction", "tx_id", tx.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"ingested":       len(txs),
		"transactionIds": ids,
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetAggregate handles GET /aggregates/{merchantId}?year=&month=.
func (h *Handler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	merchantID := chi.URLParam(r, "merchantId")

	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "year query parameter is required",
		})
		return
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || month < 1 || month > 12 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "month query parameter must be 1-12",
		})
		return
	}

	key := domain.MonthKey{MerchantID: merchantID, Year: year, Month: time.Month(month)}
	agg, err := h.aggregates.MerchantMonth(ctx, tenantID, key)
	if err != nil {
		slog.Error("failed to compute aggregate", "merchant_id", merchantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute aggregate",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchantId": merchantID,
		"year":       year,
		"month":      month,
		"aggregate":  agg,
	})
}

// ListMerchants returns all merchant profiles for the tenant.
func (h *Handler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	profiles, err := h.repo.ListMerchantProfiles(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list merchants", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list merchants",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchants": profiles,
		"count":     len(profiles),
	})
}

// GetMerchant retrieves one merchant profile.
func (h *Handler) GetMerchant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	merchantID := chi.URLParam(r, "id")

	profile, err := h.repo.GetMerchantProfile(ctx, tenantID, merchantID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "merchant not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// CreateMerchantRequest is the request body for creating a merchant profile.
type CreateMerchantRequest struct {
	MerchantID           string `json:"merchantId"`
	AccountType          string `json:"accountType"`
	MerchantCategoryCode int    `json:"merchantCategoryCode"`
	CaptureDelay         string `json:"captureDelay"`
}

// CreateMerchant creates or updates a merchant profile.
func (h *Handler) CreateMerchant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateMerchantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.MerchantID == "" || req.AccountType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "merchantId and accountType are required",
		})
		return
	}

	profile := &domain.MerchantProfile{
		MerchantID:           req.MerchantID,
		TenantID:             tenantID,
		AccountType:          req.AccountType,
		MerchantCategoryCode: req.MerchantCategoryCode,
		CaptureDelay:         req.CaptureDelay,
	}

	if err := h.repo.SaveMerchantProfile(ctx, tenantID, profile); err != nil {
		slog.Error("failed to save merchant profile", "merchant_id", req.MerchantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save merchant profile",
		})
		return
	}

	slog.Info("merchant profile saved", "merchant_id", req.MerchantID)
	writeJSON(w, http.StatusCreated, profile)
}

// ListRules returns the fee catalog currently loaded in the engine.
// The catalog is loaded from the database at startup and can be
// reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded catalog.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for appending a fee rule.
type CreateRuleRequest struct {
	ID                    string          `json:"id,omitempty"`
	CardScheme            string          `json:"cardScheme"`
	AccountTypes          []string        `json:"accountTypes,omitempty"`
	MerchantCategoryCodes []int           `json:"merchantCategoryCodes,omitempty"`
	CaptureDelay          *string         `json:"captureDelay,omitempty"`
	IsCredit              *bool           `json:"isCredit,omitempty"`
	ACIs                  []string        `json:"acis,omitempty"`
	Intracountry          *bool           `json:"intracountry,omitempty"`
	MonthlyVolume         *string         `json:"monthlyVolume,omitempty"`
	MonthlyFraudLevel     *string         `json:"monthlyFraudLevel,omitempty"`
	FixedAmount           decimal.Decimal `json:"fixedAmount"`
	Rate                  int64           `json:"rate"`
}

func (req *CreateRuleRequest) toDomain(tenantID string) *domain.FeeRule {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &domain.FeeRule{
		ID:                    id,
		TenantID:              tenantID,
		CardScheme:            req.CardScheme,
		AccountTypes:          req.AccountTypes,
		MerchantCategoryCodes: req.MerchantCategoryCodes,
		CaptureDelay:          req.CaptureDelay,
		IsCredit:              req.IsCredit,
		ACIs:                  req.ACIs,
		Intracountry:          req.Intracountry,
		MonthlyVolume:         req.MonthlyVolume,
		MonthlyFraudLevel:     req.MonthlyFraudLevel,
		FixedAmount:           req.FixedAmount,
		Rate:                  req.Rate,
	}
}

// CreateRule appends a rule to the end of the tenant's fee catalog.
// The rule is compiled before it is persisted, so a malformed criterion
// never reaches the database.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule := req.toDomain(tenantID)

	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	// Append at the end of the catalog
	position := h.engine.RulesCount()
	if h.repo != nil {
		if err := h.repo.SaveFeeRule(ctx, tenantID, rule, position); err != nil {
			slog.Error("failed to save fee rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	if err := h.engine.LoadRule(rule); err != nil {
		// Validated above; a failure here means the catalog and the
		// database have diverged.
		slog.Error("failed to load validated rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rule",
		})
		return
	}

	slog.Info("fee rule created", "id", rule.ID, "position", position)
	writeJSON(w, http.StatusCreated, rule)
}

// ReplaceCatalog handles PUT /rules: the whole catalog is swapped in
// the declared order. The replacement is compiled first, so a malformed
// rule leaves both the engine and the database untouched.
func (h *Handler) ReplaceCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var reqs []CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rules := make([]*domain.FeeRule, 0, len(reqs))
	for _, req := range reqs {
		rule := req.toDomain(tenantID)
		if err := h.engine.ValidateRule(rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid rule: " + err.Error(),
			})
			return
		}
		rules = append(rules, rule)
	}

	if h.repo != nil {
		if err := h.repo.ReplaceFeeCatalog(ctx, tenantID, rules); err != nil {
			slog.Error("failed to replace fee catalog", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to replace catalog",
			})
			return
		}
	}

	if err := h.engine.ReloadRules(rules); err != nil {
		slog.Error("failed to reload replaced catalog", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload catalog",
		})
		return
	}

	h.publishCatalogReloaded(r, tenantID, len(rules))

	slog.Info("fee catalog replaced", "count", len(rules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "catalog replaced successfully",
		"count":   len(rules),
	})
}

// DeleteRule removes a rule from the catalog and reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if err := h.repo.DeleteFeeRule(ctx, tenantID, ruleID); err != nil {
		slog.Error("failed to delete fee rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	// Reload the remaining catalog so the engine and database agree
	dbRules, err := h.repo.ListFeeRules(ctx, tenantID)
	if err == nil {
		if err := h.engine.ReloadRules(dbRules); err != nil {
			slog.Error("failed to reload catalog after delete", "error", err)
		} else {
			h.publishCatalogReloaded(r, tenantID, len(dbRules))
		}
	} else {
		slog.Error("failed to list rules after delete", "error", err)
	}

	slog.Info("fee rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rule deleted and catalog reloaded",
	})
}

// ReloadRules reloads the fee catalog from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListFeeRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	h.publishCatalogReloaded(r, tenantID, len(dbRules))

	slog.Info("fee catalog reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func (h *Handler) publishCatalogReloaded(r *http.Request, tenantID string, count int) {
	if h.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]int{"count": count})
	if err := h.bus.Publish(r.Context(), tenantID, domain.TopicCatalogReloaded, payload); err != nil {
		slog.Error("failed to publish catalog reload event", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
