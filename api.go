package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

func getValidator() *validator.Validate {
	return validator.New()
}

var validate = getValidator()

// APIServer is the thin JSON surface over the ledger services. Routing and
// auth glue stay deliberately small: the caller identity comes from the
// X-Caller-Id header and is recorded, never verified.
type APIServer struct {
	accounts   *AccountService
	currencies *CurrencyService
	ceilings   *CeilingService
	receipts   *VoucherService
	payments   *VoucherService
	manual     *ManualJournalService
	actions    *ActionLogStore
	logger     Logger
	metrics    *Metrics
}

func NewAPIServer(
	accounts *AccountService,
	currencies *CurrencyService,
	ceilings *CeilingService,
	receipts *VoucherService,
	payments *VoucherService,
	manual *ManualJournalService,
	actions *ActionLogStore,
	logger Logger,
	metrics *Metrics,
) *APIServer {
	return &APIServer{
		accounts:   accounts,
		currencies: currencies,
		ceilings:   ceilings,
		receipts:   receipts,
		payments:   payments,
		manual:     manual,
		actions:    actions,
		logger:     logger.NewSystem("api"),
		metrics:    metrics,
	}
}

// RegisterRoutes attaches all handlers to the mux.
func (a *APIServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/accounts", a.handleListAccounts)
	mux.HandleFunc("POST /api/accounts", a.handleCreateAccount)
	mux.HandleFunc("GET /api/accounts/tree", a.handleAccountTree)
	mux.HandleFunc("GET /api/accounts/roots", a.handleAccountRoots)
	mux.HandleFunc("GET /api/accounts/{id}", a.handleGetAccount)
	mux.HandleFunc("DELETE /api/accounts/{id}", a.handleDeactivateAccount)

	mux.HandleFunc("GET /api/account-groups", a.handleListGroups)
	mux.HandleFunc("POST /api/account-groups", a.handleCreateGroup)

	mux.HandleFunc("GET /api/currencies", a.handleListCurrencies)
	mux.HandleFunc("POST /api/currencies", a.handleCreateCurrency)
	mux.HandleFunc("PATCH /api/currencies/{id}", a.handleUpdateCurrency)
	mux.HandleFunc("DELETE /api/currencies/{id}", a.handleDeactivateCurrency)

	mux.HandleFunc("GET /api/ceilings", a.handleListCeilings)
	mux.HandleFunc("POST /api/ceilings", a.handleCreateCeiling)
	mux.HandleFunc("PATCH /api/ceilings/{id}", a.handleUpdateCeiling)
	mux.HandleFunc("DELETE /api/ceilings/{id}", a.handleDeleteCeiling)

	mux.HandleFunc("GET /api/vouchers/receipt", a.voucherList(a.receipts))
	mux.HandleFunc("POST /api/vouchers/receipt", a.voucherCreate(a.receipts))
	mux.HandleFunc("GET /api/vouchers/receipt/{id}", a.voucherGet(a.receipts))
	mux.HandleFunc("PUT /api/vouchers/receipt/{id}", a.voucherUpdate(a.receipts))
	mux.HandleFunc("DELETE /api/vouchers/receipt/{id}", a.voucherDelete(a.receipts))

	mux.HandleFunc("GET /api/vouchers/payment", a.voucherList(a.payments))
	mux.HandleFunc("POST /api/vouchers/payment", a.voucherCreate(a.payments))
	mux.HandleFunc("GET /api/vouchers/payment/{id}", a.voucherGet(a.payments))
	mux.HandleFunc("PUT /api/vouchers/payment/{id}", a.voucherUpdate(a.payments))
	mux.HandleFunc("DELETE /api/vouchers/payment/{id}", a.voucherDelete(a.payments))

	mux.HandleFunc("GET /api/journals/manual", a.handleListManual)
	mux.HandleFunc("POST /api/journals/manual", a.handleCreateManual)
	mux.HandleFunc("GET /api/journals/manual/{ref}", a.handleGetManual)
	mux.HandleFunc("PUT /api/journals/manual/{ref}", a.handleUpdateManual)
	mux.HandleFunc("DELETE /api/journals/manual/{ref}", a.handleDeleteManual)

	mux.HandleFunc("GET /api/actions", a.handleListActions)
}

func (a *APIServer) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	accounts, err := a.accounts.List(activeOnly, listOptionsFromQuery(r))
	a.respond(w, r, accounts, err)
}

func (a *APIServer) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var params CreateAccountParams
	if !a.decode(w, r, &params) {
		return
	}
	account, err := a.accounts.Create(&params, callerID(r))
	a.respondCreated(w, r, account, err)
}

func (a *APIServer) handleAccountTree(w http.ResponseWriter, r *http.Request) {
	tree, err := a.accounts.Tree()
	a.respond(w, r, tree, err)
}

func (a *APIServer) handleAccountRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := a.accounts.Roots()
	a.respond(w, r, roots, err)
}

func (a *APIServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	account, err := a.accounts.Get(id)
	a.respond(w, r, account, err)
}

func (a *APIServer) handleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	err := a.accounts.Deactivate(id, callerID(r))
	a.respondNoContent(w, r, err)
}

func (a *APIServer) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.accounts.ListGroups()
	a.respond(w, r, groups, err)
}

func (a *APIServer) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	if !a.decode(w, r, &params) {
		return
	}
	group, err := a.accounts.CreateGroup(params.Name, params.Description)
	a.respondCreated(w, r, group, err)
}

func (a *APIServer) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := a.currencies.ListActive(listOptionsFromQuery(r))
	a.respond(w, r, currencies, err)
}

func (a *APIServer) handleCreateCurrency(w http.ResponseWriter, r *http.Request) {
	var params CreateCurrencyParams
	if !a.decode(w, r, &params) {
		return
	}
	currency, err := a.currencies.Create(&params)
	a.respondCreated(w, r, currency, err)
}

func (a *APIServer) handleUpdateCurrency(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var params UpdateCurrencyParams
	if !a.decode(w, r, &params) {
		return
	}
	currency, err := a.currencies.Update(id, &params)
	a.respond(w, r, currency, err)
}

func (a *APIServer) handleDeactivateCurrency(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a.respondNoContent(w, r, a.currencies.Deactivate(id))
}

func (a *APIServer) handleListCeilings(w http.ResponseWriter, r *http.Request) {
	ceilings, err := a.ceilings.List(listOptionsFromQuery(r))
	a.respond(w, r, ceilings, err)
}

func (a *APIServer) handleCreateCeiling(w http.ResponseWriter, r *http.Request) {
	var params CeilingParams
	if !a.decode(w, r, &params) {
		return
	}
	ceiling, err := a.ceilings.Create(&params)
	a.respondCreated(w, r, ceiling, err)
}

func (a *APIServer) handleUpdateCeiling(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var params UpdateCeilingParams
	if !a.decode(w, r, &params) {
		return
	}
	ceiling, err := a.ceilings.Update(id, &params)
	a.respond(w, r, ceiling, err)
}

func (a *APIServer) handleDeleteCeiling(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a.respondNoContent(w, r, a.ceilings.Delete(id))
}

func (a *APIServer) voucherList(svc *VoucherService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vouchers, err := svc.List(listOptionsFromQuery(r))
		a.respond(w, r, vouchers, err)
	}
}

func (a *APIServer) voucherCreate(svc *VoucherService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params VoucherParams
		if !a.decode(w, r, &params) {
			return
		}
		voucher, err := svc.Create(&params, callerID(r))
		a.respondCreated(w, r, voucher, err)
	}
}

func (a *APIServer) voucherGet(svc *VoucherService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		voucher, err := svc.Get(id)
		a.respond(w, r, voucher, err)
	}
}

func (a *APIServer) voucherUpdate(svc *VoucherService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var params VoucherParams
		if !a.decode(w, r, &params) {
			return
		}
		voucher, err := svc.Update(id, &params, callerID(r))
		a.respond(w, r, voucher, err)
	}
}

func (a *APIServer) voucherDelete(svc *VoucherService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		a.respondNoContent(w, r, svc.Delete(id, callerID(r)))
	}
}

func (a *APIServer) handleListManual(w http.ResponseWriter, r *http.Request) {
	journals, err := a.manual.List(listOptionsFromQuery(r))
	a.respond(w, r, journals, err)
}

func (a *APIServer) handleCreateManual(w http.ResponseWriter, r *http.Request) {
	var params ManualJournalParams
	if !a.decode(w, r, &params) {
		return
	}
	journal, err := a.manual.Create(&params, callerID(r))
	a.respondCreated(w, r, journal, err)
}

func (a *APIServer) handleGetManual(w http.ResponseWriter, r *http.Request) {
	ref, ok := pathID(w, r, "ref")
	if !ok {
		return
	}
	journal, err := a.manual.Get(ref)
	a.respond(w, r, journal, err)
}

func (a *APIServer) handleUpdateManual(w http.ResponseWriter, r *http.Request) {
	ref, ok := pathID(w, r, "ref")
	if !ok {
		return
	}
	var params ManualJournalParams
	if !a.decode(w, r, &params) {
		return
	}
	journal, err := a.manual.Update(ref, &params, callerID(r))
	a.respond(w, r, journal, err)
}

func (a *APIServer) handleDeleteManual(w http.ResponseWriter, r *http.Request) {
	ref, ok := pathID(w, r, "ref")
	if !ok {
		return
	}
	a.respondNoContent(w, r, a.manual.Delete(ref, callerID(r)))
}

func (a *APIServer) handleListActions(w http.ResponseWriter, r *http.Request) {
	var actor *string
	if raw := r.URL.Query().Get("actor"); raw != "" {
		actor = &raw
	}
	var label *ActionLabel
	if raw := r.URL.Query().Get("label"); raw != "" {
		l := ActionLabel(raw)
		label = &l
	}
	logs, err := a.actions.List(actor, label, listOptionsFromQuery(r))
	a.respond(w, r, logs, err)
}

func (a *APIServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeError(w, r, Validationf("invalid request body"))
		return false
	}
	return true
}

func (a *APIServer) respond(w http.ResponseWriter, r *http.Request, payload any, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, payload)
}

func (a *APIServer) respondCreated(w http.ResponseWriter, r *http.Request, payload any, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusCreated, payload)
}

func (a *APIServer) respondNoContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.count(r, http.StatusNoContent)
	w.WriteHeader(http.StatusNoContent)
}

func (a *APIServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	a.count(r, status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Warn("failed to encode response", "error", err, "path", r.URL.Path)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (a *APIServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ledgerErr LedgerError
	if !errors.As(err, &ledgerErr) {
		a.logger.Error("internal error", "error", err, "path", r.URL.Path)
		a.count(r, http.StatusInternalServerError)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(errorBody{Error: "internal error", Reason: "internal"})
		return
	}

	status := statusForReason(ledgerErr.Reason())
	a.count(r, status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: ledgerErr.Error(), Reason: ledgerErr.Reason()})
}

func statusForReason(reason string) int {
	switch reason {
	case "validation_error", "invalid_line", "unbalanced_entry":
		return http.StatusBadRequest
	case "integrity_error":
		return http.StatusUnprocessableEntity
	case "conflict", "duplicate_ceiling", "ceiling_exceeded":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *APIServer) count(r *http.Request, status int) {
	if a.metrics == nil {
		return
	}
	a.metrics.APIRequests.WithLabelValues(r.URL.Path, strconv.Itoa(status)).Inc()
}

// callerID extracts the recorded actor identity from the request, if any.
func callerID(r *http.Request) *string {
	caller := r.Header.Get("X-Caller-Id")
	if caller == "" {
		return nil
	}
	return &caller
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorBody{Error: "invalid id", Reason: "validation_error"})
		return 0, false
	}
	return uint(id), true
}

func listOptionsFromQuery(r *http.Request) *ListOptions {
	query := r.URL.Query()
	options := &ListOptions{}

	if raw := query.Get("offset"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil {
			options.Offset = uint32(v)
		}
	}
	if raw := query.Get("limit"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil {
			options.Limit = uint32(v)
		}
	}
	if raw := query.Get("sort"); raw == string(SortTypeAscending) || raw == string(SortTypeDescending) {
		sort := SortType(raw)
		options.Sort = &sort
	}

	return options
}
