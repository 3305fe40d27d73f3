package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// linkStatus is the read-only view of the signaling link the API needs.
type linkStatus interface {
	Connected() bool
}

// API serves the operator control surface and the dashboard websocket.
type API struct {
	registry      *SessionRegistry
	commands      *CommandClient
	fanout        *Fanout
	store         *RecordStore
	link          linkStatus
	bridgeKind    string
	recordMaxSec  int
	recordSilence int
	upgrader      websocket.Upgrader
}

// NewAPI wires the API to its collaborators.
func NewAPI(registry *SessionRegistry, commands *CommandClient, fanout *Fanout, store *RecordStore, link linkStatus, bridgeKind string, recordMaxSec, recordSilence int) *API {
	return &API{
		registry:      registry,
		commands:      commands,
		fanout:        fanout,
		store:         store,
		link:          link,
		bridgeKind:    bridgeKind,
		recordMaxSec:  recordMaxSec,
		recordSilence: recordSilence,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws/{tenant_id}", a.handleDashboard)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/calls/active", a.handleActiveCalls).Methods(http.MethodGet)
	api.HandleFunc("/calls/{channel}/hangup", a.handleHangup).Methods(http.MethodPost)
	api.HandleFunc("/calls/{channel}/transfer", a.handleTransfer).Methods(http.MethodPost)
	api.HandleFunc("/calls/{channel}/record", a.handleRecord).Methods(http.MethodPost)

	api.HandleFunc("/tenants", a.handleCreateTenant).Methods(http.MethodPost)
	api.HandleFunc("/tenants", a.handleListTenants).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{id}", a.handleGetTenant).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{id}", a.handleDeleteTenant).Methods(http.MethodDelete)

	api.HandleFunc("/dids", a.handleCreateDID).Methods(http.MethodPost)
	api.HandleFunc("/dids", a.handleListDIDs).Methods(http.MethodGet)
	api.HandleFunc("/dids/{number}", a.handleDeleteDID).Methods(http.MethodDelete)

	api.HandleFunc("/extensions", a.handleCreateExtension).Methods(http.MethodPost)
	api.HandleFunc("/extensions", a.handleListExtensions).Methods(http.MethodGet)
	api.HandleFunc("/extensions/{ext}", a.handleDeleteExtension).Methods(http.MethodDelete)

	api.HandleFunc("/flows", a.handleCreateFlow).Methods(http.MethodPost)
	api.HandleFunc("/flows", a.handleListFlows).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}", a.handleGetFlow).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}", a.handleDeleteFlow).Methods(http.MethodDelete)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	gateway := "disconnected"
	if a.link != nil && a.link.Connected() {
		gateway = "connected"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"gateway":      gateway,
		"active_calls": a.registry.Len(),
	})
}

func (a *API) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	var calls []CallSession
	if q := r.URL.Query().Get("tenant_id"); q != "" {
		tenantID, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}
		calls = a.registry.ListByTenant(tenantID)
	} else {
		calls = a.registry.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

// commandStatus maps a Command Client failure to an HTTP status.
func commandStatus(err error) (int, string) {
	var cmdErr *CommandError
	switch {
	case errors.Is(err, ErrLinkUnavailable):
		return http.StatusServiceUnavailable, "gateway link unavailable"
	case errors.As(err, &cmdErr):
		return http.StatusBadGateway, cmdErr.Error()
	default:
		return http.StatusBadGateway, err.Error()
	}
}

func (a *API) handleHangup(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	if err := a.commands.Hangup(r.Context(), channel); err != nil {
		httpLog.Warnf("manual hangup of %s failed: %v", channel, err)
		status, msg := commandStatus(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "call hung up"})
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	var req struct {
		Destination string `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Destination == "" {
		writeError(w, http.StatusBadRequest, "destination channel required")
		return
	}
	if _, ok := a.registry.Get(channel); !ok {
		writeError(w, http.StatusNotFound, "no active call on channel")
		return
	}

	bridgeID, err := a.commands.CreateBridge(r.Context(), a.bridgeKind)
	if err != nil {
		status, msg := commandStatus(err)
		writeError(w, status, msg)
		return
	}
	if err := a.commands.AddToBridge(r.Context(), bridgeID, channel); err != nil {
		status, msg := commandStatus(err)
		writeError(w, status, msg)
		return
	}
	if err := a.commands.AddToBridge(r.Context(), bridgeID, req.Destination); err != nil {
		status, msg := commandStatus(err)
		writeError(w, status, msg)
		return
	}

	if sess, changed, ok := a.registry.Bridge(channel, time.Now()); ok && changed {
		a.fanout.Notify(sess.TenantID, Notification{Type: notifyCallUpdated, TenantID: sess.TenantID, Call: sess})
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "call transferred", "bridge_id": bridgeID})
}

func (a *API) handleRecord(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	if _, ok := a.registry.Get(channel); !ok {
		writeError(w, http.StatusNotFound, "no active call on channel")
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if r.Body != nil {
		// name is optional; an empty or absent body is fine
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	name, err := a.commands.StartRecording(r.Context(), channel, req.Name, a.recordMaxSec, a.recordSilence)
	if err != nil {
		httpLog.Warnf("recording on %s failed: %v", channel, err)
		status, msg := commandStatus(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "recording started", "name": name})
}

// handleDashboard upgrades the connection and streams the tenant's session
// changes. The client sends nothing but keepalives; a subscriber is only ever
// registered for a tenant that exists.
func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(mux.Vars(r)["tenant_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if _, err := a.store.GetTenant(tenantID); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown tenant")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		httpLog.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := a.fanout.Subscribe(tenantID)
	defer a.fanout.Unsubscribe(sub)
	httpLog.Infof("dashboard connected: tenant=%d subscriber=%s", tenantID, sub.ID)

	go func() {
		// keepalives only; any read error ends the subscription
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				a.fanout.Unsubscribe(sub)
				return
			}
		}
	}()

	for payload := range sub.Queue() {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			httpLog.Warnf("dashboard push failed: tenant=%d subscriber=%s: %v", tenantID, sub.ID, err)
			return
		}
	}
}

func (a *API) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var t Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant")
		return
	}
	if t.Name == "" || t.Slug == "" {
		writeError(w, http.StatusBadRequest, "name and slug required")
		return
	}
	if err := a.store.PutTenant(&t); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.store.ListTenants()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (a *API) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	t, err := a.store.GetTenant(id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if err := a.store.DeleteTenant(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCreateDID(w http.ResponseWriter, r *http.Request) {
	var d DID
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid did")
		return
	}
	if d.Number == "" || d.TenantID == 0 {
		writeError(w, http.StatusBadRequest, "number and tenant_id required")
		return
	}
	if _, err := a.store.GetTenant(d.TenantID); errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusBadRequest, "unknown tenant")
		return
	}
	if err := a.store.PutDID(&d); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) handleListDIDs(w http.ResponseWriter, r *http.Request) {
	var tenantID int64
	if q := r.URL.Query().Get("tenant_id"); q != "" {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}
		tenantID = id
	}
	dids, err := a.store.ListDIDs(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dids": dids})
}

func (a *API) handleDeleteDID(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteDID(mux.Vars(r)["number"]); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCreateExtension(w http.ResponseWriter, r *http.Request) {
	var e Extension
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid extension")
		return
	}
	if e.Extension == "" || e.TenantID == 0 {
		writeError(w, http.StatusBadRequest, "extension and tenant_id required")
		return
	}
	if err := a.store.PutExtension(&e); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenant_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "tenant_id required")
		return
	}
	exts, err := a.store.ListExtensions(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"extensions": exts})
}

func (a *API) handleDeleteExtension(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenant_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "tenant_id required")
		return
	}
	ext := mux.Vars(r)["ext"]
	if _, err := a.store.GetExtension(tenantID, ext); errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "extension not found")
		return
	}
	if err := a.store.DeleteExtension(tenantID, ext); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var f Flow
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow")
		return
	}
	if f.Name == "" || f.TenantID == 0 || len(f.Definition) == 0 {
		writeError(w, http.StatusBadRequest, "name, tenant_id and flow_json required")
		return
	}
	if err := a.store.PutFlow(&f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (a *API) handleListFlows(w http.ResponseWriter, r *http.Request) {
	var tenantID int64
	if q := r.URL.Query().Get("tenant_id"); q != "" {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}
		tenantID = id
	}
	flows, err := a.store.ListFlows(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": flows})
}

func (a *API) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow id")
		return
	}
	f, err := a.store.GetFlow(id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (a *API) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow id")
		return
	}
	if err := a.store.DeleteFlow(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
