package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "readiness/internal/api/context"
	"readiness/internal/engine/webhooks"
	"readiness/internal/pkg/errors"
	"readiness/internal/pkg/ids"
	"readiness/internal/platform/audit"
)

type WebhookHandler struct {
	svc       *webhooks.Service
	validator *webhooks.Validator
	audit     *audit.Logger
}

func NewWebhookHandler(svc *webhooks.Service, validator *webhooks.Validator, auditLogger *audit.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, validator: validator, audit: auditLogger}
}

type listResponse struct {
	*webhooks.ListResult
	Meta Meta `json:"meta"`
}

type createResponse struct {
	Data         webhooks.WebhookView `json:"data"`
	SecurityNote string               `json:"security_note,omitempty"`
	Warnings     []string             `json:"warnings"`
	Meta         Meta                 `json:"meta"`
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	q, err := webhooks.ParseListQuery(r.URL.Query())
	if err != nil {
		errors.Write(w, err)
		return
	}

	res, err := h.svc.List(r.Context(), p, q)
	if err != nil {
		errors.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{ListResult: res, Meta: newMeta(r)})
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	view, err := h.svc.Get(r.Context(), p, webhookID(r))
	if err != nil {
		errors.Write(w, err)
		return
	}

	writeData(w, r, http.StatusOK, view)
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		errors.Write(w, err)
		return
	}
	in, err := h.validator.ValidateCreate(body)
	if err != nil {
		errors.Write(w, err)
		return
	}

	res, err := h.svc.Create(r.Context(), p, in)
	if err != nil {
		errors.Write(w, err)
		return
	}

	h.audit.Log(actorFrom(r), audit.ActionWebhookCreated, "webhook", res.Webhook.ID, map[string]interface{}{
		"name":        res.Webhook.Name,
		"event_types": res.Webhook.EventTypes,
	})

	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusCreated, createResponse{
		Data:         res.Webhook,
		SecurityNote: res.SecurityNote,
		Warnings:     warnings,
		Meta:         newMeta(r),
	})
}

func (h *WebhookHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		errors.Write(w, err)
		return
	}
	in, err := h.validator.ValidateBulkUpdate(body)
	if err != nil {
		errors.Write(w, err)
		return
	}

	views, err := h.svc.BulkUpdate(r.Context(), p, in)
	if err != nil {
		errors.Write(w, err)
		return
	}

	h.auditUpdates(r, views)
	writeData(w, r, http.StatusOK, views)
}

// Update is the single-webhook form of BulkUpdate.
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		errors.Write(w, err)
		return
	}
	in, err := h.validator.ValidateUpdate(body)
	if err != nil {
		errors.Write(w, err)
		return
	}

	views, err := h.svc.BulkUpdate(r.Context(), p, &webhooks.BulkUpdateInput{
		WebhookIDs: []string{webhookID(r)},
		Updates:    *in,
	})
	if err != nil {
		errors.Write(w, err)
		return
	}

	h.auditUpdates(r, views)
	writeData(w, r, http.StatusOK, views[0])
}

func (h *WebhookHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	res, err := h.svc.BulkDelete(r.Context(), p, query.Get("organization_id"), ids.SplitList(query.Get("ids")))
	if err != nil {
		errors.Write(w, err)
		return
	}

	h.auditDeletes(r, res)
	writeData(w, r, http.StatusOK, res)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	res, err := h.svc.BulkDelete(r.Context(), p, "", []string{webhookID(r)})
	if err != nil {
		errors.Write(w, err)
		return
	}

	h.auditDeletes(r, res)
	writeData(w, r, http.StatusOK, res)
}

func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		errors.Write(w, err)
		return
	}
	in, err := h.validator.ValidateTest(body)
	if err != nil {
		errors.Write(w, err)
		return
	}

	id := webhookID(r)
	res, err := h.svc.Test(r.Context(), p, id, in)
	if err != nil {
		errors.Write(w, err)
		return
	}

	h.audit.Log(actorFrom(r), audit.ActionWebhookTested, "webhook", id, map[string]interface{}{
		"event_type": res.EventType,
		"success":    res.Success,
	})
	writeData(w, r, http.StatusOK, res)
}

func (h *WebhookHandler) auditUpdates(r *http.Request, views []webhooks.WebhookView) {
	actor := actorFrom(r)
	for _, v := range views {
		h.audit.Log(actor, audit.ActionWebhookUpdated, "webhook", v.ID, nil)
	}
}

func (h *WebhookHandler) auditDeletes(r *http.Request, res *webhooks.DeleteResult) {
	actor := actorFrom(r)
	for _, d := range res.Deleted {
		h.audit.Log(actor, audit.ActionWebhookDeleted, "webhook", d.ID, map[string]interface{}{"name": d.Name})
	}
}

func webhookID(r *http.Request) string {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName("webhook_id")
}
