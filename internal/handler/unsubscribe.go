package handler

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/unsubscribe"
	"github.com/google/uuid"
)

// Unsubscriber opts a contact out of every automated sequence.
type Unsubscriber interface {
	UnsubscribeContact(ctx context.Context, contactID uuid.UUID) (int, error)
}

// UnsubscribeHandler serves the List-Unsubscribe links: a confirmation page
// on GET and the opt-out itself on POST, including RFC 8058 one-click posts
// from mail clients.
type UnsubscribeHandler struct {
	signer  *unsubscribe.Signer
	service Unsubscriber
	logger  *slog.Logger
}

// NewUnsubscribeHandler creates a new UnsubscribeHandler.
func NewUnsubscribeHandler(signer *unsubscribe.Signer, service Unsubscriber, logger *slog.Logger) *UnsubscribeHandler {
	return &UnsubscribeHandler{signer: signer, service: service, logger: logger}
}

// RegisterRoutes registers the unsubscribe routes on mux, wrapping them
// with mw.
func (h *UnsubscribeHandler) RegisterRoutes(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	mux.Handle("GET /unsubscribe", mw(http.HandlerFunc(h.Confirm)))
	mux.Handle("POST /unsubscribe", mw(http.HandlerFunc(h.Unsubscribe)))
}

// Confirm shows the confirmation form. Nothing changes on GET so link
// scanners cannot opt people out.
func (h *UnsubscribeHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if _, err := h.signer.Verify(token); err != nil {
		h.invalid(w, r, err)
		return
	}
	h.render(w, http.StatusOK, pageData{Confirm: true, Token: token})
}

// Unsubscribe opts the token's contact out.
func (h *UnsubscribeHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.unsubscribe", "Malformed request."))
		return
	}
	token := r.Form.Get("token")
	claims, err := h.signer.Verify(token)
	if err != nil {
		h.invalid(w, r, err)
		return
	}

	n, err := h.service.UnsubscribeContact(r.Context(), claims.ContactID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			// The contact was deleted; there is nothing left to mail.
			n = 0
		} else {
			ErrorResponse(w, r, h.logger, err)
			return
		}
	}

	h.logger.Info("Contact unsubscribed",
		"contact_id", claims.ContactID,
		"enrollment_id", claims.EnrollmentID,
		"cancelled", n,
		"one_click", r.Form.Get("List-Unsubscribe") == "One-Click",
	)

	if r.Form.Get("List-Unsubscribe") == "One-Click" {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.render(w, http.StatusOK, pageData{Done: true})
}

func (h *UnsubscribeHandler) invalid(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, unsubscribe.ErrInvalidToken) {
		ErrorResponse(w, r, h.logger, domain.Internal(err, "handler.unsubscribe", "verify token"))
		return
	}
	h.logger.Info("Rejected unsubscribe token", "error", err, "method", r.Method)
	if acceptsJSON(r) {
		writeJSONError(w, http.StatusBadRequest, domain.EINVALID, "This unsubscribe link is invalid or has expired.")
		return
	}
	h.render(w, http.StatusBadRequest, pageData{Invalid: true})
}

type pageData struct {
	Confirm bool
	Done    bool
	Invalid bool
	Token   string
}

func (h *UnsubscribeHandler) render(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := unsubscribePage.Execute(w, data); err != nil {
		h.logger.Error("Failed to render unsubscribe page", "error", err)
	}
}

var unsubscribePage = template.Must(template.New("unsubscribe").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Unsubscribe</title>
<style>body{font-family:system-ui,sans-serif;max-width:32rem;margin:4rem auto;padding:0 1rem;color:#222}button{padding:.6rem 1.2rem;font-size:1rem}</style>
</head>
<body>
{{if .Confirm}}
<h1>Unsubscribe</h1>
<p>Stop receiving automated emails from us? Messages you send us will still be answered.</p>
<form method="post" action="/unsubscribe">
<input type="hidden" name="token" value="{{.Token}}">
<button type="submit">Unsubscribe</button>
</form>
{{else if .Done}}
<h1>You are unsubscribed</h1>
<p>You will not receive any further automated emails from us.</p>
{{else}}
<h1>Link not valid</h1>
<p>This unsubscribe link is invalid or has expired. Reply to any of our emails and we will remove you by hand.</p>
{{end}}
</body>
</html>
`))
