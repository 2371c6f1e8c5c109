package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"multitalk/internal/billing"
	"multitalk/internal/generation"
	"multitalk/internal/services"
	"multitalk/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

type jobResponse struct {
	Job *store.Job `json:"job"`
}

type jobListResponse struct {
	Jobs []*store.Job `json:"jobs"`
}

type accountResponse struct {
	Account   *store.Account        `json:"account"`
	Events    []*store.BillingEvent `json:"events"`
	Checkouts []*store.Checkout     `json:"checkouts"`
}

type checkoutRequest struct {
	AccountID string `json:"accountId"`
	Plan      string `json:"plan"`
}

type checkoutResponse struct {
	Checkout *store.Checkout `json:"checkout"`
}

type webhookResponse struct {
	Result  billing.Result `json:"result"`
	EventID string         `json:"eventId"`
}

type resultResponse struct {
	Accepted bool `json:"accepted"`
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.Header.Get("X-Account-ID"))
	if accountID == "" {
		s.writeServiceError(w, r, services.Invalid("account_id", "X-Account-ID header is required"))
		return
	}
	ctx := services.WithAccountID(r.Context(), accountID)

	limit := s.daemon.cfg.Generation.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, 2*limit+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeServiceError(w, r, services.Invalid("body", "request exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeServiceError(w, r, services.Invalid("body", "malformed multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	payload := generation.Payload{
		Prompt:     r.FormValue("prompt"),
		Resolution: r.FormValue("resolution"),
	}
	if raw := strings.TrimSpace(r.FormValue("frameNum")); raw != "" {
		frames, err := strconv.Atoi(raw)
		if err != nil {
			s.writeServiceError(w, r, services.Invalid("frame_count", "%q is not an integer", raw))
			return
		}
		payload.FrameCount = frames
	}

	var err error
	if payload.Audio, err = formUpload(r, "audio"); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if payload.Image, err = formUpload(r, "image"); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	job, err := s.daemon.comps.Generation.Submit(ctx, accountID, payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, jobResponse{Job: job})
}

// formUpload returns nil when the part is absent so validation can name the field.
func formUpload(r *http.Request, field string) (*generation.Upload, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Invalid(field, "read upload: %v", err)
	}
	return &generation.Upload{
		Filename:    header.Filename,
		ContentType: partContentType(header),
		Size:        header.Size,
		Body:        file,
	}, nil
}

func partContentType(header *multipart.FileHeader) string {
	if value := strings.TrimSpace(header.Header.Get("Content-Type")); value != "" {
		return value
	}
	return "application/octet-stream"
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := s.daemon.comps.Generation.GetJob(services.WithJobID(r.Context(), jobID), jobID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobResponse{Job: job})
}

func (s *apiServer) handleAccountJobs(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	list, err := s.daemon.comps.Generation.ListJobs(services.WithAccountID(r.Context(), accountID), accountID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*store.Job{}
	}
	s.writeJSON(w, http.StatusOK, jobListResponse{Jobs: list})
}

func (s *apiServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	ctx := services.WithAccountID(r.Context(), accountID)
	account, err := s.daemon.comps.Ledger.Account(ctx, accountID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	events, err := s.daemon.comps.Billing.Events(ctx, accountID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	checkouts, err := s.daemon.comps.Billing.Checkouts(ctx, accountID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []*store.BillingEvent{}
	}
	if checkouts == nil {
		checkouts = []*store.Checkout{}
	}
	s.writeJSON(w, http.StatusOK, accountResponse{Account: account, Events: events, Checkouts: checkouts})
}

func (s *apiServer) handleWorkerResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	var outcome generation.Outcome
	if err := decodeJSON(w, r, &outcome); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.daemon.comps.Generation.OnWorkerResult(services.WithJobID(r.Context(), jobID), jobID, outcome); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resultResponse{Accepted: true})
}

func (s *apiServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	checkout, err := s.daemon.comps.Billing.Checkout(services.WithAccountID(r.Context(), req.AccountID), req.AccountID, req.Plan)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, checkoutResponse{Checkout: checkout})
}

func (s *apiServer) handlePaddleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	event, err := billing.DecodePaddle(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.applyEvent(w, r, event)
}

func (s *apiServer) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	event, err := s.daemon.stripe.Decode(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.applyEvent(w, r, event)
}

func (s *apiServer) applyEvent(w http.ResponseWriter, r *http.Request, event billing.Event) {
	result, err := s.daemon.comps.Billing.Apply(r.Context(), event)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, webhookResponse{Result: result, EventID: event.ExternalEventID})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.daemon.Health(r.Context())
	status := http.StatusOK
	if !health.Database.Reachable {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		return nil, services.Invalid("body", "read request body: %v", err)
	}
	return body, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return services.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}
