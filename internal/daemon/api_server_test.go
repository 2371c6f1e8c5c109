package daemon

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"multitalk/internal/billing"
	"multitalk/internal/store"
	"multitalk/internal/testsupport"
)

func (h *harness) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) request(t *testing.T, method, path string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func (h *harness) submit(t *testing.T, accountID string, fields map[string]string, parts ...testsupport.Part) *http.Response {
	t.Helper()
	body, contentType := testsupport.MultipartBody(t, fields, parts...)
	req := h.request(t, http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	if accountID != "" {
		req.Header.Set("X-Account-ID", accountID)
	}
	return h.do(t, req)
}

func (h *harness) postJSON(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := h.request(t, http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return h.do(t, req)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func validFields() map[string]string {
	return map[string]string{"prompt": "a cat singing", "resolution": "480p", "frameNum": "81"}
}

func TestSubmitThenWorkerCallback(t *testing.T) {
	h := newHarness(t)

	resp := h.submit(t, "acct-1", validFields(), testsupport.JobParts(64)...)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
	job := decode[jobResponse](t, resp).Job
	if job == nil || job.Status != store.JobStatusProcessing {
		t.Fatalf("unexpected job: %+v", job)
	}
	if !strings.HasPrefix(job.Request.AudioRef, "user-uploads/acct-1/") {
		t.Fatalf("unexpected audio ref %q", job.Request.AudioRef)
	}

	account := decode[accountResponse](t, h.do(t, h.request(t, http.MethodGet, "/api/accounts/acct-1", nil)))
	if account.Account.Balance != 4 || account.Account.Plan != store.PlanFree {
		t.Fatalf("expected provisioned free account with 4 credits, got %+v", account.Account)
	}

	result := h.postJSON(t, "/api/jobs/"+job.ID+"/result", map[string]any{"success": true, "artifact_ref": "https://example.com/videos/a.mp4"})
	if result.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from callback, got %d", result.StatusCode)
	}
	late := h.postJSON(t, "/api/jobs/"+job.ID+"/result", map[string]any{"success": false, "error_detail": "late"})
	if late.StatusCode != http.StatusOK {
		t.Fatalf("expected duplicate callback to be acknowledged, got %d", late.StatusCode)
	}

	got := decode[jobResponse](t, h.do(t, h.request(t, http.MethodGet, "/api/jobs/"+job.ID, nil))).Job
	if got.Status != store.JobStatusCompleted || got.ArtifactRef != "https://example.com/videos/a.mp4" {
		t.Fatalf("expected first result to stick, got %+v", got)
	}

	list := decode[jobListResponse](t, h.do(t, h.request(t, http.MethodGet, "/api/accounts/acct-1/jobs", nil)))
	if len(list.Jobs) != 1 || list.Jobs[0].ID != job.ID {
		t.Fatalf("unexpected job list: %+v", list.Jobs)
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name    string
		account string
		fields  map[string]string
		parts   []testsupport.Part
		field   string
	}{
		{name: "missing account", fields: validFields(), parts: testsupport.JobParts(8), field: "account_id"},
		{name: "non-numeric frames", account: "acct-1", fields: map[string]string{"prompt": "x", "resolution": "480p", "frameNum": "lots"}, parts: testsupport.JobParts(8), field: "frame_count"},
		{name: "unsupported resolution", account: "acct-1", fields: map[string]string{"prompt": "x", "resolution": "1080p", "frameNum": "81"}, parts: testsupport.JobParts(8), field: "resolution"},
		{name: "missing image", account: "acct-1", fields: validFields(), parts: testsupport.JobParts(8)[:1], field: "image"},
		{name: "wrong audio type", account: "acct-1", fields: validFields(), parts: []testsupport.Part{
			{Field: "audio", Filename: "voice.txt", ContentType: "text/plain", Size: 8},
			{Field: "image", Filename: "face.png", ContentType: "image/png", Size: 8},
		}, field: "audio"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.submit(t, tc.account, tc.fields, tc.parts...)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			body := decode[errorResponse](t, resp)
			if body.Kind != "validation" || body.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %+v", tc.field, body)
			}
		})
	}

	resp := h.do(t, h.request(t, http.MethodGet, "/api/accounts/acct-1", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("rejected submits must not provision the account, got %d", resp.StatusCode)
	}
}

func TestSubmitInsufficientBalance(t *testing.T) {
	h := newHarness(t, testsupport.WithFreeTrialCredits(0))

	resp := h.submit(t, "acct-1", validFields(), testsupport.JobParts(8)...)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	if body := decode[errorResponse](t, resp); body.Kind != "insufficient_balance" {
		t.Fatalf("unexpected error kind %+v", body)
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, h.request(t, http.MethodGet, "/api/jobs/job_missing", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	callback := h.postJSON(t, "/api/jobs/job_missing/result", map[string]any{"success": true, "artifact_ref": "x"})
	if callback.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job callback, got %d", callback.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("secret"))

	if resp := h.do(t, h.request(t, http.MethodGet, "/api/health", nil)); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req := h.request(t, http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if resp := h.do(t, req); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}

	req = h.request(t, http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer secret")
	if resp := h.do(t, req); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	req = h.request(t, http.MethodPost, "/api/jobs/job_missing/result", strings.NewReader(`{"success":true,"artifact_ref":"x"}`))
	req.Header.Set("X-Callback-Token", "secret")
	if resp := h.do(t, req); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected callback token to pass auth, got %d", resp.StatusCode)
	}

	form := url.Values{"alert_name": {"subscription_created"}, "alert_id": {"evt-open"}, "user_id": {"acct-5"}, "subscription_plan_id": {"starter"}, "status": {"active"}}
	req = h.request(t, http.MethodPost, "/api/billing/webhook/paddle", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if resp := h.do(t, req); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected webhook to bypass bearer auth, got %d", resp.StatusCode)
	}
}

func TestPaddleWebhookIsIdempotent(t *testing.T) {
	h := newHarness(t)
	form := url.Values{
		"alert_name":           {"subscription_created"},
		"alert_id":             {"evt-1"},
		"user_id":              {"acct-9"},
		"subscription_plan_id": {"pro"},
		"status":               {"active"},
	}

	send := func() webhookResponse {
		req := h.request(t, http.MethodPost, "/api/billing/webhook/paddle", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp := h.do(t, req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		return decode[webhookResponse](t, resp)
	}

	if first := send(); first.Result != billing.ResultApplied || first.EventID != "evt-1" {
		t.Fatalf("unexpected first result %+v", first)
	}
	if second := send(); second.Result != billing.ResultDuplicate {
		t.Fatalf("expected duplicate, got %+v", second)
	}

	account := decode[accountResponse](t, h.do(t, h.request(t, http.MethodGet, "/api/accounts/acct-9", nil)))
	if account.Account.Plan != store.PlanPro || len(account.Events) != 1 {
		t.Fatalf("unexpected account view %+v", account)
	}
}

func TestStripeWebhookWithoutSecret(t *testing.T) {
	h := newHarness(t)
	payload := `{"id":"evt_s1","object":"event","type":"customer.subscription.created","data":{"object":{"id":"sub_1","object":"subscription","status":"active","metadata":{"account_id":"acct-3","plan":"mid"}}}}`

	resp := h.do(t, h.request(t, http.MethodPost, "/api/billing/webhook/stripe", strings.NewReader(payload)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decode[webhookResponse](t, resp); body.Result != billing.ResultApplied {
		t.Fatalf("unexpected result %+v", body)
	}

	malformed := h.do(t, h.request(t, http.MethodPost, "/api/billing/webhook/stripe", strings.NewReader("{")))
	if malformed.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed payload, got %d", malformed.StatusCode)
	}
}

func TestWebhooksAcknowledgeUnhandledEvents(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		path string
		body string
	}{
		{"/api/billing/webhook/stripe", `{"id":"evt_inv_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice"}}}`},
		{"/api/billing/webhook/paddle", `{"alert_name":"high_risk_transaction_created","alert_id":"9001"}`},
	}
	for _, tc := range cases {
		resp := h.do(t, h.request(t, http.MethodPost, tc.path, strings.NewReader(tc.body)))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200 for unhandled event, got %d", tc.path, resp.StatusCode)
		}
		if body := decode[webhookResponse](t, resp); body.Result != billing.ResultIgnored {
			t.Fatalf("%s: expected ignored, got %+v", tc.path, body)
		}
	}
}

func TestStripeWebhookRejectsMissingSignature(t *testing.T) {
	h := newHarness(t, testsupport.WithBillingProvider("stripe", "whsec_test"))
	payload := `{"id":"evt_s1","object":"event","type":"customer.subscription.created","data":{"object":{"id":"sub_1","object":"subscription","status":"active","metadata":{"account_id":"acct-3","plan":"mid"}}}}`

	resp := h.do(t, h.request(t, http.MethodPost, "/api/billing/webhook/stripe", strings.NewReader(payload)))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature, got %d", resp.StatusCode)
	}
}

func TestCheckoutEndpoint(t *testing.T) {
	h := newHarness(t)

	resp := h.postJSON(t, "/api/billing/checkout", checkoutRequest{AccountID: "acct-2", Plan: "mid"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	checkout := decode[checkoutResponse](t, resp).Checkout
	if checkout == nil || !strings.Contains(checkout.CheckoutURL, "plan=mid") || checkout.PriceCents != 1200 {
		t.Fatalf("unexpected checkout %+v", checkout)
	}

	bad := h.postJSON(t, "/api/billing/checkout", checkoutRequest{AccountID: "acct-2", Plan: "free"})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for free plan checkout, got %d", bad.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, h.request(t, http.MethodGet, "/api/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	health := decode[Health](t, resp)
	if health.Running {
		t.Fatal("daemon was never started")
	}
	if !health.Database.Reachable || health.Database.Dialect != "sqlite" {
		t.Fatalf("unexpected database health %+v", health.Database)
	}
	if len(health.NextReplenish) != 3 || health.Version != "test" {
		t.Fatalf("unexpected health %+v", health)
	}

	metricsResp := h.do(t, h.request(t, http.MethodGet, "/metrics", nil))
	data, err := io.ReadAll(metricsResp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(data), `multitalk_http_requests_total{code="2xx",route="health"} 1`) {
		t.Fatalf("expected health request counter in metrics output:\n%s", data)
	}
}
