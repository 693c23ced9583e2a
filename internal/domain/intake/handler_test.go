package intake

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telehq/intake/internal/domain/draft"
	"github.com/telehq/intake/internal/domain/flow"
	"github.com/telehq/intake/internal/platform/auth"
	"github.com/telehq/intake/internal/platform/db"
)

func newIntakeEcho(t *testing.T) (*echo.Echo, *submitFixture) {
	t.Helper()
	f := &submitFixture{
		cases:   newMemCaseRepo(),
		drafts:  newMemDraftRepo(),
		auditor: &memRecorder{},
	}
	f.svc = NewService(f.cases, f.drafts, testRegistry(t), f.auditor, db.PassthroughTxRunner{}, zerolog.Nop())

	e := echo.New()
	NewHandler(f.svc).RegisterRoutes(e.Group("/api"))
	return e, f
}

func asActor(req *http.Request, userID string, roles ...string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserIDKey, userID)
	ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
	return req.WithContext(ctx)
}

func TestSubmitHandler_Created(t *testing.T) {
	e, f := newIntakeEcho(t)
	err := f.drafts.Put(context.Background(), &draft.Snapshot{
		SessionID:   "s1",
		FlowID:      "consult",
		FlowVersion: 1,
		Answers:     flow.Answers{"age": 30, "chest_pain": false},
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}

	req := asActor(httptest.NewRequest(http.MethodPost, "/api/sessions/s1/submit", nil), "patient-1", "patient")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["case_id"] == "" {
		t.Error("expected case_id in response")
	}
}

func TestSubmitHandler_KnockoutConflict(t *testing.T) {
	e, f := newIntakeEcho(t)
	err := f.drafts.Put(context.Background(), &draft.Snapshot{
		SessionID:   "s1",
		FlowID:      "consult",
		FlowVersion: 1,
		Answers:     flow.Answers{"age": 30, "chest_pain": true},
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}

	req := asActor(httptest.NewRequest(http.MethodPost, "/api/sessions/s1/submit", nil), "patient-1", "patient")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "knockout" || body.Message != "seek emergency care" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestSubmitHandler_ValidationUnprocessable(t *testing.T) {
	e, f := newIntakeEcho(t)
	err := f.drafts.Put(context.Background(), &draft.Snapshot{
		SessionID:   "s1",
		FlowID:      "consult",
		FlowVersion: 1,
		Answers:     flow.Answers{"age": 30},
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}

	req := asActor(httptest.NewRequest(http.MethodPost, "/api/sessions/s1/submit", nil), "patient-1", "patient")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body struct {
		Missing []string `json:"missing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Missing) != 1 || body.Missing[0] != "chest_pain" {
		t.Errorf("expected missing [chest_pain], got %v", body.Missing)
	}
}

func TestSubmitHandler_NoDraft(t *testing.T) {
	e, _ := newIntakeEcho(t)
	req := asActor(httptest.NewRequest(http.MethodPost, "/api/sessions/none/submit", nil), "patient-1", "patient")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListCases_RequiresReviewerRole(t *testing.T) {
	e, _ := newIntakeEcho(t)

	req := asActor(httptest.NewRequest(http.MethodGet, "/api/cases", nil), "patient-1", "patient")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for patient, got %d", rec.Code)
	}

	req = asActor(httptest.NewRequest(http.MethodGet, "/api/cases", nil), "rev-1", "reviewer")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for reviewer, got %d", rec.Code)
	}
}

func TestGetCase_Summary(t *testing.T) {
	e, f := newIntakeEcho(t)
	ctx := context.Background()
	err := f.drafts.Put(ctx, &draft.Snapshot{
		SessionID:   "s1",
		FlowID:      "consult",
		FlowVersion: 1,
		Answers:     flow.Answers{"age": 30, "chest_pain": false},
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	created, err := f.svc.SubmitFlow(ctx, "s1", "patient-1")
	if err != nil {
		t.Fatal(err)
	}

	req := asActor(httptest.NewRequest(http.MethodGet, "/api/cases/"+created.ID.String(), nil), "rev-1", "reviewer")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Case    *Case        `json:"case"`
		Summary flow.Answers `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Case == nil || body.Case.ID != created.ID {
		t.Errorf("unexpected case in response: %+v", body.Case)
	}
	if _, ok := body.Summary["age"]; !ok {
		t.Error("expected visible answers in summary")
	}
}

func TestRequestInfoHandler(t *testing.T) {
	e, f := newIntakeEcho(t)
	c := f.heldCase("rev-1")

	body := strings.NewReader(`{"note":"need a clearer photo"}`)
	req := asActor(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/request-info", body), "rev-1", "reviewer")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Case
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPendingInfo {
		t.Errorf("expected pending_info, got %s", got.Status)
	}
}

func TestRequestInfoHandler_NotHolderConflict(t *testing.T) {
	e, f := newIntakeEcho(t)
	c := f.heldCase("rev-1")

	req := asActor(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/request-info", nil), "rev-2", "reviewer")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for non-holder, got %d", rec.Code)
	}
}

func TestEscalateHandler(t *testing.T) {
	e, f := newIntakeEcho(t)
	c := f.heldCase("rev-1")

	body := strings.NewReader(`{"reason":"needs specialist sign-off"}`)
	req := asActor(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/escalate", body), "rev-1", "reviewer")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Case
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusEscalated {
		t.Errorf("expected escalated, got %s", got.Status)
	}
}

func TestCompleteHandler_InvalidTransitionConflict(t *testing.T) {
	e, f := newIntakeEcho(t)
	c := f.caseIn(StatusPaid, time.Now().UTC())

	req := asActor(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/complete", nil), "rev-1", "reviewer")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for illegal transition, got %d", rec.Code)
	}
}

func TestCancelHandler(t *testing.T) {
	e, f := newIntakeEcho(t)
	c := f.caseIn(StatusPaid, time.Now().UTC())

	body := strings.NewReader(`{"reason":"duplicate submission"}`)
	req := asActor(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/cancel", body), "rev-1", "reviewer")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Case
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
}

func TestCaseActions_RequireReviewerRole(t *testing.T) {
	e, f := newIntakeEcho(t)
	c := f.heldCase("rev-1")

	for _, action := range []string{"request-info", "escalate", "complete", "cancel"} {
		req := asActor(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/"+action, nil), "patient-1", "patient")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403 for patient, got %d", action, rec.Code)
		}
	}
}

func TestGetCase_BadID(t *testing.T) {
	e, _ := newIntakeEcho(t)
	req := asActor(httptest.NewRequest(http.MethodGet, "/api/cases/not-a-uuid", nil), "rev-1", "reviewer")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
