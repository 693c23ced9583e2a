package review

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehq/intake/internal/domain/intake"
	"github.com/telehq/intake/internal/platform/auth"
)

func newReviewEcho(t *testing.T) (*echo.Echo, *memClaimStore) {
	t.Helper()
	store := newMemClaimStore()
	svc := newTestService(store, &memRecorder{})

	e := echo.New()
	NewHandler(svc).RegisterRoutes(e.Group("/api"))
	return e, store
}

func asReviewer(req *http.Request, reviewerID string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserIDKey, reviewerID)
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"reviewer"})
	return req.WithContext(ctx)
}

func TestClaimHandler_Granted(t *testing.T) {
	e, store := newReviewEcho(t)
	c := paidCase()
	store.add(c)

	req := asReviewer(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/claim", nil), "rev-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result ClaimResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Granted {
		t.Error("expected granted=true")
	}
}

func TestClaimHandler_DeniedReportsHolder(t *testing.T) {
	e, store := newReviewEcho(t)
	c := paidCase()
	store.add(c)

	req := asReviewer(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/claim", nil), "rev-1")
	e.ServeHTTP(httptest.NewRecorder(), req)

	req = asReviewer(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/claim", nil), "rev-2")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("denial is still a 200, got %d", rec.Code)
	}
	var result ClaimResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Granted || result.CurrentHolder != "rev-1" {
		t.Errorf("expected denial with holder rev-1, got %+v", result)
	}
}

func TestClaimHandler_NotClaimable(t *testing.T) {
	e, store := newReviewEcho(t)
	c := paidCase()
	c.Status = intake.StatusCompleted
	store.add(c)

	req := asReviewer(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/claim", nil), "rev-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestClaimHandler_NotFoundAndBadID(t *testing.T) {
	e, _ := newReviewEcho(t)

	req := asReviewer(httptest.NewRequest(http.MethodPost, "/api/cases/"+uuid.NewString()+"/claim", nil), "rev-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	req = asReviewer(httptest.NewRequest(http.MethodPost, "/api/cases/nope/claim", nil), "rev-1")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestReleaseHandler(t *testing.T) {
	e, store := newReviewEcho(t)
	c := paidCase()
	store.add(c)

	req := asReviewer(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/claim", nil), "rev-1")
	e.ServeHTTP(httptest.NewRecorder(), req)

	// A stranger cannot release the claim.
	req = asReviewer(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/release", nil), "rev-2")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for non-holder, got %d", rec.Code)
	}

	req = asReviewer(httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/release", nil), "rev-1")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	got, _ := store.GetByID(context.Background(), c.ID)
	if got.Status != intake.StatusPaid {
		t.Errorf("expected case back in paid, got %s", got.Status)
	}
}

func TestClaimHandler_RequiresReviewerRole(t *testing.T) {
	e, store := newReviewEcho(t)
	c := paidCase()
	store.add(c)

	req := httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID.String()+"/claim", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "patient-1")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"patient"})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req.WithContext(ctx))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
