package prescription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/rxtrail/rxtrail/internal/domain/identity"
	"github.com/rxtrail/rxtrail/internal/platform/auth"
)

func handlerContext(t *testing.T, method, target, body string, cu identity.CurrentUser) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(req.Context(), auth.UserIDKey, cu.ID.String())
	ctx = context.WithValue(ctx, auth.UserRoleKey, string(cu.Role))
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_Create(t *testing.T) {
	f := newWorkflowFixture()
	h := NewHandler(f.svc)

	body := `{"medication":"Amoxicillin","dosage":"500mg","quantity":"21 tablets",
		"instructions":"Take one tablet three times daily with food","priority":"urgent"}`
	c, rec := handlerContext(t, http.MethodPost, "/api/v1/prescriptions", body, f.patient)

	if err := h.Create(c); err != nil {
		t.Fatalf("Create handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var p Prescription
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if p.Status != StatusRequested || p.Priority != PriorityUrgent {
		t.Errorf("unexpected prescription %+v", p)
	}
}

func TestHandler_Create_MissingField(t *testing.T) {
	f := newWorkflowFixture()
	h := NewHandler(f.svc)

	c, _ := handlerContext(t, http.MethodPost, "/api/v1/prescriptions",
		`{"medication":"Amoxicillin"}`, f.patient)

	err := h.Create(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Transition_StatusMapping(t *testing.T) {
	f := newWorkflowFixture()
	h := NewHandler(f.svc)
	p := f.create(t)

	cases := []struct {
		name     string
		actor    identity.CurrentUser
		target   Status
		wantCode int
	}{
		{"authorized approve", f.gp, StatusGPApproved, http.StatusOK},
		{"illegal skip is 409", f.pharmacy, StatusCollected, http.StatusConflict},
		{"unauthorized role is 403", f.patient, StatusSentToPharmacy, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := fmt.Sprintf(`{"target":%q}`, tc.target)
			c, rec := handlerContext(t, http.MethodPost,
				"/api/v1/prescriptions/"+p.ID.String()+"/transition", body, tc.actor)
			c.SetParamNames("id")
			c.SetParamValues(p.ID.String())

			err := h.Transition(c)
			if tc.wantCode == http.StatusOK {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				if rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %d", rec.Code)
				}
				return
			}
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tc.wantCode {
				t.Errorf("expected %d, got %v", tc.wantCode, err)
			}
		})
	}
}

func TestHandler_Transition_NotFound(t *testing.T) {
	f := newWorkflowFixture()
	h := NewHandler(f.svc)

	c, _ := handlerContext(t, http.MethodPost,
		"/api/v1/prescriptions/00000000-0000-0000-0000-000000000009/transition",
		`{"target":"gp_approved"}`, f.gp)
	c.SetParamNames("id")
	c.SetParamValues("00000000-0000-0000-0000-000000000009")

	err := h.Transition(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_Get_InvalidID(t *testing.T) {
	f := newWorkflowFixture()
	h := NewHandler(f.svc)

	c, _ := handlerContext(t, http.MethodGet, "/api/v1/prescriptions/not-a-uuid", "", f.patient)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_List_WithStatusFilter(t *testing.T) {
	f := newWorkflowFixture()
	h := NewHandler(f.svc)
	f.create(t)

	c, rec := handlerContext(t, http.MethodGet, "/api/v1/prescriptions?status=requested", "", f.patient)
	if err := h.List(c); err != nil {
		t.Fatalf("List handler error: %v", err)
	}

	var page struct {
		Data  []*Prescription `json:"data"`
		Total int             `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("expected 1 prescription, got %d", page.Total)
	}
}

func TestHandler_List_BadStatus(t *testing.T) {
	f := newWorkflowFixture()
	h := NewHandler(f.svc)

	c, _ := handlerContext(t, http.MethodGet, "/api/v1/prescriptions?status=cancelled", "", f.patient)
	err := h.List(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Stats(t *testing.T) {
	f := newWorkflowFixture()
	h := NewHandler(f.svc)
	f.create(t)

	c, rec := handlerContext(t, http.MethodGet, "/api/v1/prescriptions/stats", "", f.patient)
	if err := h.Stats(c); err != nil {
		t.Fatalf("Stats handler error: %v", err)
	}

	var st Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if st.Total != 1 || st.Pending != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}
