package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestParseOrgID(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name       string
		pathValue  string
		wantOK     bool
		wantStatus int
		wantError  string
	}{
		{
			name:      "valid UUID",
			pathValue: "550e8400-e29b-41d4-a716-446655440000",
			wantOK:    true,
		},
		{
			name:       "invalid UUID",
			pathValue:  "not-a-uuid",
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_org_id",
		},
		{
			name:       "empty UUID",
			pathValue:  "",
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_org_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.SetPathValue("oid", tt.pathValue)
			rec := httptest.NewRecorder()

			id, ok := ParseOrgID(rec, req, logger)

			if ok != tt.wantOK {
				t.Errorf("ParseOrgID() ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantOK {
				if id.String() != tt.pathValue {
					t.Errorf("ParseOrgID() id = %v, want %v", id, tt.pathValue)
				}
				return
			}

			if id != uuid.Nil {
				t.Errorf("ParseOrgID() id = %v, want uuid.Nil", id)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestParseOrgAndImportIDs(t *testing.T) {
	logger := zap.NewNop()
	orgID, importID := uuid.New(), uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.SetPathValue("oid", orgID.String())
	req.SetPathValue("iid", importID.String())
	rec := httptest.NewRecorder()

	gotOrg, gotImport, ok := ParseOrgAndImportIDs(rec, req, logger)
	if !ok {
		t.Fatal("expected ok")
	}
	if gotOrg != orgID || gotImport != importID {
		t.Errorf("got (%v, %v), want (%v, %v)", gotOrg, gotImport, orgID, importID)
	}
}

func TestParseOrgAndImportIDs_InvalidImport(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.SetPathValue("oid", uuid.New().String())
	req.SetPathValue("iid", "42")
	rec := httptest.NewRecorder()

	_, _, ok := ParseOrgAndImportIDs(rec, req, zap.NewNop())
	if ok {
		t.Fatal("expected failure")
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "invalid_import_id" {
		t.Errorf("error = %q, want invalid_import_id", body["error"])
	}
}

func TestParseRunID_Invalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.SetPathValue("rid", "latest-ish")
	rec := httptest.NewRecorder()

	if _, ok := ParseRunID(rec, req, zap.NewNop()); ok {
		t.Fatal("expected failure")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
