package jobs

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeExportPayload_ExactFields(t *testing.T) {
	b, err := EncodeExportPayload(ExportPlaylistPayload{
		PlaylistID:  "playlist-1",
		TargetEmail: "dest@example.com",
	})
	if err != nil {
		t.Fatalf("EncodeExportPayload error: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("body is not a json object: %v", err)
	}

	if len(fields) != 2 {
		t.Fatalf("expected exactly 2 fields, got %d: %s", len(fields), b)
	}
	if fields["playlistId"] != "playlist-1" || fields["targetEmail"] != "dest@example.com" {
		t.Fatalf("unexpected body %s", b)
	}
}

func TestEncodeExportPayload_InvalidEmail(t *testing.T) {
	_, err := EncodeExportPayload(ExportPlaylistPayload{PlaylistID: "p", TargetEmail: "not-an-email"})
	if !errors.Is(err, ErrInvalidJobPayload) {
		t.Fatalf("expected ErrInvalidJobPayload, got %v", err)
	}
}

func TestDecodeExportPayload(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"playlistId":"p1","targetEmail":"dest@example.com"}`},
		{name: "field order does not matter", body: `{"targetEmail":"dest@example.com","playlistId":"p1"}`},
		{name: "unknown field tolerated", body: `{"playlistId":"p1","targetEmail":"dest@example.com","x":1}`},
		{name: "empty body", body: ``, wantErr: true},
		{name: "not json", body: `{{{`, wantErr: true},
		{name: "missing playlist", body: `{"targetEmail":"dest@example.com"}`, wantErr: true},
		{name: "missing email", body: `{"playlistId":"p1"}`, wantErr: true},
		{name: "blank playlist", body: `{"playlistId":"  ","targetEmail":"dest@example.com"}`, wantErr: true},
		{name: "wrong type", body: `{"playlistId":1,"targetEmail":"dest@example.com"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeExportPayload([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidJobPayload) {
					t.Fatalf("expected ErrInvalidJobPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.PlaylistID != "p1" || p.TargetEmail != "dest@example.com" {
				t.Fatalf("unexpected payload %+v", p)
			}
		})
	}
}

func TestCheckSchemaVersion(t *testing.T) {
	if err := CheckSchemaVersion(""); err != nil {
		t.Fatalf("unversioned message should be accepted: %v", err)
	}
	if err := CheckSchemaVersion(SchemaVersionString()); err != nil {
		t.Fatalf("current version rejected: %v", err)
	}
	if err := CheckSchemaVersion("2"); !errors.Is(err, ErrUnsupportedSchema) {
		t.Fatalf("expected ErrUnsupportedSchema, got %v", err)
	}
}
