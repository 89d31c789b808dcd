package infra

import "testing"

func TestExtractMarker(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantMarker string
		wantBody   string
		wantErr    bool
	}{
		{
			name:       "valid marker",
			query:      "--sql 0b6f1f1e-3c52-4b9e-9a44-5f0a9e0c6d11\nselect 1",
			wantMarker: "0b6f1f1e-3c52-4b9e-9a44-5f0a9e0c6d11",
			wantBody:   "select 1",
		},
		{
			name:       "leading whitespace",
			query:      "\n   --sql 0b6f1f1e-3c52-4b9e-9a44-5f0a9e0c6d11\nselect 1\nfrom jobs",
			wantMarker: "0b6f1f1e-3c52-4b9e-9a44-5f0a9e0c6d11",
			wantBody:   "select 1\nfrom jobs",
		},
		{name: "missing marker", query: "select 1", wantErr: true},
		{name: "uppercase uuid rejected", query: "--sql 0B6F1F1E-3C52-4B9E-9A44-5F0A9E0C6D11\nselect 1", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			marker, body, err := ExtractMarker(tc.query)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if marker != tc.wantMarker {
				t.Fatalf("marker = %q, want %q", marker, tc.wantMarker)
			}
			if body != tc.wantBody {
				t.Fatalf("body = %q, want %q", body, tc.wantBody)
			}
		})
	}
}
