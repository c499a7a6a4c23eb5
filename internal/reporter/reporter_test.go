package reporter_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/telhawk-systems/gradersync/internal/config"
	"github.com/telhawk-systems/gradersync/internal/logging"
	"github.com/telhawk-systems/gradersync/internal/model"
	"github.com/telhawk-systems/gradersync/internal/reporter"
)

const documentURL = "https://docs.google.com/spreadsheets/d/1AbC-d_9xyz/edit#gid=0"

var summary = model.DailySummary{
	Date:               "2026-01-10",
	TotalAttempts:      4,
	SuccessfulAttempts: 2,
	UniqueUsers:        3,
	RunAttempts:        1,
	SubmitAttempts:     3,
	UsersCount:         3,
}

func TestSpreadsheetID(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"edit url", documentURL, "1AbC-d_9xyz", false},
		{"bare url", "https://docs.google.com/spreadsheets/d/abc123", "abc123", false},
		{"not a sheet", "https://example.com/doc/abc", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reporter.SpreadsheetID(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type sheetsStub struct {
	mu        sync.Mutex
	sheets    string
	appendURL string
	query     map[string]string
	values    [][]any
}

func (s *sheetsStub) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v4/spreadsheets/1AbC-d_9xyz":
			_, _ = io.WriteString(w, s.sheets)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
			s.appendURL = r.URL.Path
			s.query = map[string]string{
				"valueInputOption": r.URL.Query().Get("valueInputOption"),
				"insertDataOption": r.URL.Query().Get("insertDataOption"),
			}
			var body struct {
				Values [][]any `json:"values"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			s.values = body.Values
			_, _ = io.WriteString(w, `{"spreadsheetId": "1AbC-d_9xyz"}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newSheetsReporter(t *testing.T, url string) *reporter.SheetsReporter {
	t.Helper()
	r, err := reporter.NewSheetsReporter(
		config.SheetsConfig{DocumentURL: documentURL},
		option.WithEndpoint(url+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return r
}

func TestSheetsReporter_AppendsToFirstSheet(t *testing.T) {
	stub := &sheetsStub{sheets: `{"sheets": [
		{"properties": {"sheetId": 0, "title": "Daily"}},
		{"properties": {"sheetId": 1, "title": "Other"}}
	]}`}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	r := newSheetsReporter(t, srv.URL)
	assert.Equal(t, "sheets", r.Name())
	require.NoError(t, r.Report(context.Background(), summary))

	assert.Contains(t, stub.appendURL, "/v4/spreadsheets/1AbC-d_9xyz/values/")
	assert.Contains(t, stub.appendURL, "Daily")
	assert.NotContains(t, stub.appendURL, "Other")
	assert.Equal(t, "RAW", stub.query["valueInputOption"])
	assert.Equal(t, "INSERT_ROWS", stub.query["insertDataOption"])

	require.Len(t, stub.values, 1)
	assert.Equal(t, []any{"2026-01-10", 4.0, 2.0, 3.0, 1.0, 3.0, 3.0}, stub.values[0])
}

func TestSheetsReporter_NoSheets(t *testing.T) {
	stub := &sheetsStub{sheets: `{"sheets": []}`}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	err := newSheetsReporter(t, srv.URL).Report(context.Background(), summary)
	assert.ErrorIs(t, err, reporter.ErrNoSheets)
}

func TestSheetsReporter_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error": {"code": 403, "message": "forbidden"}}`)
	}))
	defer srv.Close()

	err := newSheetsReporter(t, srv.URL).Report(context.Background(), summary)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open spreadsheet")
}

func TestSheetsReporter_MissingCredentials(t *testing.T) {
	r, err := reporter.NewSheetsReporter(config.SheetsConfig{
		DocumentURL:     documentURL,
		CredentialsFile: t.TempDir() + "/missing.json",
	})
	require.NoError(t, err, "credentials are only read when reporting")

	err = r.Report(context.Background(), summary)
	require.Error(t, err)
}

func TestNewSheetsReporter_InvalidURL(t *testing.T) {
	_, err := reporter.NewSheetsReporter(config.SheetsConfig{DocumentURL: "https://example.com"})
	assert.Error(t, err)
}

func TestOpenSearchReporter(t *testing.T) {
	var (
		mu      sync.Mutex
		path    string
		indexed map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" {
			_, _ = io.WriteString(w, `{"version": {"number": "2.11.0", "distribution": "opensearch"}}`)
			return
		}
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&indexed))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result": "created"}`)
	}))
	defer srv.Close()

	r, err := reporter.NewOpenSearchReporter(config.OpenSearchConfig{URL: srv.URL, Index: "gradersync-daily-summary"})
	require.NoError(t, err)
	assert.Equal(t, "opensearch", r.Name())

	ctx := logging.ContextWithRunID(context.Background(), "run-42")
	require.NoError(t, r.Report(ctx, summary))

	assert.Equal(t, "/gradersync-daily-summary/_doc/run-42", path)
	assert.Equal(t, "2026-01-10", indexed["date"])
	assert.Equal(t, 2.0, indexed["successful_attempts"])
	assert.Equal(t, "run-42", indexed["run_id"])
	assert.NotEmpty(t, indexed["reported_at"])
}

func TestOpenSearchReporter_IndexError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			_, _ = io.WriteString(w, `{}`)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": "mapper_parsing_exception"}`)
	}))
	defer srv.Close()

	r, err := reporter.NewOpenSearchReporter(config.OpenSearchConfig{URL: srv.URL, Index: "idx"})
	require.NoError(t, err)

	err = r.Report(context.Background(), summary)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestNewOpenSearchReporter_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := reporter.NewOpenSearchReporter(config.OpenSearchConfig{URL: url, Index: "idx"})
	assert.Error(t, err)
}
