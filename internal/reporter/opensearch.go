package reporter

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/telhawk-systems/gradersync/internal/config"
	"github.com/telhawk-systems/gradersync/internal/logging"
	"github.com/telhawk-systems/gradersync/internal/model"
)

// SummaryDocument is the indexed form of a DailySummary.
type SummaryDocument struct {
	model.DailySummary
	RunID      string    `json:"run_id,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// OpenSearchReporter indexes each summary as one document.
type OpenSearchReporter struct {
	client *opensearch.Client
	index  string
	now    func() time.Time
}

func NewOpenSearchReporter(cfg config.OpenSearchConfig) (*OpenSearchReporter, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	return &OpenSearchReporter{client: client, index: cfg.Index, now: time.Now}, nil
}

func (r *OpenSearchReporter) Name() string { return "opensearch" }

// Report indexes the summary. The run id, when present, is the document id
// so a retried report of the same run overwrites instead of duplicating.
func (r *OpenSearchReporter) Report(ctx context.Context, summary model.DailySummary) error {
	doc := SummaryDocument{
		DailySummary: summary,
		RunID:        logging.RunIDFromContext(ctx),
		ReportedAt:   r.now().UTC(),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      r.index,
		DocumentID: doc.RunID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("failed to index summary: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("opensearch index error %s: %s", res.Status(), string(msg))
	}
	return nil
}
