package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Path returns the blob path of a run's report.
func Path(graph, runID string) string {
	if graph == "" {
		graph = "unnamed"
	}
	return fmt.Sprintf("reports/%s/%s/report.json", graph, runID)
}

// Store persists reports in blob storage.
type Store struct {
	blob   BlobStorageClient
	logger *zap.Logger
}

// NewStore creates a report store on top of a blob client.
func NewStore(blob BlobStorageClient, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{blob: blob, logger: logger}
}

// Save uploads r and returns the blob URL.
func (s *Store) Save(ctx context.Context, r *Report) (string, error) {
	if s.blob == nil {
		return "", fmt.Errorf("blob client not initialized")
	}
	if r.RunID == "" {
		return "", fmt.Errorf("report has no run id")
	}

	data, err := r.JSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	path := Path(r.Graph, r.RunID)
	blobURL, err := s.blob.Upload(ctx, path, data, map[string]string{
		"graph":         r.Graph,
		"run_id":        r.RunID,
		"status":        r.Status,
		"node_count":    strconv.Itoa(len(r.Nodes)),
		"last_modified": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}

	s.logger.Info("Run report saved",
		zap.String("run_id", r.RunID),
		zap.String("blob_path", path),
		zap.Int("size_bytes", len(data)))
	return blobURL, nil
}

// Load downloads the report of a run.
func (s *Store) Load(ctx context.Context, graph, runID string) (*Report, error) {
	if s.blob == nil {
		return nil, fmt.Errorf("blob client not initialized")
	}
	data, err := s.blob.Download(ctx, Path(graph, runID))
	if err != nil {
		return nil, fmt.Errorf("failed to download report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &r, nil
}
