package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"rewards-ledger/logger"
)

// ReportUploader stores an object and returns its location.
type ReportUploader interface {
	Upload(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// ReportExporter writes the daily analytics summary to object storage.
type ReportExporter struct {
	analytics *AnalyticsAggregator
	uploader  ReportUploader
	prefix    string
	rules     Rules
}

func NewReportExporter(analytics *AnalyticsAggregator, uploader ReportUploader, prefix string, rules Rules) *ReportExporter {
	return &ReportExporter{analytics: analytics, uploader: uploader, prefix: prefix, rules: rules}
}

// ReportKey is the object key for the report covering the ledger day of t.
func (x *ReportExporter) ReportKey(t time.Time) string {
	day := t.In(x.rules.location()).Format("2006-01-02")
	return path.Join(x.prefix, day+".json")
}

// Export computes a fresh summary and uploads it.
func (x *ReportExporter) Export(ctx context.Context) (string, error) {
	summary, err := x.analytics.Compute(ctx)
	if err != nil {
		return "", fmt.Errorf("compute summary: %w", err)
	}
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	location, err := x.uploader.Upload(ctx, x.ReportKey(summary.GeneratedAt), "application/json", body)
	if err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	logger.Infof("Ledger report exported to %s", location)
	return location, nil
}
