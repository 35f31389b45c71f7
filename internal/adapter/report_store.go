package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	m "gooze.dev/pkg/schemata/internal/model"
)

const reportFileName = "report.json"

// ReportStore persists run reports.
type ReportStore interface {
	SaveReport(dir m.Path, report m.RunReport) error
	LoadReport(dir m.Path) (m.RunReport, error)
}

// JSONReportStore writes reports as indented JSON under the reports directory.
type JSONReportStore struct {
	fs SourceFSAdapter
}

// NewReportStore constructs a JSONReportStore writing through fs.
func NewReportStore(fs SourceFSAdapter) *JSONReportStore {
	return &JSONReportStore{fs: fs}
}

// SaveReport implements ReportStore.
func (s *JSONReportStore) SaveReport(dir m.Path, report m.RunReport) error {
	if err := os.MkdirAll(string(dir), 0o750); err != nil {
		return fmt.Errorf("failed to create reports dir: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	return s.fs.WriteFile(m.Path(filepath.Join(string(dir), reportFileName)), data, 0o600)
}

// LoadReport implements ReportStore.
func (s *JSONReportStore) LoadReport(dir m.Path) (m.RunReport, error) {
	data, err := s.fs.ReadFile(m.Path(filepath.Join(string(dir), reportFileName)))
	if err != nil {
		return m.RunReport{}, fmt.Errorf("failed to read report: %w", err)
	}

	var report m.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return m.RunReport{}, fmt.Errorf("failed to decode report: %w", err)
	}

	return report, nil
}
