package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"

	"github.com/david/investor-crm/internal/models"
)

const FailureSheet = "FailedRecords"

// FailureFileName is the artifact name for a job finishing at t.
func FailureFileName(t time.Time) string {
	return fmt.Sprintf("failed_investors_%d.xlsx", t.UnixMilli())
}

// ArtifactWriter exports failed records as a workbook whose columns use the
// registry labels, so a corrected sheet can be uploaded again.
type ArtifactWriter struct {
	dir      string
	registry *Registry
}

func NewArtifactWriter(dir string, registry *Registry) *ArtifactWriter {
	return &ArtifactWriter{dir: dir, registry: registry}
}

// Write saves failed to dir and returns the file path.
func (w *ArtifactWriter) Write(failed []models.FailedRecord, at time.Time) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create failure directory")
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), FailureSheet); err != nil {
		return "", errors.Wrap(err, "name sheet")
	}

	header := []any{"Row", "Stage", "Error"}
	for _, field := range canonicalFields {
		header = append(header, w.registry.Label(field))
	}
	if err := f.SetSheetRow(FailureSheet, "A1", &header); err != nil {
		return "", errors.Wrap(err, "write header")
	}

	for i, fr := range failed {
		values := recordValues(fr.Record)
		row := []any{fr.Row, string(fr.Stage), fr.Reason}
		for _, field := range canonicalFields {
			row = append(row, values[field])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		if err := f.SetSheetRow(FailureSheet, cell, &row); err != nil {
			return "", errors.Wrapf(err, "write row %d", fr.Row)
		}
	}

	path := filepath.Join(w.dir, FailureFileName(at))
	if err := f.SaveAs(path); err != nil {
		return "", errors.Wrap(err, "save failure workbook")
	}
	return path, nil
}

func recordValues(rec models.InvestorRecord) map[string]string {
	v := map[string]string{
		"firstName":             rec.FirstName,
		"lastName":              rec.LastName,
		"email":                 rec.Email,
		"phone":                 rec.Phone,
		"jobTitle":              rec.JobTitle,
		"seniorityLevel":        rec.SeniorityLevel,
		"bio":                   rec.Bio,
		"avatarUrl":             rec.AvatarURL,
		"linkedinUrl":           rec.LinkedinURL,
		"twitterUrl":            rec.TwitterURL,
		"personalWebsite":       rec.PersonalWebsite,
		"firmWebsite":           rec.FirmWebsite,
		"location":              rec.Location,
		"firmName":              rec.FirmName,
		"firmType":              rec.FirmType,
		"buySellSide":           rec.BuySellSide,
		"aum":                   rec.AUM,
		"investmentStages":      strings.Join(rec.InvestmentStages, ", "),
		"sectorPreferences":     strings.Join(rec.SectorPreferences, ", "),
		"geographicPreferences": strings.Join(rec.GeographicPreferences, ", "),
		"portfolioCompanies":    strings.Join(rec.PortfolioCompanies, ", "),
		"notableInvestments":    strings.Join(rec.NotableInvestments, ", "),
		"tags":                  strings.Join(rec.Tags, ", "),
		"notes":                 rec.Notes,
		"status":                string(rec.Status),
	}
	if rec.FirmID != nil {
		v["firmId"] = rec.FirmID.String()
	}
	if rec.MinCheckSize != nil {
		v["minCheckSize"] = rec.MinCheckSize.String()
	}
	if rec.MaxCheckSize != nil {
		v["maxCheckSize"] = rec.MaxCheckSize.String()
	}
	if !rec.CreatedAt.IsZero() {
		v["createdAt"] = rec.CreatedAt.Format(time.RFC3339)
	}
	for field, text := range v {
		v[field] = strings.ToValidUTF8(text, "\uFFFD")
	}
	return v
}
