package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/investor-crm/internal/models"
)

func TestValidateRecord(t *testing.T) {
	valid := func() models.InvestorRecord {
		return models.InvestorRecord{Email: "a@x.com", Status: models.StatusCold, Tags: []string{}}
	}

	tests := []struct {
		name   string
		mutate func(*models.InvestorRecord)
		want   string
	}{
		{"valid", func(*models.InvestorRecord) {}, ""},
		{"accented utf8", func(r *models.InvestorRecord) { r.FirstName = "José" }, ""},
		{"missing email", func(r *models.InvestorRecord) { r.Email = "" }, "email is required"},
		{"bad status", func(r *models.InvestorRecord) { r.Status = "lukewarm" }, "status must be one of hot warm cold contacted unresponsive"},
		{"latin1 email", func(r *models.InvestorRecord) { r.Email = "jos\xe9@x.com" }, "email is not valid UTF-8 text, save the file as UTF-8"},
		{"latin1 list item", func(r *models.InvestorRecord) { r.Tags = []string{"ok", "caf\xe9"} }, "tags is not valid UTF-8 text, save the file as UTF-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.mutate(&rec)
			err := validateRecord(rec)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}
