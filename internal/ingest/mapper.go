package ingest

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/david/investor-crm/internal/models"
)

// RawRow is one decoded source row keyed by its column header.
type RawRow map[string]any

var canonicalFields = []string{
	"firstName", "lastName", "email", "phone", "jobTitle", "seniorityLevel", "bio",
	"avatarUrl", "linkedinUrl", "twitterUrl", "personalWebsite", "firmWebsite", "location",
	"firmName", "firmId", "firmType", "buySellSide", "aum",
	"investmentStages", "sectorPreferences", "geographicPreferences",
	"minCheckSize", "maxCheckSize", "portfolioCompanies", "notableInvestments", "tags",
	"notes", "status", "createdAt",
}

func isCanonicalField(name string) bool {
	for _, f := range canonicalFields {
		if f == name {
			return true
		}
	}
	return false
}

// CheckFieldMapping reports the first target field that is not a canonical
// investor field.
func CheckFieldMapping(mapping map[string]string) error {
	cols := make([]string, 0, len(mapping))
	for col := range mapping {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if !isCanonicalField(mapping[col]) {
			return fmt.Errorf("column %q maps to unknown field %q", col, mapping[col])
		}
	}
	return nil
}

// Mapper converts raw rows into InvestorRecords. It is pure apart from the
// injected clock, which only supplies CreatedAt when the row has none.
type Mapper struct {
	registry  *Registry
	overrides map[string][]string
	now       func() time.Time
}

func NewMapper(registry *Registry, now func() time.Time) *Mapper {
	if now == nil {
		now = time.Now
	}
	return &Mapper{registry: registry, now: now}
}

// WithFieldMapping returns a copy of m that checks the caller's own columns
// (source column -> canonical field) before the registry's. Unknown target
// fields are ignored.
func (m *Mapper) WithFieldMapping(mapping map[string]string) *Mapper {
	if len(mapping) == 0 {
		return m
	}
	cols := make([]string, 0, len(mapping))
	for col := range mapping {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	overrides := make(map[string][]string)
	for _, col := range cols {
		field := mapping[col]
		if isCanonicalField(field) {
			overrides[field] = append(overrides[field], col)
		}
	}
	return &Mapper{registry: m.registry, overrides: overrides, now: m.now}
}

// Map never fails: missing or malformed values degrade to empty fields.
func (m *Mapper) Map(row RawRow) models.InvestorRecord {
	lk := newLookup(row)
	get := func(field string) any {
		if v, ok := lk.find(m.overrides[field]); ok {
			return v
		}
		v, _ := lk.find(m.registry.Columns(field))
		return v
	}
	text := func(field string) string { return cellString(get(field)) }

	rec := models.InvestorRecord{
		FirstName:       text("firstName"),
		LastName:        text("lastName"),
		Email:           text("email"),
		Phone:           text("phone"),
		JobTitle:        text("jobTitle"),
		SeniorityLevel:  text("seniorityLevel"),
		Bio:             text("bio"),
		AvatarURL:       text("avatarUrl"),
		LinkedinURL:     text("linkedinUrl"),
		TwitterURL:      text("twitterUrl"),
		PersonalWebsite: text("personalWebsite"),
		FirmWebsite:     text("firmWebsite"),
		Location:        text("location"),
		FirmName:        normalizeSpace(text("firmName")),
		FirmType:        text("firmType"),
		BuySellSide:     text("buySellSide"),
		AUM:             text("aum"),

		InvestmentStages:      splitList(get("investmentStages")),
		SectorPreferences:     splitList(get("sectorPreferences")),
		GeographicPreferences: splitList(get("geographicPreferences")),
		MinCheckSize:          parseDecimal(get("minCheckSize")),
		MaxCheckSize:          parseDecimal(get("maxCheckSize")),
		PortfolioCompanies:    splitList(get("portfolioCompanies")),
		NotableInvestments:    splitList(get("notableInvestments")),
		Tags:                  splitList(get("tags")),

		Notes:  text("notes"),
		Status: models.ParseInvestorStatus(text("status")),
	}

	if id, err := uuid.Parse(text("firmId")); err == nil {
		rec.FirmID = &id
	}
	if t, ok := parseTime(get("createdAt")); ok {
		rec.CreatedAt = t
	} else {
		rec.CreatedAt = m.now().UTC()
	}
	return rec
}

// lookup resolves candidate column names against one row, exactly first and
// then by folded header.
type lookup struct {
	row    RawRow
	folded map[string]string
}

func newLookup(row RawRow) *lookup {
	return &lookup{row: row}
}

func (l *lookup) find(candidates []string) (any, bool) {
	for _, col := range candidates {
		if v, ok := l.row[col]; ok && !isBlank(v) {
			return v, true
		}
	}
	for _, col := range candidates {
		key, ok := l.foldedIndex()[headerKey(col)]
		if !ok {
			continue
		}
		if v := l.row[key]; !isBlank(v) {
			return v, true
		}
	}
	return nil, false
}

func (l *lookup) foldedIndex() map[string]string {
	if l.folded != nil {
		return l.folded
	}
	keys := make([]string, 0, len(l.row))
	for k := range l.row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	l.folded = make(map[string]string, len(keys))
	for _, k := range keys {
		fk := headerKey(k)
		if _, taken := l.folded[fk]; !taken && fk != "" {
			l.folded[fk] = k
		}
	}
	return l.folded
}
