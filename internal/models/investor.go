package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvestorStatus string

const (
	StatusHot          InvestorStatus = "hot"
	StatusWarm         InvestorStatus = "warm"
	StatusCold         InvestorStatus = "cold"
	StatusContacted    InvestorStatus = "contacted"
	StatusUnresponsive InvestorStatus = "unresponsive"
)

// ParseInvestorStatus maps free text onto a known status. Anything it does not
// recognise becomes StatusCold.
func ParseInvestorStatus(s string) InvestorStatus {
	switch st := InvestorStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusHot, StatusWarm, StatusCold, StatusContacted, StatusUnresponsive:
		return st
	}
	return StatusCold
}

// DefaultFirmType is assigned to firms created implicitly by an import.
const DefaultFirmType = "PMS - Portfolio Management System"

// InvestorRecord is the canonical, source-independent shape of one imported row.
// Empty strings stand for absent values; list fields are never nil.
type InvestorRecord struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email" validate:"required"`
	Phone           string `json:"phone"`
	JobTitle        string `json:"job_title"`
	SeniorityLevel  string `json:"seniority_level"`
	Bio             string `json:"bio"`
	AvatarURL       string `json:"avatar_url"`
	LinkedinURL     string `json:"linkedin_url"`
	TwitterURL      string `json:"twitter_url"`
	PersonalWebsite string `json:"personal_website"`
	FirmWebsite     string `json:"firm_website"`
	Location        string `json:"location"`

	FirmName    string     `json:"firm_name"`
	FirmID      *uuid.UUID `json:"firm_id"`
	FirmType    string     `json:"firm_type"`
	BuySellSide string     `json:"buy_sell_side"`
	AUM         string     `json:"aum"`

	InvestmentStages      []string         `json:"investment_stages"`
	SectorPreferences     []string         `json:"sector_preferences"`
	GeographicPreferences []string         `json:"geographic_preferences"`
	MinCheckSize          *decimal.Decimal `json:"min_check_size"`
	MaxCheckSize          *decimal.Decimal `json:"max_check_size"`
	PortfolioCompanies    []string         `json:"portfolio_companies"`
	NotableInvestments    []string         `json:"notable_investments"`
	Tags                  []string         `json:"tags"`

	Notes     string         `json:"notes"`
	Status    InvestorStatus `json:"status" validate:"oneof=hot warm cold contacted unresponsive"`
	CreatedAt time.Time      `json:"created_at"`
}

// Investor is a record ready for insertion: firm resolved and owner attached.
type Investor struct {
	InvestorRecord
	CreatedBy uuid.UUID `json:"created_by"`
}

type Firm struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwnerStats summarises what one user has in the CRM.
type OwnerStats struct {
	Investors      int        `json:"investors"`
	Firms          int        `json:"firms"`
	LastImportedAt *time.Time `json:"last_imported_at"`
}
