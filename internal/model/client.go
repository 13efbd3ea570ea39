package model

// ClientProfile is one client as read from the profile table. Only
// RiskTolerance and HorizonYears influence the allocation; the other fields
// are carried for display.
type ClientProfile struct {
	ID                   string  `json:"id" yaml:"id" validate:"required"`
	Age                  int     `json:"age" yaml:"age" validate:"gte=0,lte=130"`
	AnnualIncome         float64 `json:"annual_income" yaml:"annual_income" validate:"gte=0"`
	NetWorth             float64 `json:"net_worth" yaml:"net_worth"`
	HorizonYears         int     `json:"horizon_years" yaml:"horizon_years" validate:"gte=1,lte=100"`
	RiskTolerance        int     `json:"risk_tolerance" yaml:"risk_tolerance" validate:"gte=1"`
	PeriodicContribution float64 `json:"periodic_contribution" yaml:"periodic_contribution" validate:"gte=0"`
}
