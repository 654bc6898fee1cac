package reputation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"delivery-dispatch/pkg/config"
	"delivery-dispatch/pkg/errutil"
	"delivery-dispatch/pkg/middleware"
	"delivery-dispatch/pkg/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	cfg    config.ReputationConfig
	ledger *Ledger
	eng    engine

	records repository.Repository[Record]
	events  repository.Repository[Event]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Ledger *Ledger
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		cfg:    p.Config.Reputation,
		ledger: p.Ledger,
		eng:    engine{cfg: p.Config.Reputation},

		records: repository.ProvideStore[Record](p.DB),
		events:  repository.ProvideStore[Event](p.DB),
	}
}

// StatusView is the my-status payload. Employee and customer sections are
// populated according to the record's role; near-threshold flags are derived
// at read time from the live counters.
type StatusView struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"`

	EmployeeStatus     string  `json:"employee_status,omitempty"`
	ComplaintCount     int     `json:"complaint_count"`
	ComplimentCount    int     `json:"compliment_count"`
	DemotionCount      int     `json:"demotion_count"`
	BonusCount         int     `json:"bonus_count"`
	BonusEligible      bool    `json:"bonus_eligible"`
	NearDemotion       bool    `json:"near_demotion"`
	NearFiring         bool    `json:"near_firing"`
	RatingAvg          float64 `json:"rating_avg"`
	RatingCount        int64   `json:"rating_count"`
	DeliveryCount      int64   `json:"delivery_count"`
	OnTimePercentage   float64 `json:"on_time_percentage"`
	AvgDeliveryMinutes float64 `json:"avg_delivery_minutes"`

	CustomerTier  string `json:"customer_tier,omitempty"`
	WarningCount  int    `json:"warning_count"`
	NearThreshold bool   `json:"near_threshold"`
	Blacklisted   bool   `json:"blacklisted"`
	ActiveDispute bool   `json:"active_dispute"`

	UpdatedAt time.Time `json:"updated_at"`
}

// WarningSummary is the customer-facing my-warnings payload.
type WarningSummary struct {
	AccountID      string `json:"account_id"`
	Tier           string `json:"tier"`
	WarningCount   int    `json:"warning_count"`
	Threshold      int    `json:"threshold"`
	NearThreshold  bool   `json:"near_threshold"`
	Blacklisted    bool   `json:"blacklisted"`
	ActiveDispute  bool   `json:"active_dispute"`
	WarningMessage string `json:"warning_message"`
}

// Status materializes the record view for an account. Accounts with no
// evaluated events yet get a zero-valued view in the role they asked with,
// never a NotFound; the record itself is created lazily by the evaluator.
func (s *Service) Status(ctx context.Context, accountID string, fallback Role) (*StatusView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout())
	defer cancel()

	rec, err := s.records.FindOne(ctx, &Record{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = newRecord(accountID, fallback)
	}

	view := &StatusView{
		AccountID: rec.AccountID,
		Role:      string(rec.Role),
		UpdatedAt: rec.UpdatedAt,
	}

	if rec.Role == RoleCustomer {
		view.CustomerTier = string(rec.CustomerTier)
		view.WarningCount = rec.WarningCount
		view.NearThreshold = s.eng.nearWarningThreshold(rec)
		view.Blacklisted = rec.Blacklisted
		view.ActiveDispute = rec.ActiveDispute
		return view, nil
	}

	view.EmployeeStatus = string(rec.EmployeeStatus)
	view.ComplaintCount = rec.ComplaintCount
	view.ComplimentCount = rec.ComplimentCount
	view.DemotionCount = rec.DemotionCount
	view.BonusCount = rec.BonusCount
	view.BonusEligible = rec.BonusEligible
	view.NearDemotion = s.eng.nearDemotion(rec)
	view.NearFiring = s.eng.nearFiring(rec)
	view.RatingAvg = rec.RatingAvg
	view.RatingCount = rec.RatingCount
	view.DeliveryCount = rec.DeliveryCount
	view.OnTimePercentage = rec.OnTimePercentage()
	view.AvgDeliveryMinutes = rec.AvgDeliveryMinutes()
	return view, nil
}

// Warnings builds the customer warning summary. The message reflects
// pending-review state while a dispute is open even though the disputed
// warning keeps counting toward the threshold.
func (s *Service) Warnings(ctx context.Context, accountID string) (*WarningSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout())
	defer cancel()

	rec, err := s.records.FindOne(ctx, &Record{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = newRecord(accountID, RoleCustomer)
	}
	if rec.Role != RoleCustomer {
		return nil, errutil.UnprocessableEntity("account is not a customer", nil)
	}

	threshold := s.eng.warningThreshold(rec)
	summary := &WarningSummary{
		AccountID:     rec.AccountID,
		Tier:          string(rec.CustomerTier),
		WarningCount:  rec.WarningCount,
		Threshold:     threshold,
		NearThreshold: s.eng.nearWarningThreshold(rec),
		Blacklisted:   rec.Blacklisted,
		ActiveDispute: rec.ActiveDispute,
	}

	switch {
	case rec.Blacklisted:
		summary.WarningMessage = "account deregistered: warning limit reached"
	case rec.ActiveDispute:
		summary.WarningMessage = fmt.Sprintf("%d of %d warnings, latest warning under review", rec.WarningCount, threshold)
	case rec.WarningCount > 0:
		summary.WarningMessage = fmt.Sprintf("%d of %d warnings", rec.WarningCount, threshold)
	default:
		summary.WarningMessage = "no warnings on record"
	}
	return summary, nil
}

func (s *Service) opTimeout() time.Duration {
	if s.cfg.OperationTimeout > 0 {
		return s.cfg.OperationTimeout
	}
	return 5 * time.Second
}

func (s *Service) handleMyStatus(c *gin.Context) {
	fallback := RoleEmployee
	if middleware.Role(c) == middleware.RoleCustomer {
		fallback = RoleCustomer
	}

	view, err := s.Status(c.Request.Context(), middleware.AccountID(c), fallback)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Service) handleMyWarnings(c *gin.Context) {
	summary, err := s.Warnings(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Service) handleEvaluateAll(c *gin.Context) {
	summary, err := s.EvaluateAll(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Service) handleVerifyChain(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		accountID = middleware.AccountID(c)
	}

	report, err := s.ledger.VerifyChain(c.Request.Context(), accountID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}
