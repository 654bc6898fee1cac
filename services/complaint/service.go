package complaint

import (
	"context"
	"net/http"
	"strings"
	"time"

	"delivery-dispatch/pkg/db/option"
	"delivery-dispatch/pkg/db/pagination"
	"delivery-dispatch/pkg/errutil"
	"delivery-dispatch/pkg/middleware"
	"delivery-dispatch/pkg/repository"
	"delivery-dispatch/pkg/sequence"
	"delivery-dispatch/pkg/task"
	"delivery-dispatch/services/reputation"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opTimeout = 5 * time.Second

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	ledger    *reputation.Ledger
	sequencer sequence.Generator
	enqueuer  task.Enqueuer

	complaints repository.Repository[Complaint]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Ledger    *reputation.Ledger
	Sequencer sequence.Generator
	Enqueuer  task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		ledger:    p.Ledger,
		sequencer: p.Sequencer,
		enqueuer:  p.Enqueuer,

		complaints: repository.ProvideStore[Complaint](p.DB),
	}
}

// File records a complaint or compliment in pending state. Nothing touches
// the ledger until management resolves it. The subject's role defaults from
// the filer's: customers file about workers, workers about customers;
// management states it explicitly via about_role.
func (s *Service) File(ctx context.Context, filerID, filerRole string, req FileRequest) (*Complaint, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errutil.ValidationFailed("text must not be empty", nil,
			errutil.WithDetails(errutil.Detail{Field: "text", Message: "must not be blank"}))
	}
	if req.AboutUserID == "" {
		return nil, errutil.ValidationFailed("subject account id is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "about_user_id", Message: "must not be empty"}))
	}

	kind := Type(req.Type)
	if kind != TypeComplaint && kind != TypeCompliment {
		return nil, errutil.ValidationFailed("type must be complaint or compliment", nil,
			errutil.WithDetails(errutil.Detail{Field: "type", Message: "must be complaint or compliment"}))
	}

	subjectRole := req.AboutRole
	switch subjectRole {
	case string(reputation.RoleEmployee), string(reputation.RoleCustomer):
	case "":
		subjectRole = string(reputation.RoleEmployee)
		if filerRole == middleware.RoleWorker {
			subjectRole = string(reputation.RoleCustomer)
		}
	default:
		return nil, errutil.ValidationFailed("about_role must be employee or customer", nil,
			errutil.WithDetails(errutil.Detail{Field: "about_role", Message: "must be employee or customer"}))
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	caseCode, err := s.sequencer.NextCaseCode(ctx)
	if err != nil {
		return nil, errutil.Unavailable("could not allocate case code", err)
	}

	entry := &Complaint{
		ID:          s.node.Generate().String(),
		CaseCode:    caseCode,
		Type:        kind,
		SubjectID:   req.AboutUserID,
		SubjectRole: subjectRole,
		OrderID:     req.OrderID,
		Text:        req.Text,
		Status:      StatusPending,
	}
	if filerID != "" {
		entry.FilerID = &filerID
	}

	if err := s.complaints.Create(ctx, entry); err != nil {
		return nil, err
	}

	zap.L().Info("complaint filed",
		zap.String("complaint_id", entry.ID),
		zap.String("case_code", entry.CaseCode),
		zap.String("type", string(entry.Type)),
		zap.String("subject_id", entry.SubjectID),
	)
	return entry, nil
}

// Resolve closes a pending complaint. Upholding it appends the ledger effect
// in the same transaction; dismissing leaves the ledger untouched. A
// complaint resolves exactly once, and a disputed one only resolves through
// the dispute path.
func (s *Service) Resolve(ctx context.Context, id string, req ResolveRequest) (*Complaint, error) {
	outcome := Outcome(req.Outcome)
	if outcome != OutcomeUpheld && outcome != OutcomeDismissed {
		return nil, errutil.ValidationFailed("outcome must be upheld or dismissed", nil,
			errutil.WithDetails(errutil.Detail{Field: "outcome", Message: "must be upheld or dismissed"}))
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var entry *Complaint
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.lockComplaint(ctx, tx, id)
		if err != nil {
			return err
		}
		switch entry.Status {
		case StatusResolved:
			return errutil.Conflict("complaint already resolved", nil)
		case StatusDisputed:
			return errutil.UnprocessableEntity("complaint is under dispute", nil)
		}

		now := time.Now().UTC()
		entry.Status = StatusResolved
		entry.Outcome = &outcome
		entry.ResolvedAt = &now
		if err := tx.Save(entry).Error; err != nil {
			return err
		}

		if outcome == OutcomeUpheld {
			if _, err := s.ledger.Append(ctx, tx, s.effectEvent(entry)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.requestEvaluation(ctx, entry.SubjectID)

	zap.L().Info("complaint resolved",
		zap.String("complaint_id", entry.ID),
		zap.String("outcome", string(outcome)),
	)
	return entry, nil
}

// Dispute lets the subject contest a pending complaint or an already upheld
// one. The contested warning keeps counting while the dispute is open; the
// record only flips to pending-review in the warning view.
func (s *Service) Dispute(ctx context.Context, id, callerID string) (*Complaint, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var entry *Complaint
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.lockComplaint(ctx, tx, id)
		if err != nil {
			return err
		}
		if entry.SubjectID != callerID {
			return errutil.Forbidden("only the subject may dispute", nil)
		}
		if entry.Status == StatusDisputed {
			return errutil.Conflict("complaint already disputed", nil)
		}
		if entry.AdjudicatedAt != nil {
			return errutil.Conflict("dispute already adjudicated", nil)
		}
		if entry.Status == StatusResolved && (entry.Outcome == nil || *entry.Outcome != OutcomeUpheld) {
			return errutil.UnprocessableEntity("nothing to dispute on a dismissed complaint", nil)
		}

		entry.Status = StatusDisputed
		if err := tx.Save(entry).Error; err != nil {
			return err
		}

		_, err = s.ledger.Append(ctx, tx, &reputation.Event{
			AccountID:   entry.SubjectID,
			Role:        s.subjectRole(entry),
			Type:        reputation.EventDisputeOpened,
			OrderID:     entry.OrderID,
			SourceID:    entry.ID,
			Description: "dispute opened on " + entry.CaseCode,
		})
		return err
	}); err != nil {
		return nil, err
	}

	s.requestEvaluation(ctx, entry.SubjectID)

	zap.L().Info("complaint disputed", zap.String("complaint_id", entry.ID))
	return entry, nil
}

// ResolveDispute adjudicates a disputed complaint. In the subject's favor:
// an already applied warning is reverted, an unapplied one never lands. In
// favor of the original filing: the ledger effect lands now if it had not
// already.
func (s *Service) ResolveDispute(ctx context.Context, id string, req ResolveDisputeRequest) (*Complaint, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var entry *Complaint
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.lockComplaint(ctx, tx, id)
		if err != nil {
			return err
		}
		if entry.Status != StatusDisputed {
			if entry.Status == StatusResolved {
				return errutil.Conflict("complaint already resolved", nil)
			}
			return errutil.UnprocessableEntity("complaint is not under dispute", nil)
		}

		alreadyApplied := entry.Outcome != nil && *entry.Outcome == OutcomeUpheld

		now := time.Now().UTC()
		outcome := OutcomeUpheld
		if req.InFavor {
			outcome = OutcomeDismissed
		}
		entry.Status = StatusResolved
		entry.Outcome = &outcome
		entry.ResolvedAt = &now
		entry.AdjudicatedAt = &now
		if err := tx.Save(entry).Error; err != nil {
			return err
		}

		role := s.subjectRole(entry)
		switch {
		case req.InFavor && alreadyApplied:
			if _, err := s.ledger.Append(ctx, tx, &reputation.Event{
				AccountID:   entry.SubjectID,
				Role:        role,
				Type:        reputation.EventWarningReverted,
				OrderID:     entry.OrderID,
				SourceID:    entry.ID,
				Description: "warning reverted after dispute on " + entry.CaseCode,
			}); err != nil {
				return err
			}
		case !req.InFavor && !alreadyApplied:
			if _, err := s.ledger.Append(ctx, tx, s.effectEvent(entry)); err != nil {
				return err
			}
		}

		_, err = s.ledger.Append(ctx, tx, &reputation.Event{
			AccountID:   entry.SubjectID,
			Role:        role,
			Type:        reputation.EventDisputeClosed,
			OrderID:     entry.OrderID,
			SourceID:    entry.ID,
			Description: "dispute closed on " + entry.CaseCode,
		})
		return err
	}); err != nil {
		return nil, err
	}

	s.requestEvaluation(ctx, entry.SubjectID)

	zap.L().Info("dispute adjudicated",
		zap.String("complaint_id", entry.ID),
		zap.Bool("in_favor", req.InFavor),
	)
	return entry, nil
}

// ListOpen pages through complaints for the management queue, newest first
// with a keyset cursor. Snowflake ids are time-ordered, so paging on id
// keeps the walk stable while new filings arrive.
func (s *Service) ListOpen(ctx context.Context, status Status, p pagination.Pagination) ([]*Complaint, *pagination.PageInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	limit := p.Limit
	if limit <= 0 || limit > 250 {
		limit = 50
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc"}),
		option.ApplyPagination(pagination.Pagination{Limit: limit + 1}),
	}
	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field: "id", Operator: option.LT, Value: cursor.ID,
		}))
	}

	query := &Complaint{}
	if status != "" {
		query.Status = status
	}

	entries, err := s.complaints.Find(ctx, query, opts...)
	if err != nil {
		return nil, nil, err
	}

	info := &pagination.PageInfo{}
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[len(entries)-1]
		next, err := pagination.EncodeCursor(pagination.Cursor{ID: last.ID})
		if err != nil {
			return nil, nil, err
		}
		info.NextCursor = next
		info.HasMore = true
	}
	return entries, info, nil
}

func (s *Service) lockComplaint(ctx context.Context, tx *gorm.DB, id string) (*Complaint, error) {
	entry, err := s.complaints.WithTrx(tx).FindOne(ctx, &Complaint{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errutil.NotFound("complaint not found", nil)
	}
	return entry, nil
}

// effectEvent maps an upheld filing onto the subject's state machine:
// complaints become warnings for customers and complaint marks for
// employees; compliments only move the employee machine.
func (s *Service) effectEvent(entry *Complaint) *reputation.Event {
	role := s.subjectRole(entry)

	eventType := reputation.EventComplaint
	if entry.Type == TypeCompliment {
		eventType = reputation.EventCompliment
	} else if role == reputation.RoleCustomer {
		eventType = reputation.EventWarning
	}

	var sourceID string
	if entry.FilerID != nil {
		sourceID = *entry.FilerID
	}

	return &reputation.Event{
		AccountID:   entry.SubjectID,
		Role:        role,
		Type:        eventType,
		Value:       1,
		OrderID:     entry.OrderID,
		SourceID:    sourceID,
		Description: string(entry.Type) + " upheld, case " + entry.CaseCode,
	}
}

func (s *Service) subjectRole(entry *Complaint) reputation.Role {
	if entry.SubjectRole == string(reputation.RoleCustomer) {
		return reputation.RoleCustomer
	}
	return reputation.RoleEmployee
}

func (s *Service) requestEvaluation(ctx context.Context, accountID string) {
	if s.enqueuer == nil || accountID == "" {
		return
	}
	t, err := reputation.NewEvaluateAccountTask(accountID)
	if err == nil {
		_, err = s.enqueuer.Enqueue(ctx, t)
	}
	if err != nil {
		zap.L().Warn("failed to enqueue evaluation", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (s *Service) handleFile(c *gin.Context) {
	var req FileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	entry, err := s.File(c.Request.Context(), middleware.AccountID(c), middleware.Role(c), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Service) handleList(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	entries, info, err := s.ListOpen(c.Request.Context(), Status(c.Query("status")), p)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"complaints": entries, "page_info": info})
}

func (s *Service) handleResolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	entry, err := s.Resolve(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Service) handleDispute(c *gin.Context) {
	entry, err := s.Dispute(c.Request.Context(), c.Param("id"), middleware.AccountID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Service) handleResolveDispute(c *gin.Context) {
	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	entry, err := s.ResolveDispute(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
