package stockrequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/batch"
	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/shared"
)

const approvalModule = "stock_request"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, companyID, id int64) (Request, error)
	ListRequests(ctx context.Context, companyID int64, filter ListFilter) ([]Request, error)
}

// CatalogPort resolves catalogued request lines.
type CatalogPort interface {
	GetEntry(ctx context.Context, companyID, id int64) (catalog.Entry, error)
}

// Issuer performs the issuance that fulfils a request.
type Issuer interface {
	CommitIssuance(ctx context.Context, scope shared.Scope, in batch.IssuanceInput, idemKey string) (batch.Result, error)
	FindBySource(ctx context.Context, scope shared.Scope, source string) (batch.Batch, error)
}

// ApprovalPort stores the decision history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, companyID int64, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// IntegrationHandler receives decisions after commit.
type IntegrationHandler interface {
	HandleStockRequestDecided(ctx context.Context, evt DecidedEvent) error
}

// Config carries the collaborators of Service.
type Config struct {
	Catalog     CatalogPort
	Issuer      Issuer
	Approvals   ApprovalPort
	Integration IntegrationHandler
	Logger      *slog.Logger
}

// Service runs the request approval workflow.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	issuer      Issuer
	approvals   ApprovalPort
	integration IntegrationHandler
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		catalog:     cfg.Catalog,
		issuer:      cfg.Issuer,
		approvals:   cfg.Approvals,
		integration: cfg.Integration,
		logger:      logger,
		now:         time.Now,
	}
}

// Create stores a pending request.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in CreateInput) (Request, error) {
	if in.RequesterID == 0 {
		in.RequesterID = scope.PersonnelID
	}
	if in.RequesterID <= 0 {
		return Request{}, shared.Validation("requester_id", "is required")
	}
	if len(in.Lines) == 0 {
		return Request{}, shared.Validation("lines", "at least one line is required")
	}
	lines := make([]Line, 0, len(in.Lines))
	for i, l := range in.Lines {
		line, err := s.resolveLine(ctx, scope.CompanyID, i+1, l)
		if err != nil {
			return Request{}, err
		}
		lines = append(lines, line)
	}

	var created Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.InsertRequest(ctx, Request{
			CompanyID:   scope.CompanyID,
			RequesterID: in.RequesterID,
			Status:      StatusPending,
			Notes:       strings.TrimSpace(in.Notes),
		})
		if err != nil {
			return fmt.Errorf("stockrequest: insert: %w", err)
		}
		for _, line := range lines {
			line.RequestID = req.ID
			stored, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			req.Lines = append(req.Lines, stored)
		}
		created = req
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	actor := scope.PersonnelID
	if actor == 0 {
		actor = created.RequesterID
	}
	s.recordApproval(ctx, created, actor, shared.ApprovalSubmit, created.Notes)
	s.logger.Info("stock request submitted",
		slog.Int64("request_id", created.ID),
		slog.Int64("requester_id", created.RequesterID),
		slog.Int("lines", len(created.Lines)))
	return created, nil
}

func (s *Service) resolveLine(ctx context.Context, companyID int64, n int, in LineInput) (Line, error) {
	if !in.Quantity.IsPositive() {
		return Line{}, shared.LineValidation(n, "quantity", "must be positive")
	}
	line := Line{LineNo: n, Quantity: in.Quantity, UnitOfMeasure: strings.TrimSpace(in.UnitOfMeasure)}
	if in.CatalogEntryID > 0 {
		entry, err := s.catalog.GetEntry(ctx, companyID, in.CatalogEntryID)
		if errors.Is(err, shared.ErrNotFound) {
			return Line{}, shared.LineValidation(n, "catalog_entry_id", fmt.Sprintf("unknown catalog entry %d", in.CatalogEntryID))
		}
		if err != nil {
			return Line{}, err
		}
		if entry.TrackingMode == catalog.TrackingSerialized && !in.Quantity.IsInteger() {
			return Line{}, shared.LineValidation(n, "quantity", fmt.Sprintf("%s is serialized; request whole units", entry.Label()))
		}
		id := entry.ID
		line.CatalogEntryID = &id
		line.ItemName = entry.ProductName
		line.UnitOfMeasure = entry.UnitOfMeasure
		return line, nil
	}
	line.ItemName = strings.Join(strings.Fields(in.ItemName), " ")
	if line.ItemName == "" {
		return Line{}, shared.LineValidation(n, "item_name", "is required when no catalog entry is given")
	}
	return line, nil
}

// Get returns a request with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Request, error) {
	return s.repo.GetRequest(ctx, scope.CompanyID, id)
}

// List returns request headers.
func (s *Service) List(ctx context.Context, scope shared.Scope, filter ListFilter) ([]Request, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Validation("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	return s.repo.ListRequests(ctx, scope.CompanyID, filter)
}

// History returns the decision log of a request, oldest first.
func (s *Service) History(ctx context.Context, scope shared.Scope, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.GetRequest(ctx, scope.CompanyID, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, scope.CompanyID, approvalModule, shared.ApprovalRef(approvalModule, id))
}

// Process applies a decision. Fulfilment commits an issuance of the request's lines
// to the requester; when the issuance fails the request stays approved.
func (s *Service) Process(ctx context.Context, scope shared.Scope, id int64, in DecisionInput) (Request, error) {
	from, to, ok := in.Decision.Transition()
	if !ok {
		return Request{}, shared.Validation("decision", fmt.Sprintf("unknown decision %q", in.Decision))
	}
	if scope.PersonnelID <= 0 {
		return Request{}, shared.Validation("X-Personnel-ID", "is required to decide a request")
	}
	note := strings.TrimSpace(in.Note)

	var updated Request
	if in.Decision == DecisionFulfill {
		req, err := s.repo.GetRequest(ctx, scope.CompanyID, id)
		if err != nil {
			return Request{}, err
		}
		if req.Status != from {
			return Request{}, invalidTransition(req, to)
		}
		batchID, err := s.issue(ctx, scope, req, in.Barcodes)
		if err != nil {
			s.logger.Warn("stock request fulfilment failed",
				slog.Int64("request_id", id),
				slog.Any("error", err))
			return Request{}, err
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			updated, err = tx.MarkFulfilled(ctx, scope.CompanyID, id, batchID)
			if errors.Is(err, ErrStatusChanged) {
				current, getErr := tx.GetRequestForUpdate(ctx, scope.CompanyID, id)
				if getErr != nil {
					return getErr
				}
				return invalidTransition(current, to)
			}
			updated.Lines = req.Lines
			return err
		})
		if err != nil {
			return Request{}, err
		}
	} else {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			req, err := tx.GetRequestForUpdate(ctx, scope.CompanyID, id)
			if err != nil {
				return err
			}
			if req.Status != from {
				return invalidTransition(req, to)
			}
			updated, err = tx.SetStatus(ctx, scope.CompanyID, id, from, to, scope.PersonnelID, note)
			updated.Lines = req.Lines
			return err
		})
		if err != nil {
			return Request{}, err
		}
	}

	s.recordApproval(ctx, updated, scope.PersonnelID, in.Decision.approvalAction(), note)
	s.publish(ctx, updated, in.Decision, scope.PersonnelID)
	s.logger.Info("stock request decided",
		slog.Int64("request_id", updated.ID),
		slog.String("decision", string(in.Decision)),
		slog.String("status", string(updated.Status)))
	return updated, nil
}

// issue commits the fulfilling issuance, or finds the one an earlier attempt
// committed before the request could be marked.
func (s *Service) issue(ctx context.Context, scope shared.Scope, req Request, barcodes map[int][]string) (int64, error) {
	if s.issuer == nil {
		return 0, errors.New("stockrequest: issuer not configured")
	}
	existing, err := s.issuer.FindBySource(ctx, scope, req.Source())
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return 0, err
	}

	in := batch.IssuanceInput{
		PersonnelID: req.RequesterID,
		BatchName:   req.BatchName(),
		Source:      req.Source(),
		CreatedBy:   scope.PersonnelID,
	}
	for _, l := range req.Lines {
		line := batch.IssuanceLine{
			Quantity: l.Quantity,
			Barcodes: barcodes[l.LineNo],
			Notes:    fmt.Sprintf("%s line %d", req.BatchName(), l.LineNo),
		}
		if l.CatalogEntryID != nil {
			line.Item = batch.CataloguedItem{CatalogEntryID: *l.CatalogEntryID}
		} else {
			line.Item = batch.AdHocItem{Name: l.ItemName, UnitOfMeasure: l.UnitOfMeasure}
		}
		in.Lines = append(in.Lines, line)
	}
	res, err := s.issuer.CommitIssuance(ctx, scope, in, "")
	if errors.Is(err, shared.ErrConflict) {
		if existing, findErr := s.issuer.FindBySource(ctx, scope, req.Source()); findErr == nil {
			return existing.ID, nil
		}
	}
	if err != nil {
		return 0, err
	}
	return res.Batch.ID, nil
}

func invalidTransition(req Request, to Status) error {
	return &shared.InvalidTransitionError{Entity: "stock_request", ID: req.ID, From: string(req.Status), To: string(to)}
}

func (s *Service) recordApproval(ctx context.Context, req Request, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		CompanyID: req.CompanyID,
		Module:    approvalModule,
		RefID:     shared.ApprovalRef(approvalModule, req.ID),
		ActorID:   actorID,
		Action:    action,
		Note:      note,
	})
	if err != nil {
		s.logger.Warn("record approval", slog.Int64("request_id", req.ID), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, req Request, decision Decision, actorID int64) {
	if s.integration == nil {
		return
	}
	err := s.integration.HandleStockRequestDecided(ctx, DecidedEvent{
		CompanyID:   req.CompanyID,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		Decision:    decision,
		Status:      req.Status,
		ActorID:     actorID,
		BatchID:     req.BatchID,
		DecidedAt:   s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("publish stock request decision", slog.Int64("request_id", req.ID), slog.Any("error", err))
	}
}
