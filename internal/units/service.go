package units

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	GetUnit(ctx context.Context, companyID, id int64) (Unit, error)
	BarcodeRegistered(ctx context.Context, barcodeKey string) (bool, error)
	ListUnits(ctx context.Context, companyID int64, filter ListFilter) ([]Unit, error)
}

// Service exposes unit registry reads.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get returns one unit.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Unit, error) {
	return s.repo.GetUnit(ctx, scope.CompanyID, id)
}

// List lists units of the caller's company.
func (s *Service) List(ctx context.Context, scope shared.Scope, filter ListFilter) ([]Unit, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Validation("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	return s.repo.ListUnits(ctx, scope.CompanyID, filter)
}

// CheckBarcode validates a scan against the barcodes the client already staged for
// its batch and against every registered unit. The two cases fail with distinct
// DuplicateBarcodeError scopes.
func (s *Service) CheckBarcode(ctx context.Context, staged []string, barcode string) error {
	staging := NewStaging()
	for i, b := range staged {
		if err := staging.Stage(i+1, b); err != nil {
			return err
		}
	}
	if err := staging.Stage(len(staged)+1, barcode); err != nil {
		return err
	}
	registered, err := s.repo.BarcodeRegistered(ctx, BarcodeKey(barcode))
	if err != nil {
		return fmt.Errorf("units: check barcode: %w", err)
	}
	if registered {
		return &shared.DuplicateBarcodeError{Barcode: strings.TrimSpace(barcode), Scope: shared.DuplicateGlobal}
	}
	return nil
}
