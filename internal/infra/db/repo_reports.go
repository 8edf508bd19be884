package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"

	"gorm.io/gorm"
)

type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) Create(ctx context.Context, report domain.ComplianceReport) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := reportModelFromDomain(report)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *ReportRepository) GetByID(ctx context.Context, id string) (*domain.ComplianceReport, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ComplianceReportModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	report, err := reportFromModel(model)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func reportModelFromDomain(report domain.ComplianceReport) (ComplianceReportModel, error) {
	eventCounts, err := json.Marshal(report.EventCounts)
	if err != nil {
		return ComplianceReportModel{}, err
	}
	severityCounts, err := json.Marshal(report.SeverityCounts)
	if err != nil {
		return ComplianceReportModel{}, err
	}
	flags, err := json.Marshal(report.Flags)
	if err != nil {
		return ComplianceReportModel{}, err
	}
	return ComplianceReportModel{
		ID:                 report.ID,
		IdentityID:         report.IdentityID,
		CompositeID:        report.CompositeID,
		ReportType:         string(report.Type),
		GeneratedAt:        report.GeneratedAt.UTC(),
		ValidUntil:         report.ValidUntil.UTC(),
		WindowStart:        report.WindowStart.UTC(),
		WindowEnd:          report.WindowEnd.UTC(),
		EventCountsJSON:    eventCounts,
		SeverityCountsJSON: severityCounts,
		MerkleRoot:         report.MerkleRoot,
		TamperEvident:      report.TamperEvident,
		IntegrityDetail:    stringPtrIfNotEmpty(report.IntegrityDetail),
		FlagsJSON:          flags,
		ReportHash:         report.ReportHash,
	}, nil
}

func reportFromModel(model ComplianceReportModel) (domain.ComplianceReport, error) {
	var eventCounts map[domain.AuditCategory]int
	if err := json.Unmarshal(model.EventCountsJSON, &eventCounts); err != nil {
		return domain.ComplianceReport{}, fmt.Errorf("decode event counts for report %s: %w", model.ID, err)
	}
	var severityCounts map[domain.AuditSeverity]int
	if err := json.Unmarshal(model.SeverityCountsJSON, &severityCounts); err != nil {
		return domain.ComplianceReport{}, fmt.Errorf("decode severity counts for report %s: %w", model.ID, err)
	}
	var flags map[string]bool
	if err := json.Unmarshal(model.FlagsJSON, &flags); err != nil {
		return domain.ComplianceReport{}, fmt.Errorf("decode flags for report %s: %w", model.ID, err)
	}
	return domain.ComplianceReport{
		ID:              model.ID,
		IdentityID:      model.IdentityID,
		CompositeID:     model.CompositeID,
		Type:            domain.ReportType(model.ReportType),
		GeneratedAt:     model.GeneratedAt.UTC(),
		ValidUntil:      model.ValidUntil.UTC(),
		WindowStart:     model.WindowStart.UTC(),
		WindowEnd:       model.WindowEnd.UTC(),
		EventCounts:     eventCounts,
		SeverityCounts:  severityCounts,
		MerkleRoot:      model.MerkleRoot,
		TamperEvident:   model.TamperEvident,
		IntegrityDetail: stringValue(model.IntegrityDetail),
		Flags:           flags,
		ReportHash:      model.ReportHash,
	}, nil
}
