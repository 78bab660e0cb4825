package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/shared/common"
	"github.com/chainwatch/platform/shared/types"
)

// slowQueryThreshold triggers slow-query logging
const slowQueryThreshold = 500 * time.Millisecond

// Connect opens a PostgreSQL connection pool from configuration
func Connect(cfg common.PostgreSQLConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, common.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// eventRow is the persistence shape of a processed event
type eventRow struct {
	ID               string         `db:"id"`
	Title            string         `db:"title"`
	Description      string         `db:"description"`
	Source           string         `db:"source"`
	EventType        string         `db:"event_type"`
	URL              sql.NullString `db:"url"`
	Severity         float64        `db:"severity"`
	LocationName     string         `db:"location_name"`
	LocationCountry  string         `db:"location_country"`
	LocationRegion   string         `db:"location_region"`
	Latitude         float64        `db:"latitude"`
	Longitude        float64        `db:"longitude"`
	LocationResolved bool           `db:"location_resolved"`
	ImpactSectors    []byte         `db:"impact_sectors"`
	Warnings         []byte         `db:"warnings"`
	EventTimestamp   time.Time      `db:"event_timestamp"`
	QualityScore     float64        `db:"quality_score"`
	DataQualityScore float64        `db:"data_quality_score"`
	Status           string         `db:"status"`
	Processed        bool           `db:"processed"`
	ProcessedAt      sql.NullTime   `db:"processed_at"`
	ReceivedAt       time.Time      `db:"received_at"`
	CreatedAt        time.Time      `db:"created_at"`
}

// assessmentRow is the persistence shape of a risk assessment
type assessmentRow struct {
	ID              string    `db:"id"`
	Region          string    `db:"region"`
	Sector          string    `db:"sector"`
	RiskLevel       float64   `db:"risk_level"`
	RiskCategory    string    `db:"risk_category"`
	RiskFactors     []byte    `db:"risk_factors"`
	Recommendations []byte    `db:"recommendations"`
	ConfidenceScore float64   `db:"confidence_score"`
	DirectImpact    bool      `db:"direct_impact"`
	EventID         string    `db:"event_id"`
	CreatedAt       time.Time `db:"created_at"`
}

// profileRow is the persistence shape of a business profile
type profileRow struct {
	ID                string  `db:"id"`
	BusinessName      string  `db:"business_name"`
	Industry          string  `db:"industry"`
	SupplyRegions     []byte  `db:"supply_regions"`
	CriticalMaterials []byte  `db:"critical_materials"`
	KeySuppliers      []byte  `db:"key_suppliers"`
	RiskTolerance     float64 `db:"risk_tolerance"`
}

// PostgresEventRepository persists processed events
type PostgresEventRepository struct {
	db      *sqlx.DB
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewPostgresEventRepository creates a new event repository
func NewPostgresEventRepository(db *sqlx.DB, logger *logging.Logger, collector *metrics.Collector) *PostgresEventRepository {
	return &PostgresEventRepository{
		db:      db,
		logger:  logger.WithComponent("event-repository"),
		metrics: collector,
	}
}

// Create inserts a processed event
func (r *PostgresEventRepository) Create(ctx context.Context, event *entity.ProcessedEvent) error {
	row, err := toEventRow(event)
	if err != nil {
		return common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to encode event")
	}

	const query = `
		INSERT INTO processed_events (
			id, title, description, source, event_type, url, severity,
			location_name, location_country, location_region, latitude, longitude, location_resolved,
			impact_sectors, warnings, event_timestamp, quality_score, data_quality_score,
			status, processed, processed_at, received_at, created_at
		) VALUES (
			:id, :title, :description, :source, :event_type, :url, :severity,
			:location_name, :location_country, :location_region, :latitude, :longitude, :location_resolved,
			:impact_sectors, :warnings, :event_timestamp, :quality_score, :data_quality_score,
			:status, :processed, :processed_at, :received_at, :created_at
		)`

	timer := metrics.NewTimer()
	_, err = r.db.NamedExecContext(ctx, query, row)
	r.observe("insert", "processed_events", timer, err)
	if err != nil {
		return common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to insert event")
	}
	return nil
}

// GetByID loads one processed event
func (r *PostgresEventRepository) GetByID(ctx context.Context, eventID types.EventID) (*entity.ProcessedEvent, error) {
	var row eventRow
	timer := metrics.NewTimer()
	err := r.db.GetContext(ctx, &row, `SELECT * FROM processed_events WHERE id = $1`, eventID.String())
	r.observe("select", "processed_events", timer, err)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound("event")
	}
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to load event")
	}
	return fromEventRow(&row)
}

// UpdateStatus advances a persisted event's lifecycle status
func (r *PostgresEventRepository) UpdateStatus(ctx context.Context, eventID types.EventID, status entity.EventStatus) error {
	timer := metrics.NewTimer()
	_, err := r.db.ExecContext(ctx,
		`UPDATE processed_events SET status = $1 WHERE id = $2`,
		string(status), eventID.String())
	r.observe("update", "processed_events", timer, err)
	if err != nil {
		return common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to update event status")
	}
	return nil
}

// MarkProcessed sets the processed flag only when still unset. The WHERE
// clause makes the transition atomic on the database side; the returned bool
// reports whether this call won it.
func (r *PostgresEventRepository) MarkProcessed(ctx context.Context, eventID types.EventID) (bool, error) {
	timer := metrics.NewTimer()
	res, err := r.db.ExecContext(ctx,
		`UPDATE processed_events
		 SET processed = TRUE, processed_at = NOW(), status = $1
		 WHERE id = $2 AND processed = FALSE`,
		string(entity.EventStatusProcessed), eventID.String())
	r.observe("update", "processed_events", timer, err)
	if err != nil {
		return false, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to mark event processed")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to read update result")
	}
	return affected == 1, nil
}

// GetRecent returns processed events within the window, newest first
func (r *PostgresEventRepository) GetRecent(ctx context.Context, since time.Time, limit int) ([]*entity.ProcessedEvent, error) {
	var rows []eventRow
	timer := metrics.NewTimer()
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM processed_events
		 WHERE processed = TRUE AND event_timestamp >= $1
		 ORDER BY event_timestamp DESC
		 LIMIT $2`,
		since, limit)
	r.observe("select", "processed_events", timer, err)
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to load recent events")
	}

	events := make([]*entity.ProcessedEvent, 0, len(rows))
	for i := range rows {
		event, err := fromEventRow(&rows[i])
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// observe records query metrics and slow-query logs
func (r *PostgresEventRepository) observe(operation, table string, timer *metrics.Timer, err error) {
	status := "success"
	if err != nil && err != sql.ErrNoRows {
		status = "error"
	}

	duration := timer.Duration()
	r.metrics.RecordDatabaseQuery(operation, table, status, duration)
	if duration > slowQueryThreshold {
		r.logger.LogSlowQuery(operation+" "+table, duration)
	}
}

// PostgresAssessmentRepository persists risk assessments
type PostgresAssessmentRepository struct {
	db      *sqlx.DB
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewPostgresAssessmentRepository creates a new assessment repository
func NewPostgresAssessmentRepository(db *sqlx.DB, logger *logging.Logger, collector *metrics.Collector) *PostgresAssessmentRepository {
	return &PostgresAssessmentRepository{
		db:      db,
		logger:  logger.WithComponent("assessment-repository"),
		metrics: collector,
	}
}

// CreateBatch inserts assessments in one transaction
func (r *PostgresAssessmentRepository) CreateBatch(ctx context.Context, assessments []*entity.RiskAssessment) error {
	if len(assessments) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to begin transaction")
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO risk_assessments (
			id, region, sector, risk_level, risk_category, risk_factors,
			recommendations, confidence_score, direct_impact, event_id, created_at
		) VALUES (
			:id, :region, :sector, :risk_level, :risk_category, :risk_factors,
			:recommendations, :confidence_score, :direct_impact, :event_id, :created_at
		)`

	timer := metrics.NewTimer()
	for _, assessment := range assessments {
		row, err := toAssessmentRow(assessment)
		if err != nil {
			return common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to encode assessment")
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			r.metrics.RecordDatabaseQuery("insert", "risk_assessments", "error", timer.Duration())
			return common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to insert assessment")
		}
	}

	if err := tx.Commit(); err != nil {
		return common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to commit assessments")
	}
	r.metrics.RecordDatabaseQuery("insert", "risk_assessments", "success", timer.Duration())
	return nil
}

// GetByEventID loads all assessments derived from one event
func (r *PostgresAssessmentRepository) GetByEventID(ctx context.Context, eventID types.EventID) ([]*entity.RiskAssessment, error) {
	var rows []assessmentRow
	timer := metrics.NewTimer()
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM risk_assessments WHERE event_id = $1 ORDER BY risk_level DESC`,
		eventID.String())
	r.metrics.RecordDatabaseQuery("select", "risk_assessments", queryStatus(err), timer.Duration())
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to load assessments")
	}
	return fromAssessmentRows(rows)
}

// GetByRegionSector filters assessments; empty region or sector matches all
// values for that dimension, and limit <= 0 means no limit.
func (r *PostgresAssessmentRepository) GetByRegionSector(ctx context.Context, region, sector string, since time.Time, limit int) ([]*entity.RiskAssessment, error) {
	query := `SELECT * FROM risk_assessments
		 WHERE created_at >= $1
		 AND ($2 = '' OR region = $2)
		 AND ($3 = '' OR sector = $3)
		 ORDER BY risk_level DESC`
	args := []interface{}{since, region, sector}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	var rows []assessmentRow
	timer := metrics.NewTimer()
	err := r.db.SelectContext(ctx, &rows, query, args...)
	r.metrics.RecordDatabaseQuery("select", "risk_assessments", queryStatus(err), timer.Duration())
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to query assessments")
	}
	return fromAssessmentRows(rows)
}

// PostgresProfileRepository reads business profiles. Profiles are owned by
// the profile service; this repository never writes.
type PostgresProfileRepository struct {
	db      *sqlx.DB
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewPostgresProfileRepository creates a new profile repository
func NewPostgresProfileRepository(db *sqlx.DB, logger *logging.Logger, collector *metrics.Collector) *PostgresProfileRepository {
	return &PostgresProfileRepository{
		db:      db,
		logger:  logger.WithComponent("profile-repository"),
		metrics: collector,
	}
}

// GetByID loads one business profile
func (r *PostgresProfileRepository) GetByID(ctx context.Context, profileID types.ProfileID) (*entity.BusinessProfile, error) {
	var row profileRow
	timer := metrics.NewTimer()
	err := r.db.GetContext(ctx, &row, `SELECT * FROM business_profiles WHERE id = $1`, profileID.String())
	r.metrics.RecordDatabaseQuery("select", "business_profiles", queryStatus(err), timer.Duration())
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound("business profile")
	}
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to load profile")
	}
	return fromProfileRow(&row)
}

// List pages through business profiles
func (r *PostgresProfileRepository) List(ctx context.Context, limit, offset int) ([]*entity.BusinessProfile, error) {
	var rows []profileRow
	timer := metrics.NewTimer()
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM business_profiles ORDER BY business_name LIMIT $1 OFFSET $2`,
		limit, offset)
	r.metrics.RecordDatabaseQuery("select", "business_profiles", queryStatus(err), timer.Duration())
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to list profiles")
	}

	profiles := make([]*entity.BusinessProfile, 0, len(rows))
	for i := range rows {
		profile, err := fromProfileRow(&rows[i])
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// Row conversion helpers

func toEventRow(event *entity.ProcessedEvent) (*eventRow, error) {
	sectors, err := json.Marshal(event.ImpactSectors)
	if err != nil {
		return nil, err
	}
	warnings, err := json.Marshal(event.Warnings)
	if err != nil {
		return nil, err
	}

	row := &eventRow{
		ID:               event.ID.String(),
		Title:            event.Title,
		Description:      event.Description,
		Source:           event.Source,
		EventType:        string(event.EventType),
		Severity:         event.Severity,
		LocationName:     event.Location.Name,
		LocationCountry:  event.Location.Country,
		LocationRegion:   event.Location.Region,
		Latitude:         event.Location.Coordinates.Latitude,
		Longitude:        event.Location.Coordinates.Longitude,
		LocationResolved: event.Location.Resolved,
		ImpactSectors:    sectors,
		Warnings:         warnings,
		EventTimestamp:   event.Timestamp,
		QualityScore:     event.QualityScore,
		DataQualityScore: event.DataQualityScore,
		Status:           string(event.Status),
		Processed:        event.Processed,
		ReceivedAt:       event.ReceivedAt,
		CreatedAt:        event.CreatedAt,
	}
	if event.URL != "" {
		row.URL = sql.NullString{String: event.URL, Valid: true}
	}
	if !event.ProcessedAt.IsZero() {
		row.ProcessedAt = sql.NullTime{Time: event.ProcessedAt, Valid: true}
	}
	return row, nil
}

func fromEventRow(row *eventRow) (*entity.ProcessedEvent, error) {
	id, err := types.ParseEventID(row.ID)
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "invalid event id in storage")
	}

	event := &entity.ProcessedEvent{
		ID:          id,
		Title:       row.Title,
		Description: row.Description,
		Source:      row.Source,
		EventType:   types.EventType(row.EventType),
		URL:         row.URL.String,
		Severity:    row.Severity,
		Location: entity.Location{
			Name:     row.LocationName,
			Country:  row.LocationCountry,
			Region:   row.LocationRegion,
			Resolved: row.LocationResolved,
			Coordinates: entity.Coordinates{
				Latitude:  row.Latitude,
				Longitude: row.Longitude,
			},
		},
		Timestamp:        row.EventTimestamp,
		QualityScore:     row.QualityScore,
		DataQualityScore: row.DataQualityScore,
		Status:           entity.EventStatus(row.Status),
		Processed:        row.Processed,
		ReceivedAt:       row.ReceivedAt,
		CreatedAt:        row.CreatedAt,
	}
	if row.ProcessedAt.Valid {
		event.ProcessedAt = row.ProcessedAt.Time
	}

	if len(row.ImpactSectors) > 0 {
		if err := json.Unmarshal(row.ImpactSectors, &event.ImpactSectors); err != nil {
			return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "invalid impact_sectors in storage")
		}
	}
	if len(row.Warnings) > 0 {
		if err := json.Unmarshal(row.Warnings, &event.Warnings); err != nil {
			return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "invalid warnings in storage")
		}
	}

	event.HydrateProcessedFlag()
	return event, nil
}

func toAssessmentRow(assessment *entity.RiskAssessment) (*assessmentRow, error) {
	factors, err := json.Marshal(assessment.RiskFactors)
	if err != nil {
		return nil, err
	}
	recommendations, err := json.Marshal(assessment.Recommendations)
	if err != nil {
		return nil, err
	}

	return &assessmentRow{
		ID:              assessment.ID.String(),
		Region:          assessment.Region,
		Sector:          assessment.Sector,
		RiskLevel:       assessment.RiskLevel,
		RiskCategory:    string(assessment.RiskCategory),
		RiskFactors:     factors,
		Recommendations: recommendations,
		ConfidenceScore: assessment.ConfidenceScore,
		DirectImpact:    assessment.DirectImpact,
		EventID:         assessment.EventID.String(),
		CreatedAt:       assessment.CreatedAt,
	}, nil
}

func fromAssessmentRows(rows []assessmentRow) ([]*entity.RiskAssessment, error) {
	assessments := make([]*entity.RiskAssessment, 0, len(rows))
	for i := range rows {
		row := &rows[i]

		id, err := types.ParseAssessmentID(row.ID)
		if err != nil {
			return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "invalid assessment id in storage")
		}
		eventID, err := types.ParseEventID(row.EventID)
		if err != nil {
			return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "invalid event id in storage")
		}

		assessment := &entity.RiskAssessment{
			ID:              id,
			Region:          row.Region,
			Sector:          row.Sector,
			RiskLevel:       row.RiskLevel,
			RiskCategory:    types.RiskCategory(row.RiskCategory),
			ConfidenceScore: row.ConfidenceScore,
			DirectImpact:    row.DirectImpact,
			EventID:         eventID,
			CreatedAt:       row.CreatedAt,
		}
		if len(row.RiskFactors) > 0 {
			if err := json.Unmarshal(row.RiskFactors, &assessment.RiskFactors); err != nil {
				return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "invalid risk_factors in storage")
			}
		}
		if len(row.Recommendations) > 0 {
			if err := json.Unmarshal(row.Recommendations, &assessment.Recommendations); err != nil {
				return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "invalid recommendations in storage")
			}
		}
		assessments = append(assessments, assessment)
	}
	return assessments, nil
}

func fromProfileRow(row *profileRow) (*entity.BusinessProfile, error) {
	id, err := types.ParseProfileID(row.ID)
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "invalid profile id in storage")
	}

	profile := &entity.BusinessProfile{
		ID:            id,
		BusinessName:  row.BusinessName,
		Industry:      row.Industry,
		RiskTolerance: row.RiskTolerance,
	}

	for _, col := range []struct {
		raw    []byte
		target *[]string
	}{
		{row.SupplyRegions, &profile.SupplyRegions},
		{row.CriticalMaterials, &profile.CriticalMaterials},
		{row.KeySuppliers, &profile.KeySuppliers},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.target); err != nil {
			return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "invalid profile list column in storage")
		}
	}
	return profile, nil
}

// queryStatus maps a query error to a metrics status label
func queryStatus(err error) string {
	if err != nil && err != sql.ErrNoRows {
		return "error"
	}
	return "success"
}
