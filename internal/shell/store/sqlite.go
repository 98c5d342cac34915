package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	gosqlite3 "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// Constraint Errors
// =============================================================================

// constraintCode returns the extended code of a SQLite constraint violation,
// or 0 when err is not one.
func constraintCode(err error) gosqlite3.ErrNoExtended {
	var se gosqlite3.Error
	if errors.As(err, &se) && se.Code == gosqlite3.ErrConstraint {
		return se.ExtendedCode
	}
	return 0
}

func isUniqueViolation(err error) bool {
	switch constraintCode(err) {
	case gosqlite3.ErrConstraintUnique, gosqlite3.ErrConstraintPrimaryKey:
		return true
	}
	return false
}

// rowExists reports whether table has a row with id. table is never user input.
func rowExists(ctx context.Context, exec executor, table, id string) bool {
	var n int
	err := exec.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id)
	return err == nil && n > 0
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// One connection serializes writers from parallel deploys and keeps
	// ":memory:" databases on a single handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// Row Types
// =============================================================================

type serviceRow struct {
	ID          string  `db:"id"`
	WorkspaceID string  `db:"workspace_id"`
	ProjectID   string  `db:"project_id"`
	Name        string  `db:"name"`
	Type        string  `db:"type"`
	Status      string  `db:"status"`
	DeployOrder int     `db:"deploy_order"`
	DependsOn   *string `db:"depends_on"`
	Environment string  `db:"environment"`
	CreatedAt   string  `db:"created_at"`
	UpdatedAt   string  `db:"updated_at"`
}

type deploymentRow struct {
	ID                       string  `db:"id"`
	ServiceID                string  `db:"service_id"`
	WorkspaceID              string  `db:"workspace_id"`
	ProjectID                string  `db:"project_id"`
	ProviderDeploymentID     string  `db:"provider_deployment_id"`
	Status                   string  `db:"status"`
	URL                      string  `db:"url"`
	CommitSHA                string  `db:"commit_sha"`
	Branch                   string  `db:"branch"`
	TriggerType              string  `db:"trigger_type"`
	TriggeredBy              string  `db:"triggered_by"`
	Environment              string  `db:"environment"`
	BuildDurationSeconds     *int    `db:"build_duration_seconds"`
	DeployDurationSeconds    *int    `db:"deploy_duration_seconds"`
	ErrorMessage             string  `db:"error_message"`
	Metadata                 *string `db:"metadata"`
	RollbackFromDeploymentID string  `db:"rollback_from_deployment_id"`
	RollbackToDeploymentID   string  `db:"rollback_to_deployment_id"`
	BulkRunID                string  `db:"bulk_run_id"`
	StartedAt                *string `db:"started_at"`
	CompletedAt              *string `db:"completed_at"`
	CreatedAt                string  `db:"created_at"`
	UpdatedAt                string  `db:"updated_at"`
}

// =============================================================================
// Service Operations
// =============================================================================

func (s *SQLiteStore) CreateService(ctx context.Context, svc *domain.Service) error {
	return createService(ctx, s.db, svc)
}

func (s *SQLiteStore) GetService(ctx context.Context, workspaceID, id string) (*domain.Service, error) {
	return getService(ctx, s.db, workspaceID, id)
}

func (s *SQLiteStore) UpdateService(ctx context.Context, svc *domain.Service) error {
	return updateService(ctx, s.db, svc)
}

func (s *SQLiteStore) ListServices(ctx context.Context, workspaceID, projectID string) ([]domain.Service, error) {
	return listServices(ctx, s.db, workspaceID, projectID)
}

// =============================================================================
// Deployment Operations
// =============================================================================

func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	return createDeployment(ctx, s.db, d)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, workspaceID, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.db, workspaceID, id)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, d *domain.Deployment) error {
	return updateDeployment(ctx, s.db, d)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, workspaceID, serviceID string, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.db, workspaceID, serviceID, opts)
}

func (s *SQLiteStore) LatestSuccessfulDeployment(ctx context.Context, workspaceID, serviceID string) (*domain.Deployment, error) {
	return latestSuccessfulDeployment(ctx, s.db, workspaceID, serviceID)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) ListStaleDeployments(ctx context.Context, cutoff time.Time, limit int) ([]domain.Deployment, error) {
	return listStaleDeployments(ctx, s.db, cutoff, limit)
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateService(ctx context.Context, svc *domain.Service) error {
	return createService(ctx, s.tx, svc)
}

func (s *txSQLiteStore) GetService(ctx context.Context, workspaceID, id string) (*domain.Service, error) {
	return getService(ctx, s.tx, workspaceID, id)
}

func (s *txSQLiteStore) UpdateService(ctx context.Context, svc *domain.Service) error {
	return updateService(ctx, s.tx, svc)
}

func (s *txSQLiteStore) ListServices(ctx context.Context, workspaceID, projectID string) ([]domain.Service, error) {
	return listServices(ctx, s.tx, workspaceID, projectID)
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	return createDeployment(ctx, s.tx, d)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, workspaceID, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.tx, workspaceID, id)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, d *domain.Deployment) error {
	return updateDeployment(ctx, s.tx, d)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, workspaceID, serviceID string, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.tx, workspaceID, serviceID, opts)
}

func (s *txSQLiteStore) LatestSuccessfulDeployment(ctx context.Context, workspaceID, serviceID string) (*domain.Deployment, error) {
	return latestSuccessfulDeployment(ctx, s.tx, workspaceID, serviceID)
}

func (s *txSQLiteStore) ListStaleDeployments(ctx context.Context, cutoff time.Time, limit int) ([]domain.Deployment, error) {
	return listStaleDeployments(ctx, s.tx, cutoff, limit)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just call the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// Transaction stores don't close the underlying connection
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createService(ctx context.Context, exec executor, svc *domain.Service) error {
	dependsOn, err := marshalNullable(svc.DependsOn)
	if err != nil {
		return NewStoreError("CreateService", "service", svc.ID, "failed to serialize depends_on", ErrInvalidData)
	}

	query := `
		INSERT INTO services (
			id, workspace_id, project_id, name, type, status,
			deploy_order, depends_on, environment, created_at, updated_at
		) VALUES (
			:id, :workspace_id, :project_id, :name, :type, :status,
			:deploy_order, :depends_on, :environment, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":           svc.ID,
		"workspace_id": svc.WorkspaceID,
		"project_id":   svc.ProjectID,
		"name":         svc.Name,
		"type":         string(svc.Type),
		"status":       string(svc.Status),
		"deploy_order": svc.DeployOrder,
		"depends_on":   dependsOn,
		"environment":  svc.Environment,
		"created_at":   formatTime(svc.CreatedAt),
		"updated_at":   formatTime(svc.UpdatedAt),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if isUniqueViolation(err) {
			// SQLite reports whichever constraint it checks first, so the
			// id is looked up rather than read from the message.
			if rowExists(ctx, exec, "services", svc.ID) {
				return NewStoreError("CreateService", "service", svc.ID, "service with this ID already exists", ErrDuplicateID)
			}
			return NewStoreError("CreateService", "service", svc.ID, "service name already used in project", ErrDuplicateName)
		}
		return NewStoreError("CreateService", "service", svc.ID, err.Error(), err)
	}

	return nil
}

func getService(ctx context.Context, exec executor, workspaceID, id string) (*domain.Service, error) {
	query := `SELECT * FROM services WHERE id = ? AND workspace_id = ?`

	var row serviceRow
	err := exec.GetContext(ctx, &row, query, id, workspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetService", "service", id, "service not found", ErrNotFound)
		}
		return nil, NewStoreError("GetService", "service", id, err.Error(), err)
	}

	return rowToService(&row)
}

func updateService(ctx context.Context, exec executor, svc *domain.Service) error {
	dependsOn, err := marshalNullable(svc.DependsOn)
	if err != nil {
		return NewStoreError("UpdateService", "service", svc.ID, "failed to serialize depends_on", ErrInvalidData)
	}

	query := `
		UPDATE services SET
			name = ?, type = ?, status = ?, deploy_order = ?,
			depends_on = ?, environment = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ?`

	result, err := exec.ExecContext(ctx, query,
		svc.Name, string(svc.Type), string(svc.Status), svc.DeployOrder,
		dependsOn, svc.Environment, formatTime(svc.UpdatedAt),
		svc.ID, svc.WorkspaceID,
	)
	if err != nil {
		return NewStoreError("UpdateService", "service", svc.ID, err.Error(), err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewStoreError("UpdateService", "service", svc.ID, "service not found", ErrNotFound)
	}

	return nil
}

func listServices(ctx context.Context, exec executor, workspaceID, projectID string) ([]domain.Service, error) {
	query := `
		SELECT * FROM services
		WHERE workspace_id = ? AND project_id = ? AND status != ?
		ORDER BY deploy_order ASC, name ASC, id ASC`

	var rows []serviceRow
	err := exec.SelectContext(ctx, &rows, query, workspaceID, projectID, string(domain.ServiceStatusRemoved))
	if err != nil {
		return nil, NewStoreError("ListServices", "service", "", err.Error(), err)
	}

	services := make([]domain.Service, 0, len(rows))
	for _, row := range rows {
		svc, err := rowToService(&row)
		if err != nil {
			return nil, err
		}
		services = append(services, *svc)
	}

	return services, nil
}

func createDeployment(ctx context.Context, exec executor, d *domain.Deployment) error {
	metadata, err := marshalNullable(d.Metadata)
	if err != nil {
		return NewStoreError("CreateDeployment", "deployment", d.ID, "failed to serialize metadata", ErrInvalidData)
	}

	query := `
		INSERT INTO deployments (
			id, service_id, workspace_id, project_id, provider_deployment_id,
			status, url, commit_sha, branch, trigger_type, triggered_by, environment,
			build_duration_seconds, deploy_duration_seconds, error_message, metadata,
			rollback_from_deployment_id, rollback_to_deployment_id, bulk_run_id,
			started_at, completed_at, created_at, updated_at
		) VALUES (
			:id, :service_id, :workspace_id, :project_id, :provider_deployment_id,
			:status, :url, :commit_sha, :branch, :trigger_type, :triggered_by, :environment,
			:build_duration_seconds, :deploy_duration_seconds, :error_message, :metadata,
			:rollback_from_deployment_id, :rollback_to_deployment_id, :bulk_run_id,
			:started_at, :completed_at, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":                          d.ID,
		"service_id":                  d.ServiceID,
		"workspace_id":                d.WorkspaceID,
		"project_id":                  d.ProjectID,
		"provider_deployment_id":      d.ProviderDeploymentID,
		"status":                      string(d.Status),
		"url":                         d.URL,
		"commit_sha":                  d.CommitSHA,
		"branch":                      d.Branch,
		"trigger_type":                string(d.TriggerType),
		"triggered_by":                d.TriggeredBy,
		"environment":                 d.Environment,
		"build_duration_seconds":      d.BuildDurationSeconds,
		"deploy_duration_seconds":     d.DeployDurationSeconds,
		"error_message":               d.ErrorMessage,
		"metadata":                    metadata,
		"rollback_from_deployment_id": d.RollbackFromDeploymentID,
		"rollback_to_deployment_id":   d.RollbackToDeploymentID,
		"bulk_run_id":                 d.BulkRunID,
		"started_at":                  formatTimePtr(d.StartedAt),
		"completed_at":                formatTimePtr(d.CompletedAt),
		"created_at":                  formatTime(d.CreatedAt),
		"updated_at":                  formatTime(d.UpdatedAt),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if isUniqueViolation(err) {
			return NewStoreError("CreateDeployment", "deployment", d.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		if constraintCode(err) == gosqlite3.ErrConstraintForeignKey {
			return NewStoreError("CreateDeployment", "deployment", d.ID, "service not found", ErrForeignKey)
		}
		return NewStoreError("CreateDeployment", "deployment", d.ID, err.Error(), err)
	}

	return nil
}

func getDeployment(ctx context.Context, exec executor, workspaceID, id string) (*domain.Deployment, error) {
	query := `SELECT * FROM deployments WHERE id = ? AND workspace_id = ?`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, id, workspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", id, err.Error(), err)
	}

	return rowToDeployment(&row)
}

func updateDeployment(ctx context.Context, exec executor, d *domain.Deployment) error {
	metadata, err := marshalNullable(d.Metadata)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", d.ID, "failed to serialize metadata", ErrInvalidData)
	}

	query := `
		UPDATE deployments SET
			provider_deployment_id = ?, status = ?, url = ?, commit_sha = ?, branch = ?,
			build_duration_seconds = ?, deploy_duration_seconds = ?, error_message = ?,
			metadata = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ?`

	result, err := exec.ExecContext(ctx, query,
		d.ProviderDeploymentID, string(d.Status), d.URL, d.CommitSHA, d.Branch,
		d.BuildDurationSeconds, d.DeployDurationSeconds, d.ErrorMessage,
		metadata, formatTimePtr(d.StartedAt), formatTimePtr(d.CompletedAt), formatTime(d.UpdatedAt),
		d.ID, d.WorkspaceID,
	)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", d.ID, err.Error(), err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewStoreError("UpdateDeployment", "deployment", d.ID, "deployment not found", ErrNotFound)
	}

	return nil
}

func listStaleDeployments(ctx context.Context, exec executor, cutoff time.Time, limit int) ([]domain.Deployment, error) {
	limit = ListOptions{Limit: limit}.Normalize().Limit
	query := `
		SELECT * FROM deployments
		WHERE status IN (?, ?, ?) AND updated_at < ?
		ORDER BY updated_at ASC, rowid ASC
		LIMIT ?`

	var rows []deploymentRow
	err := exec.SelectContext(ctx, &rows, query,
		string(domain.StatusQueued), string(domain.StatusBuilding), string(domain.StatusDeploying),
		formatTime(cutoff), limit,
	)
	if err != nil {
		return nil, NewStoreError("ListStaleDeployments", "deployment", "", err.Error(), err)
	}

	deployments := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		d, err := rowToDeployment(&row)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}

	return deployments, nil
}

func listDeployments(ctx context.Context, exec executor, workspaceID, serviceID string, opts ListOptions) ([]domain.Deployment, error) {
	opts = opts.Normalize()
	query := `
		SELECT * FROM deployments
		WHERE workspace_id = ? AND service_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ? OFFSET ?`

	var rows []deploymentRow
	err := exec.SelectContext(ctx, &rows, query, workspaceID, serviceID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	deployments := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		d, err := rowToDeployment(&row)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}

	return deployments, nil
}

func latestSuccessfulDeployment(ctx context.Context, exec executor, workspaceID, serviceID string) (*domain.Deployment, error) {
	query := `
		SELECT * FROM deployments
		WHERE workspace_id = ? AND service_id = ? AND status = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, workspaceID, serviceID, string(domain.StatusSuccess))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("LatestSuccessfulDeployment", "deployment", "", "no successful deployment", ErrNotFound)
		}
		return nil, NewStoreError("LatestSuccessfulDeployment", "deployment", "", err.Error(), err)
	}

	return rowToDeployment(&row)
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

// rowToService converts a database row to a domain.Service.
func rowToService(row *serviceRow) (*domain.Service, error) {
	var dependsOn []string
	if row.DependsOn != nil && *row.DependsOn != "" && *row.DependsOn != "null" {
		if err := json.Unmarshal([]byte(*row.DependsOn), &dependsOn); err != nil {
			return nil, NewStoreError("rowToService", "service", row.ID, "failed to parse depends_on", ErrInvalidData)
		}
	}

	return &domain.Service{
		ID:          row.ID,
		WorkspaceID: row.WorkspaceID,
		ProjectID:   row.ProjectID,
		Name:        row.Name,
		Type:        domain.ServiceType(row.Type),
		Status:      domain.ServiceStatus(row.Status),
		DeployOrder: row.DeployOrder,
		DependsOn:   dependsOn,
		Environment: row.Environment,
		CreatedAt:   parseTime(row.CreatedAt),
		UpdatedAt:   parseTime(row.UpdatedAt),
	}, nil
}

// rowToDeployment converts a database row to a domain.Deployment.
func rowToDeployment(row *deploymentRow) (*domain.Deployment, error) {
	metadata := map[string]string{}
	if row.Metadata != nil && *row.Metadata != "" && *row.Metadata != "null" {
		if err := json.Unmarshal([]byte(*row.Metadata), &metadata); err != nil {
			return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse metadata", ErrInvalidData)
		}
	}

	return &domain.Deployment{
		ID:                       row.ID,
		ServiceID:                row.ServiceID,
		WorkspaceID:              row.WorkspaceID,
		ProjectID:                row.ProjectID,
		ProviderDeploymentID:     row.ProviderDeploymentID,
		Status:                   domain.DeploymentStatus(row.Status),
		URL:                      row.URL,
		CommitSHA:                row.CommitSHA,
		Branch:                   row.Branch,
		TriggerType:              domain.TriggerType(row.TriggerType),
		TriggeredBy:              row.TriggeredBy,
		Environment:              row.Environment,
		BuildDurationSeconds:     row.BuildDurationSeconds,
		DeployDurationSeconds:    row.DeployDurationSeconds,
		ErrorMessage:             row.ErrorMessage,
		Metadata:                 metadata,
		RollbackFromDeploymentID: row.RollbackFromDeploymentID,
		RollbackToDeploymentID:   row.RollbackToDeploymentID,
		BulkRunID:                row.BulkRunID,
		StartedAt:                parseTimePtr(row.StartedAt),
		CompletedAt:              parseTimePtr(row.CompletedAt),
		CreatedAt:                parseTime(row.CreatedAt),
		UpdatedAt:                parseTime(row.UpdatedAt),
	}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func marshalNullable[T any](v T) (*string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	s := string(data)
	return &s, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	return &t
}
