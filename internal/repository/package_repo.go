package repository

import (
	"context"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

const packageColumns = `id, client_id, trainer_id, total_sessions, used_sessions, created_at, updated_at`

type CreatePackageInput struct {
	ClientID      int64
	TrainerID     int64
	TotalSessions int
}

type PackageRepository struct {
	db DBTX
}

func NewPackageRepository(db DBTX) *PackageRepository {
	return &PackageRepository{db: db}
}

func scanPackage(row pgx.Row) (*models.Package, error) {
	var pkg models.Package
	err := row.Scan(
		&pkg.ID,
		&pkg.ClientID,
		&pkg.TrainerID,
		&pkg.TotalSessions,
		&pkg.UsedSessions,
		&pkg.CreatedAt,
		&pkg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *PackageRepository) Create(
	ctx context.Context,
	input CreatePackageInput,
) (*models.Package, error) {
	query := `
		INSERT INTO packages (client_id, trainer_id, total_sessions, used_sessions)
		VALUES ($1, $2, $3, 0)
		RETURNING ` + packageColumns
	return scanPackage(r.db.QueryRow(ctx, query, input.ClientID, input.TrainerID, input.TotalSessions))
}

func (r *PackageRepository) GetByID(ctx context.Context, packageID int64) (*models.Package, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM packages
		WHERE id = $1
	`
	return scanPackage(r.db.QueryRow(ctx, query, packageID))
}

// ConsumeCredit deducts one session from the package quota. The guard in
// the WHERE clause makes the deduction conditional on remaining quota;
// an exhausted package surfaces as pgx.ErrNoRows.
func (r *PackageRepository) ConsumeCredit(ctx context.Context, packageID int64) (*models.Package, error) {
	query := `
		UPDATE packages
		SET used_sessions = used_sessions + 1, updated_at = NOW()
		WHERE id = $1 AND used_sessions < total_sessions
		RETURNING ` + packageColumns
	return scanPackage(r.db.QueryRow(ctx, query, packageID))
}

// RestoreCredit gives back one consumed session, never going below zero.
func (r *PackageRepository) RestoreCredit(ctx context.Context, packageID int64) (*models.Package, error) {
	query := `
		UPDATE packages
		SET used_sessions = used_sessions - 1, updated_at = NOW()
		WHERE id = $1 AND used_sessions > 0
		RETURNING ` + packageColumns
	return scanPackage(r.db.QueryRow(ctx, query, packageID))
}
