package job

import (
	"context"
	"time"

	"github.com/autome/transcriber/internal/model"
	"github.com/autome/transcriber/internal/repository/common"
	"github.com/google/uuid"
)

// assetRepository implements AssetRepository using PostgreSQL
type assetRepository struct {
	pool Pool
}

// NewAssetRepository creates a new instance of AssetRepository
func NewAssetRepository(pool Pool) AssetRepository {
	return &assetRepository{
		pool: pool,
	}
}

// Create inserts a new asset record
func (r *assetRepository) Create(ctx context.Context, asset *model.TranscriptionAsset) error {
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	asset.CreatedAt = time.Now().UTC()

	sql := `INSERT INTO transcription_assets (id, job_id, format, storage_key, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, sql,
		asset.ID,
		asset.JobID,
		asset.Format,
		asset.StorageKey,
		asset.SizeBytes,
		asset.CreatedAt,
	)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to create transcription asset")
	}
	return nil
}

// ListByJobID retrieves all assets for a job, ordered by format
func (r *assetRepository) ListByJobID(ctx context.Context, jobID string) ([]*model.TranscriptionAsset, error) {
	sql := `SELECT id, job_id, format, storage_key, size_bytes, created_at
		FROM transcription_assets WHERE job_id = $1 ORDER BY format`

	rows, err := r.pool.Query(ctx, sql, jobID)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to list transcription assets")
	}
	defer rows.Close()

	var assets []*model.TranscriptionAsset
	for rows.Next() {
		var asset model.TranscriptionAsset
		err := rows.Scan(
			&asset.ID,
			&asset.JobID,
			&asset.Format,
			&asset.StorageKey,
			&asset.SizeBytes,
			&asset.CreatedAt,
		)
		if err != nil {
			return nil, common.HandlePostgreSQLError(err, "failed to scan transcription asset")
		}
		assets = append(assets, &asset)
	}

	return assets, nil
}

// DeleteByJobID deletes all assets for a job (only path that removes assets)
func (r *assetRepository) DeleteByJobID(ctx context.Context, jobID string) error {
	sql := "DELETE FROM transcription_assets WHERE job_id = $1"
	_, err := r.pool.Exec(ctx, sql, jobID)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to delete transcription assets")
	}
	return nil
}
