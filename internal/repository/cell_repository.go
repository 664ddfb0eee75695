package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jengzang/hexmap-backend-go/internal/database"
	"github.com/jengzang/hexmap-backend-go/internal/models"
)

// ErrNoImport is returned when a layer has never been imported.
var ErrNoImport = errors.New("layer has no imported rows")

// CellRepository stores raw input rows per layer
type CellRepository struct {
	db *sql.DB
}

// NewCellRepository creates a new cell repository
func NewCellRepository(db *sql.DB) *CellRepository {
	return &CellRepository{db: db}
}

// ReplaceLayer swaps all stored rows of layer for records in one transaction
func (r *CellRepository) ReplaceLayer(layer string, records []models.RawRecord, updatedAt string, skipped int) error {
	return database.WithTx(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM cell_records WHERE layer = ?", layer); err != nil {
			return fmt.Errorf("failed to clear layer %s: %w", layer, err)
		}

		stmt, err := tx.Prepare("INSERT INTO cell_records (layer, h3, value, ts, year) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			if _, err := stmt.Exec(layer, rec.CellID, rec.Value, rec.Time, rec.Year); err != nil {
				return fmt.Errorf("failed to insert cell %s: %w", rec.CellID, err)
			}
		}

		_, err = tx.Exec(`INSERT INTO layer_imports (layer, updated_at, row_count, skipped, imported_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(layer) DO UPDATE SET
				updated_at = excluded.updated_at,
				row_count = excluded.row_count,
				skipped = excluded.skipped,
				imported_at = excluded.imported_at`,
			layer, updatedAt, len(records), skipped)
		if err != nil {
			return fmt.Errorf("failed to record import of %s: %w", layer, err)
		}
		return nil
	})
}

// GetLayerRecords returns every stored row of layer in insertion order
func (r *CellRepository) GetLayerRecords(layer string) ([]models.RawRecord, error) {
	rows, err := r.db.Query("SELECT h3, value, ts, year FROM cell_records WHERE layer = ? ORDER BY id", layer)
	if err != nil {
		return nil, fmt.Errorf("failed to query cell records: %w", err)
	}
	defer rows.Close()

	var records []models.RawRecord
	for rows.Next() {
		var rec models.RawRecord
		if err := rows.Scan(&rec.CellID, &rec.Value, &rec.Time, &rec.Year); err != nil {
			return nil, fmt.Errorf("failed to scan cell record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetImport returns the import summary of layer
func (r *CellRepository) GetImport(layer string) (*models.LayerImport, error) {
	var imp models.LayerImport
	err := r.db.QueryRow(
		"SELECT layer, updated_at, row_count, skipped, imported_at FROM layer_imports WHERE layer = ?", layer,
	).Scan(&imp.Layer, &imp.UpdatedAt, &imp.RowCount, &imp.Skipped, &imp.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoImport
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import of %s: %w", layer, err)
	}
	return &imp, nil
}

// CountByYear returns stored row counts per year for layer
func (r *CellRepository) CountByYear(layer string) (map[int]int, error) {
	rows, err := r.db.Query("SELECT year, COUNT(*) FROM cell_records WHERE layer = ? GROUP BY year ORDER BY year", layer)
	if err != nil {
		return nil, fmt.Errorf("failed to count cell records: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var year, n int
		if err := rows.Scan(&year, &n); err != nil {
			return nil, fmt.Errorf("failed to scan year count: %w", err)
		}
		counts[year] = n
	}
	return counts, rows.Err()
}
