package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/user/papertrade/backend/internal/models"
)

const positionColumns = `user_id, symbol, quantity::text, avg_cost::text, total_cost::text, created_at, updated_at`

func scanPosition(row pgx.Row) (*models.Position, error) {
	var (
		pos                  models.Position
		qty, avg, totalCost string
	)
	if err := row.Scan(&pos.UserID, &pos.Symbol, &qty, &avg, &totalCost, &pos.CreatedAt, &pos.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if pos.Quantity, err = parseDecimal(qty); err != nil {
		return nil, err
	}
	if pos.AvgCost, err = parseDecimal(avg); err != nil {
		return nil, err
	}
	if pos.TotalCost, err = parseDecimal(totalCost); err != nil {
		return nil, err
	}
	return &pos, nil
}

// ListPositions returns the user's holdings ordered by symbol.
func (s *Store) ListPositions(ctx context.Context, userID uuid.UUID) ([]models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = $1 ORDER BY symbol`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying positions for user %s: %w", userID, err)
	}
	defer rows.Close()

	positions := make([]models.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning position row for user %s: %w", userID, err)
		}
		positions = append(positions, *pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows for user %s: %w", userID, err)
	}
	return positions, nil
}
