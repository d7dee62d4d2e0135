package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Operation outcomes as stored in the log.
const (
	OutcomeStarted           = "started"
	OutcomeFinalized         = "finalized"
	OutcomeToleranceExceeded = "tolerance_exceeded"
	OutcomeForcedNormal      = "forced_normal"
)

// OperationLogEntry is one row of the operation audit trail.
type OperationLogEntry struct {
	LogID          int64       `json:"log_id"`
	OperationID    string      `json:"operation_id"`
	VaultID        string      `json:"vault_id"`
	BorrowedAssets []string    `json:"borrowed_assets"`
	ValueBefore    sdkmath.Int `json:"value_before"`
	ValueAfter     sdkmath.Int `json:"value_after"`
	Loss           sdkmath.Int `json:"loss"`
	Outcome        string      `json:"outcome"`
	Detail         string      `json:"detail,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	FinalizedAt    *time.Time  `json:"finalized_at,omitempty"`
}

// SaveOperationRecord upserts one operation into the audit log. A row is
// first written when the operation starts and overwritten with the outcome
// when it ends, keyed by the operation id.
func SaveOperationRecord(entry OperationLogEntry) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO operation_log (
			operation_id, vault_id, borrowed_assets,
			value_before, value_after, loss,
			outcome, detail, started_at, finalized_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (operation_id) DO UPDATE SET
			value_after = EXCLUDED.value_after,
			loss = EXCLUDED.loss,
			outcome = EXCLUDED.outcome,
			detail = EXCLUDED.detail,
			finalized_at = EXCLUDED.finalized_at;
	`

	var finalizedAt interface{}
	if entry.FinalizedAt != nil {
		finalizedAt = *entry.FinalizedAt
	}

	_, err := DB.Exec(
		query,
		entry.OperationID, entry.VaultID, pq.Array(entry.BorrowedAssets),
		entry.ValueBefore.String(), entry.ValueAfter.String(), entry.Loss.String(),
		entry.Outcome, entry.Detail, entry.StartedAt, finalizedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save operation record: %w", err)
	}

	log.Debug().
		Str("operation_id", entry.OperationID).
		Str("outcome", entry.Outcome).
		Msg("Operation record saved to database")

	return nil
}

// GetRecentOperations returns the newest operations for a vault, newest
// first.
func GetRecentOperations(vaultID string, limit int) ([]OperationLogEntry, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT log_id, operation_id, borrowed_assets,
			value_before, value_after, loss,
			outcome, detail, started_at, finalized_at
		FROM operation_log
		WHERE vault_id = $1
		ORDER BY started_at DESC
		LIMIT $2;
	`

	rows, err := DB.Query(query, vaultID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation log: %w", err)
	}
	defer rows.Close()

	var entries []OperationLogEntry
	for rows.Next() {
		var (
			entry       OperationLogEntry
			valueBefore string
			valueAfter  sql.NullString
			loss        sql.NullString
			detail      sql.NullString
			finalizedAt sql.NullTime
		)
		entry.VaultID = vaultID
		err = rows.Scan(
			&entry.LogID, &entry.OperationID, pq.Array(&entry.BorrowedAssets),
			&valueBefore, &valueAfter, &loss,
			&entry.Outcome, &detail, &entry.StartedAt, &finalizedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation log row: %w", err)
		}

		entry.ValueBefore, err = parseStoredInt(valueBefore)
		if err != nil {
			return nil, fmt.Errorf("failed to decode operation %s: %w", entry.OperationID, err)
		}
		entry.ValueAfter = sdkmath.ZeroInt()
		if valueAfter.Valid {
			entry.ValueAfter, err = parseStoredInt(valueAfter.String)
			if err != nil {
				return nil, fmt.Errorf("failed to decode operation %s: %w", entry.OperationID, err)
			}
		}
		entry.Loss = sdkmath.ZeroInt()
		if loss.Valid {
			entry.Loss, err = parseStoredInt(loss.String)
			if err != nil {
				return nil, fmt.Errorf("failed to decode operation %s: %w", entry.OperationID, err)
			}
		}
		if detail.Valid {
			entry.Detail = detail.String
		}
		if finalizedAt.Valid {
			t := finalizedAt.Time
			entry.FinalizedAt = &t
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation log rows: %w", err)
	}

	return entries, nil
}
