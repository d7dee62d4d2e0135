package state

import (
	"encoding/json"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/openyield/vault/internal/ledger"
	"github.com/openyield/vault/internal/vault"
)

// SnapshotRecord is a stored vault summary with its row identity.
type SnapshotRecord struct {
	ID        int64         `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Summary   vault.Summary `json:"summary"`
}

// SaveVaultSnapshot persists a summary row and returns its id.
func SaveVaultSnapshot(summary vault.Summary, at time.Time) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	assetValuesJSON, err := json.Marshal(summary.AssetValues)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal asset_values: %w", err)
	}

	query := `
		INSERT INTO vault_snapshots (
			vault_id, snapshot_timestamp, status,
			total_shares, total_value, valuation_fresh,
			free_principal, escrowed_principal,
			epoch_loss, epoch_loss_base, tolerance_bps,
			pending_deposits, pending_withdrawals, receipts,
			asset_values
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		summary.VaultID, at, summary.Status,
		summary.TotalShares.String(), summary.TotalValue.String(), summary.ValuationFresh,
		summary.FreePrincipal.String(), summary.EscrowedPrincipal.String(),
		summary.EpochLoss.String(), summary.EpochLossBase.String(), summary.ToleranceBps,
		summary.PendingDeposits, summary.PendingWithdrawals, summary.Receipts,
		assetValuesJSON,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save vault snapshot: %w", err)
	}

	log.Debug().
		Int64("snapshot_id", snapshotID).
		Str("vault_id", summary.VaultID).
		Str("total_value", summary.TotalValue.String()).
		Msg("Vault snapshot saved to database")

	return snapshotID, nil
}

// GetRecentSnapshots returns the newest snapshot rows for a vault, newest
// first.
func GetRecentSnapshots(vaultID string, limit int) ([]SnapshotRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT snapshot_id, snapshot_timestamp, status,
			total_shares, total_value, valuation_fresh,
			free_principal, escrowed_principal,
			epoch_loss, epoch_loss_base, tolerance_bps,
			pending_deposits, pending_withdrawals, receipts,
			asset_values
		FROM vault_snapshots
		WHERE vault_id = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT $2;
	`

	rows, err := DB.Query(query, vaultID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault snapshots: %w", err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		var (
			rec             SnapshotRecord
			totalShares     string
			totalValue      string
			freePrincipal   string
			escrowed        string
			epochLoss       string
			epochLossBase   string
			assetValuesJSON []byte
		)
		rec.Summary.VaultID = vaultID
		err = rows.Scan(
			&rec.ID, &rec.Timestamp, &rec.Summary.Status,
			&totalShares, &totalValue, &rec.Summary.ValuationFresh,
			&freePrincipal, &escrowed,
			&epochLoss, &epochLossBase, &rec.Summary.ToleranceBps,
			&rec.Summary.PendingDeposits, &rec.Summary.PendingWithdrawals, &rec.Summary.Receipts,
			&assetValuesJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vault snapshot row: %w", err)
		}

		rec.Summary.TotalShares, err = parseStoredInt(totalShares)
		if err == nil {
			rec.Summary.TotalValue, err = parseStoredInt(totalValue)
		}
		if err == nil {
			rec.Summary.FreePrincipal, err = parseStoredInt(freePrincipal)
		}
		if err == nil {
			rec.Summary.EscrowedPrincipal, err = parseStoredInt(escrowed)
		}
		if err == nil {
			rec.Summary.EpochLoss, err = parseStoredInt(epochLoss)
		}
		if err == nil {
			rec.Summary.EpochLossBase, err = parseStoredInt(epochLossBase)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %d: %w", rec.ID, err)
		}

		if len(assetValuesJSON) > 0 {
			var entries []ledger.Entry
			if err := json.Unmarshal(assetValuesJSON, &entries); err != nil {
				return nil, fmt.Errorf("failed to unmarshal asset_values for snapshot %d: %w", rec.ID, err)
			}
			rec.Summary.AssetValues = entries
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vault snapshot rows: %w", err)
	}

	return records, nil
}

// parseStoredInt converts a NUMERIC column value back into an Int.
func parseStoredInt(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}
