package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/petervdpas/dialdesk/internal/call"
	"github.com/petervdpas/dialdesk/internal/util"
)

// ErrInvalidLead marks a lead with a malformed number or no lead_id.
var ErrInvalidLead = errors.New("invalid lead")

// Lead is one directory entry. PhoneNumber is stored normalized.
type Lead struct {
	LeadID      string `json:"lead_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

// Meta converts the lead to the display metadata carried by a session.
func (l Lead) Meta() call.Meta {
	return call.Meta{
		LeadID:      l.LeadID,
		FirstName:   l.FirstName,
		LastName:    l.LastName,
		PhoneNumber: l.PhoneNumber,
	}
}

func (l Lead) normalized() (Lead, error) {
	n, err := util.NormalizeNumber(l.PhoneNumber)
	if err != nil {
		return l, fmt.Errorf("%w: %v", ErrInvalidLead, err)
	}
	if l.LeadID == "" {
		return l, fmt.Errorf("%w: %s has no lead_id", ErrInvalidLead, n)
	}
	l.PhoneNumber = n
	return l, nil
}

// Lookup returns the display metadata for number. The bool is false when the
// number is unknown or malformed.
func (d *DB) Lookup(ctx context.Context, number string) (call.Meta, bool, error) {
	n, err := util.NormalizeNumber(number)
	if err != nil {
		return call.Meta{}, false, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var l Lead
	err = d.db.QueryRowContext(ctx, `
		SELECT lead_id, first_name, last_name, phone_number FROM leads WHERE phone_number = ?
	`, n).Scan(&l.LeadID, &l.FirstName, &l.LastName, &l.PhoneNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return call.Meta{}, false, nil
	}
	if err != nil {
		return call.Meta{}, false, fmt.Errorf("lookup %s: %w", n, err)
	}
	return l.Meta(), true, nil
}

// Upsert inserts or replaces a single lead.
func (d *DB) Upsert(ctx context.Context, l Lead) error {
	l, err := l.normalized()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO leads (phone_number, lead_id, first_name, last_name) VALUES (?, ?, ?, ?)
		ON CONFLICT(phone_number) DO UPDATE SET
			lead_id = excluded.lead_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = CURRENT_TIMESTAMP
	`, l.PhoneNumber, l.LeadID, l.FirstName, l.LastName)
	return err
}

// ReplaceAll swaps the directory contents for leads in one transaction.
// Entries with a malformed number are skipped and counted.
func (d *DB) ReplaceAll(ctx context.Context, leads []Lead) (loaded, skipped int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM leads`); err != nil {
		return 0, 0, fmt.Errorf("clear leads: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO leads (phone_number, lead_id, first_name, last_name) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, 0, err
	}
	defer stmt.Close()

	for _, l := range leads {
		l, err := l.normalized()
		if err != nil {
			skipped++
			continue
		}
		if _, err := stmt.ExecContext(ctx, l.PhoneNumber, l.LeadID, l.FirstName, l.LastName); err != nil {
			return 0, 0, fmt.Errorf("insert lead %s: %w", l.LeadID, err)
		}
		loaded++
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return loaded, skipped, nil
}

// List returns every lead ordered by last name.
func (d *DB) List(ctx context.Context) ([]Lead, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		SELECT lead_id, first_name, last_name, phone_number FROM leads ORDER BY last_name, first_name, phone_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(&l.LeadID, &l.FirstName, &l.LastName, &l.PhoneNumber); err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}
