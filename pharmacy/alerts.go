package pharmacy

import (
	"fmt"
	"time"

	"github.com/warp/dispensing-engine/dispense"
)

// =============================================================================
// STOCK STATUS
// =============================================================================

type Status string

const (
	StockInStock    Status = "In Stock"
	StockLow        Status = "Low Stock"
	StockOutOfStock Status = "Out of Stock"
	StockExpired    Status = "Expired"
)

// DefaultExpiryWarningDays is how far ahead expiring-soon alerts look.
const DefaultExpiryWarningDays = 30

// StockStatus classifies an item. Checks run in order: out of stock, expired
// (expiry date before today), low stock (Quantity <= MinLevel), in stock.
func StockStatus(item InventoryItem, now time.Time) Status {
	switch {
	case item.Quantity == 0:
		return StockOutOfStock
	case !item.ExpiryDate.IsZero() && dispense.Date(item.ExpiryDate).Before(dispense.Date(now)):
		return StockExpired
	case item.Quantity <= item.MinLevel:
		return StockLow
	default:
		return StockInStock
	}
}

// =============================================================================
// ALERTS
// =============================================================================

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Alert is a notification about one item. IDs are stable ("low-<item>",
// "exp-<item>", "soon-<item>") so clients can dismiss them.
type Alert struct {
	ID        string
	ItemID    string
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
}

const day = 24 * time.Hour

// GenerateAlerts raises, per item and in item order:
//   - a critical "Critical Stock Level" alert when Quantity <= MinLevel
//   - a critical "Item Expired" alert when the expiry date is before today
//   - otherwise a warning "Expiring Soon" alert when expiry is within warnDays
//
// Alerts whose ID is in dismissed are dropped.
func GenerateAlerts(items []InventoryItem, now time.Time, warnDays int, dismissed map[string]bool) []Alert {
	today := dispense.Date(now)
	horizon := today.AddDate(0, 0, warnDays)

	alerts := []Alert{}
	add := func(a Alert) {
		if dismissed[a.ID] {
			return
		}
		a.Timestamp = now
		alerts = append(alerts, a)
	}

	for _, item := range items {
		if item.Quantity <= item.MinLevel {
			add(Alert{
				ID:       "low-" + item.ID,
				ItemID:   item.ID,
				Title:    "Critical Stock Level",
				Message:  fmt.Sprintf("%s is below minimum threshold (%d / %d %s)", item.Name, item.Quantity, item.MinLevel, item.Unit),
				Severity: SeverityCritical,
			})
		}

		if item.ExpiryDate.IsZero() {
			continue
		}
		expiry := dispense.Date(item.ExpiryDate)
		switch {
		case expiry.Before(today):
			add(Alert{
				ID:       "exp-" + item.ID,
				ItemID:   item.ID,
				Title:    "Item Expired",
				Message:  fmt.Sprintf("%s expired on %s", item.Name, expiry.Format(time.DateOnly)),
				Severity: SeverityCritical,
			})
		case !expiry.After(horizon):
			add(Alert{
				ID:       "soon-" + item.ID,
				ItemID:   item.ID,
				Title:    "Expiring Soon",
				Message:  fmt.Sprintf("%s expires in %d days", item.Name, daysBetween(today, expiry)),
				Severity: SeverityWarning,
			})
		}
	}
	return alerts
}

// daysBetween counts whole calendar days from a to b, both UTC dates.
func daysBetween(a, b time.Time) int {
	d := b.Sub(a)
	days := int(d / day)
	if d%day != 0 {
		days++
	}
	return days
}
