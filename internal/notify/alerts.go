package notify

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// LossLimitHit alerts that a tenant's daily loss limit was reached.
func (n *Notifier) LossLimitHit(ctx context.Context, st domain.DailyStat) error {
	title := fmt.Sprintf("Daily loss limit hit: %s", st.TenantID)
	msg := fmt.Sprintf("Date: %s\nRealized P&L: %.2f\nLoss used: %.2f of %.2f\nTrades: %d",
		st.Date, st.TotalRealizedPnL, st.DailyLossUsed, st.DailyLossLimit, st.NumberOfTrades)
	return n.Notify(ctx, EventLossLimitHit, title, msg)
}

// ReconcileFailed alerts that a reconciliation pass was rolled back.
func (n *Notifier) ReconcileFailed(ctx context.Context, tenantID, kind string, err error) error {
	title := fmt.Sprintf("Reconcile %s failed: %s", kind, tenantID)
	return n.Notify(ctx, EventReconcileFailed, title, err.Error())
}

// ArchiveDone reports a finished trade archive run.
func (n *Notifier) ArchiveDone(ctx context.Context, tenantID string, trades int64, before string) error {
	title := fmt.Sprintf("Trades archived: %s", tenantID)
	msg := fmt.Sprintf("%d trades closed before %s copied to the archive", trades, before)
	return n.Notify(ctx, EventArchiveDone, title, msg)
}
