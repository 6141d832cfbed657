package subscription

import (
	"context"
	"fmt"
)

// RepairHistory realigns the traffic-history email set with the current
// panel client set. A crash between the engine-side rename and the
// panel commit leaves history rows under an email no client carries;
// when exactly one orphaned history email pairs with exactly one
// history-less client, the rename is reverted. Anything more ambiguous
// is only logged.
func (m *Manager) RepairHistory(ctx context.Context) error {
	clientEmails, err := m.panel.ClientEmails(ctx)
	if err != nil {
		return err
	}
	historyEmails, err := m.state.HistoryEmails(ctx)
	if err != nil {
		return err
	}

	historySet := make(map[string]struct{}, len(historyEmails))
	var orphans []string
	for _, email := range historyEmails {
		historySet[email] = struct{}{}
		if _, ok := clientEmails[email]; !ok {
			orphans = append(orphans, email)
		}
	}
	if len(orphans) == 0 {
		return nil
	}

	var uncovered []string
	for email := range clientEmails {
		if _, ok := historySet[email]; !ok {
			uncovered = append(uncovered, email)
		}
	}

	if len(orphans) == 1 && len(uncovered) == 1 {
		m.logger.Warn("repairing interrupted history rename",
			"from", orphans[0], "to", uncovered[0])
		if err := m.state.RenameHistory(ctx, orphans[0], uncovered[0]); err != nil {
			return fmt.Errorf("subscription: repairing history: %w", err)
		}
		return nil
	}

	m.logger.Warn("traffic history has orphaned emails", "orphans", orphans)
	return nil
}

// SyncRealityFromInbound lets the live inbound row override the
// configured Reality defaults at startup.
func (m *Manager) SyncRealityFromInbound(ctx context.Context) {
	inb, err := m.panel.ReadInbound(ctx)
	if err != nil {
		m.logger.Warn("cannot read inbound for reality sync", "err", err)
		return
	}
	r := inb.Stream.Reality
	if r == nil {
		return
	}
	if r.Settings.PublicKey != "" {
		m.endpoint.PublicKey = r.Settings.PublicKey
	}
	if len(r.ServerNames) > 0 && r.ServerNames[0] != "" {
		m.endpoint.SNI = r.ServerNames[0]
	}
	if len(r.ShortIDs) > 0 && r.ShortIDs[0] != "" {
		m.endpoint.ShortID = r.ShortIDs[0]
	}
}
