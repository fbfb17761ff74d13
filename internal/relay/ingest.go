package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mt_copier/internal/events"
	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
	"mt_copier/internal/registry"
)

// IngestLedger принимает ledger, присланный EA по HTTP, и пишет его через очередь аккаунта.
// STATUS строка ставится сервером (ONLINE, текущее время), CONFIG строка остаётся серверной,
// TYPE строка сохраняется, если EA её не прислал.
// Занятый файл возвращает ledger.ErrBusy: EA пришлёт снимок ещё раз.
func (s *Service) IngestLedger(ctx context.Context, tenant, accountID, text string) (models.Account, error) {
	if err := ledger.ValidateID(accountID); err != nil {
		return models.Account{}, models.NewValidationError("account", "%v", err)
	}

	doc, issues := ledger.Parse(text)
	for _, issue := range issues {
		s.logger.Warn("Skipping malformed ledger line",
			slog.String("account", accountID),
			slog.Int("line", issue.Line),
			slog.String("reason", issue.Reason))
	}

	if doc.Type != nil && doc.Type.AccountID != "" && doc.Type.AccountID != accountID {
		return models.Account{}, models.NewValidationError("account", "TYPE line declares %s", doc.Type.AccountID)
	}

	if acc, err := s.registry.Get(accountID); err == nil && acc.TenantKey != "" && acc.TenantKey != tenant {
		return models.Account{}, fmt.Errorf("%w: %s", registry.ErrTenantMismatch, accountID)
	}

	now := s.now().UTC().Truncate(time.Second)
	stamped := ledger.StampActivity(doc, now)

	err := s.ledgers.Mutate(ctx, accountID, func(cur ledger.Current) ([]byte, error) {
		next := stamped
		if cur.Exists {
			prev, _ := ledger.Parse(string(cur.Data))
			if prev.Config != nil {
				next.Config = prev.Config
			}
			if next.Type == nil {
				next.Type = prev.Type
			}
		}
		return []byte(next.Format()), nil
	})
	if err != nil {
		return models.Account{}, err
	}

	acc, created := s.registry.Discover(accountID, stamped)
	s.registry.SetActivity(accountID, now)

	if created && s.publisher != nil {
		s.publisher.Publish(events.Event{
			Type:      events.TypeAccountDiscovered,
			AccountID: accountID,
			Payload:   events.Discovered{Role: string(acc.Role), Platform: string(acc.Platform)},
		})
	}

	return acc, nil
}
