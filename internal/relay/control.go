package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
	"mt_copier/internal/registry"
)

// FanOutResult - итог рассылки токена ENABLED/DISABLED по ledger файлам.
// Частичная рассылка допустима и исправляется на следующем цикле.
type FanOutResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"` // файл занят EA или ещё не создан
	Disarmed  []string `json:"disarmed,omitempty"`
	Errors    []string `json:"errors,omitempty"`

	Err error `json:"-"`
}

// AllFailed - ни одна запись не прошла
func (r FanOutResult) AllFailed() bool {
	return r.Failed > 0 && r.Succeeded == 0 && r.Skipped == 0
}

// SetGlobalEnabled переключает копир глобально и обновляет токены во всех ledger master и slave
func (s *Service) SetGlobalEnabled(ctx context.Context, enabled bool) (FanOutResult, error) {
	disarmed, err := s.gate.SetGlobalEnabled(enabled)
	if err != nil {
		return FanOutResult{}, err
	}

	res := s.pushMasters(ctx, "global", s.registry.Masters())
	res.Disarmed = disarmed

	return res, nil
}

// SetTenantEnabled переключает копир тенанта
func (s *Service) SetTenantEnabled(ctx context.Context, tenant string, enabled bool) (FanOutResult, error) {
	if err := s.gate.SetTenantEnabled(tenant, enabled); err != nil {
		return FanOutResult{}, err
	}

	var masters []models.Account
	for _, m := range s.registry.Masters() {
		if m.TenantKey == tenant {
			masters = append(masters, m)
		}
	}

	return s.pushMasters(ctx, "tenant", masters), nil
}

// SetMasterEnabled переключает копир для master и синхронно пишет токен
// в ledger master и всех подключенных slave
func (s *Service) SetMasterEnabled(ctx context.Context, tenant, masterID string, enabled bool) (FanOutResult, error) {
	if masterID == "" {
		return FanOutResult{}, models.NewValidationError("masterAccountId", "is required")
	}

	master, err := s.registry.Get(masterID)
	if err != nil {
		return FanOutResult{}, err
	}
	if master.Role != models.RoleMaster {
		return FanOutResult{}, fmt.Errorf("%w: %s is %s", registry.ErrRoleMismatch, masterID, master.Role)
	}
	if master.TenantKey != tenant {
		return FanOutResult{}, fmt.Errorf("%w: %s", registry.ErrTenantMismatch, masterID)
	}

	if err := s.gate.SetMasterEnabled(masterID, enabled); err != nil {
		return FanOutResult{}, err
	}

	return s.pushMasters(ctx, "master", []models.Account{master}), nil
}

// PushAccountConfig переписывает CONFIG строку аккаунта (после смены роли, конфига, подключения).
// Для master также обновляются его slave.
func (s *Service) PushAccountConfig(ctx context.Context, accountID string) (FanOutResult, error) {
	acc, err := s.registry.Get(accountID)
	if err != nil {
		return FanOutResult{}, err
	}

	switch acc.Role {
	case models.RoleMaster:
		return s.pushMasters(ctx, "config", []models.Account{acc}), nil
	case models.RoleSlave:
		res := s.fanOut(ctx, []target{s.slaveTarget(acc)})
		s.observeFanOut("config", res)
		return res, nil
	default:
		return FanOutResult{}, nil
	}
}

type target struct {
	id   string
	line ledger.ConfigLine
}

func (s *Service) pushMasters(ctx context.Context, op string, masters []models.Account) FanOutResult {
	var targets []target
	for _, m := range masters {
		targets = append(targets, s.masterTarget(m))
		for _, slave := range s.registry.SlavesOf(m.ID) {
			targets = append(targets, s.slaveTarget(slave))
		}
	}

	res := s.fanOut(ctx, targets)
	s.observeFanOut(op, res)

	s.logger.Info("Copier tokens pushed",
		slog.String("op", op),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped))

	return res
}

func (s *Service) masterTarget(m models.Account) target {
	return target{
		id: m.ID,
		line: ledger.ConfigLine{
			Role:        models.RoleMaster,
			Enabled:     s.gate.IsEnabled(m.ID, m.TenantKey),
			DisplayName: m.DisplayName,
		},
	}
}

func (s *Service) slaveTarget(slave models.Account) target {
	cfg := slave.SlaveConfig
	line := ledger.ConfigLine{
		Role:          models.RoleSlave,
		Enabled:       cfg.Enabled,
		LotMultiplier: cfg.LotMultiplier,
		ForceLot:      cfg.ForceLot,
		Reverse:       cfg.ReverseTrading,
		MinLot:        cfg.MinLotSize,
		MaxLot:        cfg.MaxLotSize,
	}

	if slave.ConnectedMaster == "" {
		line.Enabled = false
	} else {
		line.MasterID = slave.ConnectedMaster
		line.MasterLedgerPath = s.ledgers.Path(slave.ConnectedMaster)
		if master, err := s.registry.Get(slave.ConnectedMaster); err == nil {
			line.Enabled = cfg.Enabled && s.gate.IsEnabled(master.ID, master.TenantKey)
		} else {
			line.Enabled = false
		}
	}

	return target{id: slave.ID, line: line}
}

// fanOut пишет CONFIG строки параллельно. Каждая запись атомарна сама по себе,
// общей транзакции нет.
func (s *Service) fanOut(ctx context.Context, targets []target) FanOutResult {
	var (
		mu  sync.Mutex
		res FanOutResult
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		g.Go(func() error {
			err := s.ledgers.Mutate(gctx, t.id, ledger.RewriteConfig(t.line))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				res.Succeeded++
			case ledger.IsBusy(err), errors.Is(err, ledger.ErrNotFound):
				res.Skipped++
			default:
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", t.id, err))
				res.Err = multierr.Append(res.Err, err)
			}

			// ошибки не отменяют остальные записи
			return nil
		})
	}
	_ = g.Wait()

	return res
}

func (s *Service) observeFanOut(op string, res FanOutResult) {
	if s.observer != nil {
		s.observer.ObserveFanOut(op, res.Succeeded, res.Failed, res.Skipped)
	}
}
