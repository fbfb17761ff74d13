package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
	"mt_copier/internal/registry"
)

// Accounts возвращает аккаунты тенанта и ещё не назначенные pending аккаунты
func (s *Service) Accounts(tenant string) []models.Account {
	var out []models.Account
	for _, acc := range s.registry.List() {
		if acc.TenantKey == tenant || (acc.Role == models.RolePending && acc.TenantKey == "") {
			out = append(out, acc)
		}
	}
	return out
}

// ConvertToMaster назначает аккаунту роль master и пишет CONFIG строку
func (s *Service) ConvertToMaster(ctx context.Context, tenant, id, displayName string) (models.Account, FanOutResult, error) {
	acc, err := s.registry.ConvertToMaster(id, tenant, displayName)
	if err != nil {
		return models.Account{}, FanOutResult{}, err
	}

	res, err := s.PushAccountConfig(ctx, id)
	return acc, res, err
}

// ConvertToSlave назначает аккаунту роль slave
func (s *Service) ConvertToSlave(ctx context.Context, tenant, id string) (models.Account, FanOutResult, error) {
	acc, err := s.registry.ConvertToSlave(id, tenant)
	if err != nil {
		return models.Account{}, FanOutResult{}, err
	}

	res, err := s.PushAccountConfig(ctx, id)
	return acc, res, err
}

// Connect подключает slave к master. Следующий запрос slave получит полный снимок.
func (s *Service) Connect(ctx context.Context, tenant, slaveID, masterID string) (models.Account, FanOutResult, error) {
	if masterID == "" {
		return models.Account{}, FanOutResult{}, models.NewValidationError("masterAccountId", "is required")
	}
	if _, err := s.owned(tenant, slaveID); err != nil {
		return models.Account{}, FanOutResult{}, err
	}

	acc, err := s.registry.Connect(slaveID, masterID)
	if err != nil {
		return models.Account{}, FanOutResult{}, err
	}
	s.Invalidate(slaveID)

	res, err := s.PushAccountConfig(ctx, slaveID)
	return acc, res, err
}

// Disconnect отключает slave от master
func (s *Service) Disconnect(ctx context.Context, tenant, slaveID string) (models.Account, FanOutResult, error) {
	if _, err := s.owned(tenant, slaveID); err != nil {
		return models.Account{}, FanOutResult{}, err
	}

	acc, err := s.registry.Disconnect(slaveID)
	if err != nil {
		return models.Account{}, FanOutResult{}, err
	}
	s.Invalidate(slaveID)

	res, err := s.PushAccountConfig(ctx, slaveID)
	return acc, res, err
}

// SetMasterConfig обновляет правила master. Все его slave получают полный снимок.
func (s *Service) SetMasterConfig(ctx context.Context, tenant, id string, cfg models.MasterConfig) (models.Account, FanOutResult, error) {
	if err := cfg.Validate(); err != nil {
		return models.Account{}, FanOutResult{}, err
	}
	if _, err := s.owned(tenant, id); err != nil {
		return models.Account{}, FanOutResult{}, err
	}

	acc, err := s.registry.SetMasterConfig(id, cfg)
	if err != nil {
		return models.Account{}, FanOutResult{}, err
	}
	for _, slave := range s.registry.SlavesOf(id) {
		s.Invalidate(slave.ID)
	}

	res, err := s.PushAccountConfig(ctx, id)
	return acc, res, err
}

// SetSlaveConfig обновляет правила slave
func (s *Service) SetSlaveConfig(ctx context.Context, tenant, id string, cfg models.SlaveConfig) (models.Account, FanOutResult, error) {
	if err := cfg.Validate(); err != nil {
		return models.Account{}, FanOutResult{}, err
	}
	if _, err := s.owned(tenant, id); err != nil {
		return models.Account{}, FanOutResult{}, err
	}

	acc, err := s.registry.SetSlaveConfig(id, cfg)
	if err != nil {
		return models.Account{}, FanOutResult{}, err
	}
	s.Invalidate(id)

	res, err := s.PushAccountConfig(ctx, id)
	return acc, res, err
}

// DeleteAccount удаляет аккаунт, его ledger и relay файлы.
// Slave удалённого master отключаются и получают DISABLED.
func (s *Service) DeleteAccount(ctx context.Context, tenant, id string) error {
	acc, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if acc.TenantKey != "" && acc.TenantKey != tenant {
		return fmt.Errorf("%w: %s", registry.ErrTenantMismatch, id)
	}

	slaves := s.registry.SlavesOf(id)

	if err := s.registry.Delete(id); err != nil {
		return err
	}
	s.gate.Forget(id)
	s.detector.Reset(id)

	var errs []error
	if err := s.ledgers.Delete(ctx, id); err != nil && !ledger.IsBusy(err) {
		errs = append(errs, err)
	}
	if err := s.relays.Delete(ctx, id); err != nil && !ledger.IsBusy(err) {
		errs = append(errs, err)
	}

	for _, slave := range slaves {
		if _, err := s.PushAccountConfig(ctx, slave.ID); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("Account deleted",
		slog.String("account", id),
		slog.String("role", string(acc.Role)),
		slog.Int("slaves_disconnected", len(slaves)))

	return errors.Join(errs...)
}

func (s *Service) owned(tenant, id string) (models.Account, error) {
	acc, err := s.registry.Get(id)
	if err != nil {
		return models.Account{}, err
	}
	if acc.TenantKey != tenant {
		return models.Account{}, fmt.Errorf("%w: %s", registry.ErrTenantMismatch, id)
	}
	return acc, nil
}

// Account возвращает аккаунт тенанта
func (s *Service) Account(tenant, id string) (models.Account, error) {
	return s.owned(tenant, id)
}
