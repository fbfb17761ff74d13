package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"mt_copier/internal/gate"
	"mt_copier/internal/models"
)

// Storage - sqlite база сервера: флаги копира, проекция аккаунтов, лог активности.
// Ledger файлы остаются источником истины для ордеров и активности.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New открывает базу и создаёт таблицы
func New(dbPath string, logger *slog.Logger) (*Storage, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// sqlite не любит конкурентных писателей
	db.SetMaxOpenConns(1)

	storage := &Storage{
		db:     db,
		logger: logger,
	}

	if err := storage.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return storage, nil
}

// init инициализирует таблицы БД
func (s *Storage) init() error {
	migrationSQL := `
-- Флаги копира: global / tenant / master
CREATE TABLE IF NOT EXISTS copier_flags (
    scope TEXT NOT NULL,
    flag_key TEXT NOT NULL DEFAULT '',
    enabled INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (scope, flag_key)
);

-- Проекция аккаунтов: роль, тенант, конфиги трансформации
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    role TEXT NOT NULL,
    platform TEXT NOT NULL DEFAULT '',
    tenant_key TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    connected_master TEXT NOT NULL DEFAULT '',
    master_config TEXT NOT NULL DEFAULT '{}',
    slave_config TEXT NOT NULL DEFAULT '{}',
    last_activity INTEGER NOT NULL DEFAULT 0,
    discovered_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_accounts_tenant ON accounts(tenant_key);

-- Лог активности
CREATE TABLE IF NOT EXISTS activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL DEFAULT '',
    tenant_key TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL DEFAULT '',
    level TEXT NOT NULL,
    action TEXT NOT NULL,
    message TEXT NOT NULL,
    details TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_activity_log_tenant ON activity_log(tenant_key);
CREATE INDEX IF NOT EXISTS idx_activity_log_created ON activity_log(created_at DESC);
`

	if _, err := s.db.Exec(migrationSQL); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	s.logger.Info("✅ Database initialized")

	return nil
}

// === Copier Flags ===

type flagRow struct {
	Scope     string `db:"scope"`
	Key       string `db:"flag_key"`
	Enabled   bool   `db:"enabled"`
	UpdatedAt int64  `db:"updated_at"`
}

// SaveFlags сохраняет набор флагов в одной транзакции
func (s *Storage) SaveFlags(flags []gate.Flag) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, f := range flags {
		_, err := tx.NamedExec(`
			INSERT INTO copier_flags (scope, flag_key, enabled, updated_at)
			VALUES (:scope, :flag_key, :enabled, :updated_at)
			ON CONFLICT(scope, flag_key) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at
		`, flagRow{Scope: f.Scope, Key: f.Key, Enabled: f.Enabled, UpdatedAt: now})
		if err != nil {
			return fmt.Errorf("failed to save flag %s/%s: %w", f.Scope, f.Key, err)
		}
	}

	return tx.Commit()
}

// LoadFlags загружает все флаги
func (s *Storage) LoadFlags() ([]gate.Flag, error) {
	var rows []flagRow
	if err := s.db.Select(&rows, `SELECT scope, flag_key, enabled, updated_at FROM copier_flags`); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	flags := make([]gate.Flag, 0, len(rows))
	for _, r := range rows {
		flags = append(flags, gate.Flag{Scope: r.Scope, Key: r.Key, Enabled: r.Enabled})
	}

	return flags, nil
}

// === Accounts ===

type accountRow struct {
	ID              string `db:"id"`
	Role            string `db:"role"`
	Platform        string `db:"platform"`
	TenantKey       string `db:"tenant_key"`
	DisplayName     string `db:"display_name"`
	ConnectedMaster string `db:"connected_master"`
	MasterConfig    string `db:"master_config"`
	SlaveConfig     string `db:"slave_config"`
	LastActivity    int64  `db:"last_activity"`
	DiscoveredAt    int64  `db:"discovered_at"`
}

// SaveAccount создает или обновляет аккаунт
func (s *Storage) SaveAccount(acc models.Account) error {
	masterCfg, err := json.Marshal(acc.MasterConfig)
	if err != nil {
		return err
	}
	slaveCfg, err := json.Marshal(acc.SlaveConfig)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExec(`
		INSERT INTO accounts (id, role, platform, tenant_key, display_name, connected_master,
		                      master_config, slave_config, last_activity, discovered_at)
		VALUES (:id, :role, :platform, :tenant_key, :display_name, :connected_master,
		        :master_config, :slave_config, :last_activity, :discovered_at)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			platform = excluded.platform,
			tenant_key = excluded.tenant_key,
			display_name = excluded.display_name,
			connected_master = excluded.connected_master,
			master_config = excluded.master_config,
			slave_config = excluded.slave_config,
			last_activity = excluded.last_activity
	`, accountRow{
		ID:              acc.ID,
		Role:            string(acc.Role),
		Platform:        string(acc.Platform),
		TenantKey:       acc.TenantKey,
		DisplayName:     acc.DisplayName,
		ConnectedMaster: acc.ConnectedMaster,
		MasterConfig:    string(masterCfg),
		SlaveConfig:     string(slaveCfg),
		LastActivity:    unix(acc.LastActivity),
		DiscoveredAt:    unix(acc.DiscoveredAt),
	})
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", acc.ID, err)
	}

	return nil
}

// DeleteAccount удаляет аккаунт
func (s *Storage) DeleteAccount(id string) error {
	_, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	return err
}

// LoadAccounts загружает все аккаунты
func (s *Storage) LoadAccounts() ([]models.Account, error) {
	var rows []accountRow
	if err := s.db.Select(&rows, `
		SELECT id, role, platform, tenant_key, display_name, connected_master,
		       master_config, slave_config, last_activity, discovered_at
		FROM accounts
		ORDER BY id
	`); err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	accounts := make([]models.Account, 0, len(rows))
	for _, r := range rows {
		acc := models.Account{
			ID:              r.ID,
			Role:            models.Role(r.Role),
			Platform:        models.Platform(r.Platform),
			TenantKey:       r.TenantKey,
			Status:          models.StatusOffline,
			DisplayName:     r.DisplayName,
			ConnectedMaster: r.ConnectedMaster,
			MasterConfig:    models.DefaultMasterConfig(),
			SlaveConfig:     models.DefaultSlaveConfig(),
			LastActivity:    fromUnix(r.LastActivity),
			DiscoveredAt:    fromUnix(r.DiscoveredAt),
		}

		if err := json.Unmarshal([]byte(r.MasterConfig), &acc.MasterConfig); err != nil {
			s.logger.Warn("Broken master config, using defaults", slog.String("account", r.ID), slog.Any("error", err))
		}
		if err := json.Unmarshal([]byte(r.SlaveConfig), &acc.SlaveConfig); err != nil {
			s.logger.Warn("Broken slave config, using defaults", slog.String("account", r.ID), slog.Any("error", err))
		}

		accounts = append(accounts, acc)
	}

	return accounts, nil
}

// === Activity Log ===

// AddLog добавляет запись в лог
func (s *Storage) AddLog(ctx context.Context, log models.ActivityLog) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO activity_log (event_id, tenant_key, account_id, level, action, message, details)
		VALUES (:event_id, :tenant_key, :account_id, :level, :action, :message, :details)
	`, log)

	return err
}

// GetLogs получает логи тенанта (и общие записи) с пагинацией
func (s *Storage) GetLogs(tenant string, limit, offset int) ([]models.ActivityLog, error) {
	logs := []models.ActivityLog{}

	err := s.db.Select(&logs, `
		SELECT id, event_id, tenant_key, account_id, level, action, message, details, created_at
		FROM activity_log
		WHERE tenant_key = ? OR tenant_key = ''
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, tenant, limit, offset)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return logs, nil
}

// Close закрывает соединение с БД
func (s *Storage) Close() error {
	return s.db.Close()
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
