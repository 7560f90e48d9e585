package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/models"
)

// credentialModel is the Bun mapping of one cached hop credential.
type credentialModel struct {
	bun.BaseModel `bun:"table:hop_credentials"`
	Host          string    `bun:"host,pk"`
	Port          int       `bun:"port,pk"`
	Username      string    `bun:"username,notnull"`
	Password      string    `bun:"password,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

// SQLStore persists credentials in a local SQLite file so they survive
// across short-lived CLI invocations.
type SQLStore struct {
	bun *bun.DB
}

// OpenSQLStore opens (and creates if needed) the credential database at dsn.
// A plain file path is created with mode 0600.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	if isFilePath(dsn) {
		f, err := os.OpenFile(dsn, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to create credential database: %w", err)
		}
		_ = f.Close()
		if err := os.Chmod(dsn, 0o600); err != nil {
			return nil, fmt.Errorf("failed to restrict credential database permissions: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	store := &SQLStore{bun: bun.NewDB(sqlDB, sqlitedialect.New())}
	if _, err := store.bun.NewCreateTable().Model((*credentialModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create hop_credentials table: %w", err)
	}

	logging.Debugf("credentials: opened sqlite store %s", dsn)
	return store, nil
}

func isFilePath(dsn string) bool {
	return dsn != ":memory:" && !strings.HasPrefix(dsn, "file:")
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key models.HopKey) (models.Credential, bool, error) {
	key = models.NewHopKey(key.Host, key.Port)

	var m credentialModel
	err := s.bun.NewSelect().Model(&m).
		Where("host = ?", key.Host).
		Where("port = ?", key.Port).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Credential{}, false, nil
		}
		return models.Credential{}, false, err
	}

	return models.Credential{
		Host:      m.Host,
		Port:      m.Port,
		Username:  m.Username,
		Password:  m.Password,
		UpdatedAt: m.UpdatedAt,
	}, true, nil
}

// Upsert implements Store.
func (s *SQLStore) Upsert(ctx context.Context, cred models.Credential) error {
	key := cred.Key()
	m := &credentialModel{
		Host:      key.Host,
		Port:      key.Port,
		Username:  cred.Username,
		Password:  cred.Password,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := s.bun.NewInsert().Model(m).
		On("CONFLICT (host, port) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("password = EXCLUDED.password").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key models.HopKey) error {
	key = models.NewHopKey(key.Host, key.Port)
	_, err := s.bun.NewDelete().Model((*credentialModel)(nil)).
		Where("host = ?", key.Host).
		Where("port = ?", key.Port).
		Exec(ctx)
	return err
}

// Keys implements Store.
func (s *SQLStore) Keys(ctx context.Context) ([]models.HopKey, error) {
	var rows []credentialModel
	if err := s.bun.NewSelect().Model(&rows).Column("host", "port").Order("host ASC", "port ASC").Scan(ctx); err != nil {
		return nil, err
	}
	keys := make([]models.HopKey, len(rows))
	for i, r := range rows {
		keys[i] = models.HopKey{Host: r.Host, Port: r.Port}
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.bun.Close()
}
