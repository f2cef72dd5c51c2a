// Package configstore persists runtime settings, model profiles, MCP
// server definitions, and marketplace blobs in a local sqlite database.
package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leeoohoo/subagent-router/internal/ids"
	"github.com/leeoohoo/subagent-router/internal/model"
)

var logger = slog.Default().With("component", "configstore")

// Store is the config store: settings KV plus MCP server and marketplace
// record tables, backed by sqlite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and ensures
// its schema. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create state dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open config db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			transport TEXT NOT NULL,
			command TEXT,
			args TEXT,
			endpoint_url TEXT,
			headers_json TEXT,
			enabled INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS marketplaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			json TEXT NOT NULL,
			plugin_count INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	// Additive schema migration: any column later added to mcp_servers or
	// marketplaces is added here, guarded by a check against the existing
	// column set, so upgrading an older on-disk db never loses data.
	if err := s.addColumnIfMissing(ctx, "mcp_servers", "headers_json", "TEXT"); err != nil {
		return err
	}
	return nil
}

func (s *Store) addColumnIfMissing(ctx context.Context, table, column, ddlType string) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan table_info(%s): %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, ddlType))
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// --- Settings (tagged by key; unknown keys are preserved verbatim) ---

// GetSetting returns the raw JSON value stored for key, or ("", false) if absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts a raw JSON value for key.
func (s *Store) SetSetting(ctx context.Context, key, jsonValue string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, jsonValue, time.Now())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes the value stored at key into out. Returns false if absent.
func (s *Store) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, ok, err := s.GetSetting(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return true, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals v and stores it at key.
func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	return s.SetSetting(ctx, key, string(raw))
}

const runtimeConfigKey = "runtime_config"

// GetRuntimeConfig returns the persisted runtime override record, zero
// value if none has been saved.
func (s *Store) GetRuntimeConfig(ctx context.Context) (model.RuntimeConfig, error) {
	var cfg model.RuntimeConfig
	if _, err := s.GetJSON(ctx, runtimeConfigKey, &cfg); err != nil {
		return model.RuntimeConfig{}, err
	}
	return cfg, nil
}

// SetRuntimeConfig persists the runtime override record.
func (s *Store) SetRuntimeConfig(ctx context.Context, cfg model.RuntimeConfig) error {
	return s.SetJSON(ctx, runtimeConfigKey, cfg)
}

const activeModelIDKey = "active_model_id"

// GetActiveModelID returns the currently selected model id, "" if unset.
func (s *Store) GetActiveModelID(ctx context.Context) (string, error) {
	v, ok, err := s.GetSetting(ctx, activeModelIDKey)
	if err != nil || !ok {
		return "", err
	}
	var id string
	if err := json.Unmarshal([]byte(v), &id); err != nil {
		return "", fmt.Errorf("decode active model id: %w", err)
	}
	return id, nil
}

// SetActiveModelID records the currently selected model id.
func (s *Store) SetActiveModelID(ctx context.Context, id string) error {
	return s.SetJSON(ctx, activeModelIDKey, id)
}

const modelsKey = "models"

// ListModels returns all configured model profiles.
func (s *Store) ListModels(ctx context.Context) ([]model.ModelConfig, error) {
	var models []model.ModelConfig
	if _, err := s.GetJSON(ctx, modelsKey, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// SaveModel upserts a model profile by id.
func (s *Store) SaveModel(ctx context.Context, m model.ModelConfig) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	m.BaseURL = NormalizeBaseURL(m.BaseURL)
	models, err := s.ListModels(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range models {
		if models[i].ID == m.ID {
			models[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		models = append(models, m)
	}
	return s.SetJSON(ctx, modelsKey, models)
}

// DeleteModel removes a model profile by id.
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	models, err := s.ListModels(ctx)
	if err != nil {
		return err
	}
	out := models[:0]
	for _, m := range models {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return s.SetJSON(ctx, modelsKey, out)
}

// NormalizeBaseURL strips a trailing slash and appends "/v1" if absent.
func NormalizeBaseURL(raw string) string {
	if raw == "" {
		return raw
	}
	trimmed := strings.TrimRight(raw, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

// --- MCP servers ---

// ListMcpServers returns all configured MCP servers ordered by name.
func (s *Store) ListMcpServers(ctx context.Context) ([]model.McpServerConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, transport, command, args, endpoint_url, headers_json, enabled, created_at, updated_at
		FROM mcp_servers ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var out []model.McpServerConfig
	for rows.Next() {
		cfg, err := scanMcpServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// GetMcpServer returns a single MCP server by id, or nil if absent.
func (s *Store) GetMcpServer(ctx context.Context, id string) (*model.McpServerConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, transport, command, args, endpoint_url, headers_json, enabled, created_at, updated_at
		FROM mcp_servers WHERE id = ?
	`, id)
	cfg, err := scanMcpServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mcp server: %w", err)
	}
	return &cfg, nil
}

// SaveMcpServer validates and upserts an MCP server definition.
func (s *Store) SaveMcpServer(ctx context.Context, cfg model.McpServerConfig) (model.McpServerConfig, error) {
	if err := cfg.Validate(); err != nil {
		return model.McpServerConfig{}, fmt.Errorf("invalid mcp server: %w", err)
	}
	now := time.Now()
	if cfg.ID == "" {
		cfg.ID = ids.New()
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	argsJSON, err := json.Marshal(cfg.Args)
	if err != nil {
		return model.McpServerConfig{}, fmt.Errorf("encode mcp server args: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (id, name, transport, command, args, endpoint_url, headers_json, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			transport = excluded.transport,
			command = excluded.command,
			args = excluded.args,
			endpoint_url = excluded.endpoint_url,
			headers_json = excluded.headers_json,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`,
		cfg.ID, cfg.Name, string(cfg.Transport), cfg.Command, string(argsJSON), cfg.EndpointURL, cfg.HeadersJSON, boolToInt(cfg.Enabled), cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return model.McpServerConfig{}, fmt.Errorf("save mcp server: %w", err)
	}
	return cfg, nil
}

// DeleteMcpServer removes an MCP server by id.
func (s *Store) DeleteMcpServer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mcp server: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMcpServer(row scannable) (model.McpServerConfig, error) {
	var (
		cfg         model.McpServerConfig
		transport   string
		command     sql.NullString
		argsJSON    sql.NullString
		endpointURL sql.NullString
		headers     sql.NullString
		enabled     int
	)
	if err := row.Scan(&cfg.ID, &cfg.Name, &transport, &command, &argsJSON, &endpointURL, &headers, &enabled, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return model.McpServerConfig{}, err
	}
	cfg.Transport = model.McpTransport(transport)
	cfg.Command = command.String
	cfg.EndpointURL = endpointURL.String
	cfg.HeadersJSON = headers.String
	cfg.Enabled = enabled != 0
	if argsJSON.Valid && argsJSON.String != "" {
		if err := json.Unmarshal([]byte(argsJSON.String), &cfg.Args); err != nil {
			return model.McpServerConfig{}, fmt.Errorf("decode mcp server args: %w", err)
		}
	}
	return cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetEffectiveAllowPrefixes returns the manual allow-list if non-empty;
// otherwise derives prefixes mcp_<slug(name)>_ from enabled MCP servers,
// de-duplicated, preserving first-seen order.
func (s *Store) GetEffectiveAllowPrefixes(ctx context.Context, manual []string) ([]string, error) {
	if len(manual) > 0 {
		return manual, nil
	}
	servers, err := s.ListMcpServers(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		prefix := ids.McpPrefix(srv.Name)
		if seen[prefix] {
			continue
		}
		seen[prefix] = true
		out = append(out, prefix)
	}
	return out, nil
}

// --- Marketplace records ---

// ListMarketplaces returns all marketplace records ordered by name.
func (s *Store) ListMarketplaces(ctx context.Context) ([]model.MarketplaceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, json, plugin_count, active, created_at, updated_at
		FROM marketplaces ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list marketplaces: %w", err)
	}
	defer rows.Close()
	var out []model.MarketplaceRecord
	for rows.Next() {
		var (
			rec     model.MarketplaceRecord
			active  int
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.JSON, &rec.PluginCount, &active, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan marketplace: %w", err)
		}
		rec.Active = active != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveMarketplace upserts a marketplace record and rewrites the effective
// manifest file at manifestPath.
func (s *Store) SaveMarketplace(ctx context.Context, rec model.MarketplaceRecord, manifestPath string) (model.MarketplaceRecord, error) {
	now := time.Now()
	if rec.ID == "" {
		rec.ID = ids.New()
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	var pluginCount int
	var parsed struct {
		Plugins []json.RawMessage `json:"plugins"`
	}
	if err := json.Unmarshal([]byte(rec.JSON), &parsed); err == nil {
		pluginCount = len(parsed.Plugins)
	}
	rec.PluginCount = pluginCount
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO marketplaces (id, name, json, plugin_count, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			json = excluded.json,
			plugin_count = excluded.plugin_count,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Name, rec.JSON, rec.PluginCount, boolToInt(rec.Active), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return model.MarketplaceRecord{}, fmt.Errorf("save marketplace: %w", err)
	}
	if err := s.ensureMarketplaceFile(ctx, manifestPath); err != nil {
		return model.MarketplaceRecord{}, err
	}
	return rec, nil
}

// SetMarketplaceActive flips a marketplace's active flag and rewrites the
// effective manifest.
func (s *Store) SetMarketplaceActive(ctx context.Context, id string, active bool, manifestPath string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE marketplaces SET active = ?, updated_at = ? WHERE id = ?`, boolToInt(active), time.Now(), id)
	if err != nil {
		return fmt.Errorf("activate marketplace: %w", err)
	}
	return s.ensureMarketplaceFile(ctx, manifestPath)
}

// DeleteMarketplace removes a marketplace record and rewrites the
// effective manifest.
func (s *Store) DeleteMarketplace(ctx context.Context, id string, manifestPath string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM marketplaces WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete marketplace: %w", err)
	}
	return s.ensureMarketplaceFile(ctx, manifestPath)
}

// mergedPlugin is one entry of the effective manifest, keyed by source
// (falling back to name) with first-occurrence order preserved.
type mergedPlugin struct {
	key   string
	order int
	raw   json.RawMessage
}

// ensureMarketplaceFile rewrites the effective merged manifest to disk:
// active records are merged, first occurrence of each plugin key wins.
func (s *Store) ensureMarketplaceFile(ctx context.Context, manifestPath string) error {
	if manifestPath == "" {
		return nil
	}
	records, err := s.ListMarketplaces(ctx)
	if err != nil {
		return err
	}
	merged := map[string]*mergedPlugin{}
	var order int
	for _, rec := range records {
		if !rec.Active {
			continue
		}
		var doc struct {
			Plugins []json.RawMessage `json:"plugins"`
		}
		if err := json.Unmarshal([]byte(rec.JSON), &doc); err != nil {
			logger.Warn("skip invalid marketplace json", "marketplace", rec.ID, "error", err)
			continue
		}
		for _, raw := range doc.Plugins {
			key := pluginMergeKey(raw)
			if key == "" {
				continue
			}
			if _, exists := merged[key]; exists {
				continue
			}
			merged[key] = &mergedPlugin{key: key, order: order, raw: raw}
			order++
		}
	}
	entries := make([]*mergedPlugin, 0, len(merged))
	for _, p := range merged {
		entries = append(entries, p)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	plugins := make([]json.RawMessage, 0, len(entries))
	for _, p := range entries {
		plugins = append(plugins, p.raw)
	}
	effective := struct {
		Plugins []json.RawMessage `json:"plugins"`
	}{Plugins: plugins}

	raw, err := json.MarshalIndent(effective, "", "  ")
	if err != nil {
		return fmt.Errorf("encode effective manifest: %w", err)
	}
	if dir := filepath.Dir(manifestPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create manifest dir: %w", err)
		}
	}
	if err := os.WriteFile(manifestPath, raw, 0o644); err != nil {
		return fmt.Errorf("write effective manifest: %w", err)
	}
	return nil
}

// pluginMergeKey extracts the merge key for a plugin entry: source, else
// name, else the raw JSON form.
func pluginMergeKey(raw json.RawMessage) string {
	var fields struct {
		Source string `json:"source"`
		Name   string `json:"name"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return string(raw)
	}
	if fields.Source != "" {
		return fields.Source
	}
	if fields.Name != "" {
		return fields.Name
	}
	return string(raw)
}
