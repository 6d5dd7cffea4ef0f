package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/docutag/curator/folders"
	"github.com/docutag/curator/models"
)

// RootID is the folder created by the first migrations
const RootID = "root"

// DB wraps the database connection and provides data access methods
type DB struct {
	conn   *sql.DB
	driver string
}

// Config contains database configuration
type Config struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
}

// DefaultConfig returns default database configuration
func DefaultConfig() Config {
	return Config{
		Driver: "sqlite",
		DSN:    "curator.db",
	}
}

// New creates a new database connection and applies pending migrations
func New(config Config) (*DB, error) {
	driver := config.Driver
	if driver == "" {
		driver = "postgres"
	}
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	dsn := config.DSN
	if driver == "sqlite" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	if driver == "sqlite" {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
	}
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, driver: driver}

	if err := Migrate(conn, driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// rebind rewrites ? placeholders to the driver's style
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) q(query string) string {
	return rebind(db.driver, query)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type nodeRow struct {
	id       string
	parentID sql.NullString
	title    string
	url      string
	position int
}

func (n nodeRow) model() *models.FolderNode {
	return &models.FolderNode{
		ID:       n.id,
		ParentID: n.parentID.String,
		Title:    n.title,
		URL:      n.url,
		Index:    n.position,
	}
}

func (db *DB) getNode(ctx context.Context, q queryer, id string) (*nodeRow, error) {
	var n nodeRow
	err := q.QueryRowContext(ctx, db.q("SELECT id, parent_id, title, url, position FROM nodes WHERE id = ?"), id).
		Scan(&n.id, &n.parentID, &n.title, &n.url, &n.position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", folders.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query node: %w", err)
	}
	return &n, nil
}

func (db *DB) getFolder(ctx context.Context, q queryer, id string) (*nodeRow, error) {
	n, err := db.getNode(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if n.url != "" {
		return nil, fmt.Errorf("%w: %s is not a folder", folders.ErrNotFound, id)
	}
	return n, nil
}

// GetNode retrieves a single node without children
func (db *DB) GetNode(ctx context.Context, id string) (*models.FolderNode, error) {
	n, err := db.getNode(ctx, db.conn, id)
	if err != nil {
		return nil, err
	}
	return n.model(), nil
}

// GetTree returns every root node with its descendants
func (db *DB) GetTree(ctx context.Context) ([]*models.FolderNode, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id, parent_id, title, url, position FROM nodes ORDER BY position, created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var all []*models.FolderNode
	byID := make(map[string]*models.FolderNode)
	for rows.Next() {
		var n nodeRow
		if err := rows.Scan(&n.id, &n.parentID, &n.title, &n.url, &n.position); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		node := n.model()
		all = append(all, node)
		byID[node.ID] = node
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nodes: %w", err)
	}

	var roots []*models.FolderNode
	for _, node := range all {
		if node.ParentID == "" {
			roots = append(roots, node)
			continue
		}
		if parent, ok := byID[node.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		}
	}
	return roots, nil
}

// GetChildren returns the direct children of parentID ordered by position
func (db *DB) GetChildren(ctx context.Context, parentID string) ([]*models.FolderNode, error) {
	if _, err := db.getNode(ctx, db.conn, parentID); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx,
		db.q("SELECT id, parent_id, title, url, position FROM nodes WHERE parent_id = ? ORDER BY position"), parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var children []*models.FolderNode
	for rows.Next() {
		var n nodeRow
		if err := rows.Scan(&n.id, &n.parentID, &n.title, &n.url, &n.position); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		children = append(children, n.model())
	}
	return children, rows.Err()
}

// CreateFolder appends a folder to parentID
func (db *DB) CreateFolder(ctx context.Context, parentID, title string) (*models.FolderNode, error) {
	return db.insert(ctx, parentID, title, "")
}

// CreateLink appends a link to parentID
func (db *DB) CreateLink(ctx context.Context, parentID, title, url string) (*models.FolderNode, error) {
	if url == "" {
		return nil, fmt.Errorf("link url is required")
	}
	return db.insert(ctx, parentID, title, url)
}

func (db *DB) insert(ctx context.Context, parentID, title, url string) (*models.FolderNode, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := db.getFolder(ctx, tx, parentID); err != nil {
		return nil, err
	}

	var position int
	err = tx.QueryRowContext(ctx,
		db.q("SELECT COALESCE(MAX(position) + 1, 0) FROM nodes WHERE parent_id = ?"), parentID).Scan(&position)
	if err != nil {
		return nil, fmt.Errorf("failed to compute position: %w", err)
	}

	node := &models.FolderNode{
		ID:       uuid.New().String(),
		ParentID: parentID,
		Title:    title,
		URL:      url,
		Index:    position,
	}
	_, err = tx.ExecContext(ctx,
		db.q("INSERT INTO nodes (id, parent_id, title, url, position, created_at) VALUES (?, ?, ?, ?, ?, ?)"),
		node.ID, parentID, title, url, position, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return node, nil
}

// Move places id under parentID at index, shifting siblings in both the old
// and new parent. A negative or out-of-range index appends.
func (db *DB) Move(ctx context.Context, id, parentID string, index int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	node, err := db.getNode(ctx, tx, id)
	if err != nil {
		return err
	}
	if !node.parentID.Valid {
		return fmt.Errorf("cannot move root node %s", id)
	}
	if _, err := db.getFolder(ctx, tx, parentID); err != nil {
		return err
	}

	// Refuse to move a folder under itself.
	cur := parentID
	for depth := 0; cur != ""; depth++ {
		if cur == id {
			return fmt.Errorf("cannot move %s into its own subtree", id)
		}
		if depth > folders.MaxDepth {
			return folders.ErrTooDeep
		}
		var parent sql.NullString
		if err := tx.QueryRowContext(ctx, db.q("SELECT parent_id FROM nodes WHERE id = ?"), cur).Scan(&parent); err != nil {
			return fmt.Errorf("failed to walk ancestors: %w", err)
		}
		cur = parent.String
	}

	if _, err := tx.ExecContext(ctx,
		db.q("UPDATE nodes SET position = position - 1 WHERE parent_id = ? AND position > ?"),
		node.parentID.String, node.position); err != nil {
		return fmt.Errorf("failed to close gap: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		db.q("SELECT COUNT(*) FROM nodes WHERE parent_id = ? AND id <> ?"), parentID, id).Scan(&count); err != nil {
		return fmt.Errorf("failed to count siblings: %w", err)
	}
	if index < 0 || index > count {
		index = count
	}

	if _, err := tx.ExecContext(ctx,
		db.q("UPDATE nodes SET position = position + 1 WHERE parent_id = ? AND id <> ? AND position >= ?"),
		parentID, id, index); err != nil {
		return fmt.Errorf("failed to open gap: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		db.q("UPDATE nodes SET parent_id = ?, position = ? WHERE id = ?"), parentID, index, id); err != nil {
		return fmt.Errorf("failed to move node: %w", err)
	}

	return tx.Commit()
}

// RemoveTree deletes id with all of its descendants and their stored verdicts
func (db *DB) RemoveTree(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	node, err := db.getNode(ctx, tx, id)
	if err != nil {
		return err
	}

	ids := []string{id}
	frontier := []string{id}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth > folders.MaxDepth {
			return folders.ErrTooDeep
		}
		var next []string
		for _, parent := range frontier {
			children, err := db.childIDs(ctx, tx, parent)
			if err != nil {
				return err
			}
			next = append(next, children...)
		}
		ids = append(ids, next...)
		frontier = next
	}

	for _, nodeID := range ids {
		if _, err := tx.ExecContext(ctx, db.q("DELETE FROM link_checks WHERE entry_id = ?"), nodeID); err != nil {
			return fmt.Errorf("failed to delete verdict: %w", err)
		}
		if _, err := tx.ExecContext(ctx, db.q("DELETE FROM nodes WHERE id = ?"), nodeID); err != nil {
			return fmt.Errorf("failed to delete node: %w", err)
		}
	}

	if node.parentID.Valid {
		if _, err := tx.ExecContext(ctx,
			db.q("UPDATE nodes SET position = position - 1 WHERE parent_id = ? AND position > ?"),
			node.parentID.String, node.position); err != nil {
			return fmt.Errorf("failed to close gap: %w", err)
		}
	}

	return tx.Commit()
}

func (db *DB) childIDs(ctx context.Context, q queryer, parentID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, db.q("SELECT id FROM nodes WHERE parent_id = ?"), parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountLinks returns the number of stored links
func (db *DB) CountLinks(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes WHERE url <> ''").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return count, nil
}

// SaveVerdicts stores the latest verdict per entry
func (db *DB) SaveVerdicts(ctx context.Context, verdicts []models.HealthVerdict) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := db.q(`
		INSERT INTO link_checks (entry_id, url, alive, status, error, reason, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			url = excluded.url,
			alive = excluded.alive,
			status = excluded.status,
			error = excluded.error,
			reason = excluded.reason,
			checked_at = excluded.checked_at
	`)
	for _, v := range verdicts {
		if _, err := tx.ExecContext(ctx, query,
			v.EntryID, v.URL, v.Alive, v.Status, v.Error, v.Reason, v.CheckedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to save verdict for %s: %w", v.EntryID, err)
		}
	}

	return tx.Commit()
}

// ListVerdicts returns stored verdicts ordered by check time, optionally only dead ones
func (db *DB) ListVerdicts(ctx context.Context, deadOnly bool) ([]models.HealthVerdict, error) {
	query := "SELECT entry_id, url, alive, status, error, reason, checked_at FROM link_checks"
	if deadOnly {
		query += " WHERE alive = " + db.boolLiteral(false)
	}
	query += " ORDER BY checked_at, entry_id"

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var verdicts []models.HealthVerdict
	for rows.Next() {
		var v models.HealthVerdict
		var checkedAt int64
		if err := rows.Scan(&v.EntryID, &v.URL, &v.Alive, &v.Status, &v.Error, &v.Reason, &checkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		v.CheckedAt = time.UnixMilli(checkedAt).UTC()
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}

// DeleteVerdict removes the stored verdict of an entry
func (db *DB) DeleteVerdict(ctx context.Context, entryID string) error {
	if _, err := db.conn.ExecContext(ctx, db.q("DELETE FROM link_checks WHERE entry_id = ?"), entryID); err != nil {
		return fmt.Errorf("failed to delete verdict: %w", err)
	}
	return nil
}

func (db *DB) boolLiteral(b bool) string {
	if db.driver == "postgres" {
		return strconv.FormatBool(b)
	}
	if b {
		return "1"
	}
	return "0"
}
