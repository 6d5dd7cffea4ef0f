package db

// PostgreSQL-specific migrations for Curator

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_nodes_table",
		Up: `
			CREATE TABLE IF NOT EXISTS nodes (
				id TEXT PRIMARY KEY,
				parent_id TEXT,
				title TEXT NOT NULL,
				url TEXT NOT NULL DEFAULT '',
				position INTEGER NOT NULL,
				created_at BIGINT NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_nodes_parent_position ON nodes(parent_id, position);
			CREATE INDEX IF NOT EXISTS idx_nodes_url ON nodes(url);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_nodes_url;
			DROP INDEX IF EXISTS idx_nodes_parent_position;
			DROP TABLE IF EXISTS nodes;
		`,
	},
	{
		Version: 2,
		Name:    "seed_root_folder",
		Up: `
			INSERT INTO nodes (id, parent_id, title, url, position, created_at)
			VALUES ('root', NULL, 'Bookmarks', '', 0, 0)
			ON CONFLICT (id) DO NOTHING;
		`,
		Down: `
			DELETE FROM nodes WHERE id = 'root';
		`,
	},
	{
		Version: 3,
		Name:    "create_link_checks_table",
		Up: `
			CREATE TABLE IF NOT EXISTS link_checks (
				entry_id TEXT PRIMARY KEY,
				url TEXT NOT NULL,
				alive BOOLEAN NOT NULL,
				status INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				reason TEXT NOT NULL DEFAULT '',
				checked_at BIGINT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_link_checks_alive ON link_checks(alive);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_link_checks_alive;
			DROP TABLE IF EXISTS link_checks;
		`,
	},
}
