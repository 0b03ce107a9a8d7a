// ABOUTME: Logical schema for the tracker database
// ABOUTME: Idempotent CREATE TABLE statements plus the canonical table list for export

package store

// tableNames lists every table in snapshot-export order. Parent tables come
// first so imports satisfy foreign keys.
var tableNames = []string{
	"users",
	"user_preferences",
	"categories",
	"projects",
	"project_members",
	"tasks",
	"auth_tokens",
}

// schemaSQL creates all tables and indexes. Safe to run on every initialization.
const schemaSQL = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		avatar_url TEXT,
		bio TEXT,
		roles TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		active INTEGER DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS user_preferences (
		user_id TEXT PRIMARY KEY,
		theme TEXT DEFAULT 'auto',
		language TEXT DEFAULT 'en-US',
		push_notifications INTEGER DEFAULT 1,
		email_notifications INTEGER DEFAULT 1,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		icon TEXT,
		color TEXT,
		description TEXT,
		user_id TEXT,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		color TEXT NOT NULL,
		status TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS project_members (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		UNIQUE(project_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		user_id TEXT NOT NULL,
		project_id TEXT,
		category_id TEXT,
		tags TEXT DEFAULT '[]',
		attachments TEXT DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		due_at TEXT,
		completed_at TEXT,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE SET NULL,
		FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS auth_tokens (
		user_id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_project_id ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_projects_owner_id ON projects(owner_id);
	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`
