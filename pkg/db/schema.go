package db

// Schema defines the SQLite schema of the job store. Project definitions and
// progress records are stored as JSON documents next to the columns used
// for listing; run history and batches are plain rows.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    mode TEXT NOT NULL CHECK(mode IN ('frames-to-video', 'text-to-video', 'create-image')),
    status TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE INDEX IF NOT EXISTS idx_projects_created_at ON projects(created_at);

CREATE TABLE IF NOT EXISTS job_progress (
    project_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    phase TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_records (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK(outcome IN ('completed', 'completed_with_errors', 'error')),
    error_message TEXT,
    images_ready INTEGER NOT NULL DEFAULT 0,
    images_failed INTEGER NOT NULL DEFAULT 0,
    videos_ready INTEGER NOT NULL DEFAULT 0,
    videos_failed INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_records_project ON run_records(project_id, finished_at);

CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_entries (
    batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    project_id TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'completed', 'completed_with_errors', 'error', 'skipped')),
    error_message TEXT,
    run_id TEXT,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (batch_id, position)
);
`
