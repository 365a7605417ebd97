package resultstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    app_dir TEXT NOT NULL,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    build_duration_ms REAL
);

CREATE TABLE IF NOT EXISTS samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    round INTEGER NOT NULL,
    elapsed_ms REAL NOT NULL,
    modules INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_run_id ON samples(run_id);
`
