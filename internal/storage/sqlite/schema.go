package sqlite

const schema = `
-- Rule-set version metadata
CREATE TABLE IF NOT EXISTS rule_versions (
    version TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    checksum TEXT NOT NULL DEFAULT '',
    parent_version TEXT,
    is_stable INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Rules, one row per rule per version snapshot
CREATE TABLE IF NOT EXISTS rules (
    version TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    pattern TEXT NOT NULL,
    replacement TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    description TEXT NOT NULL DEFAULT '',
    performance_score REAL NOT NULL DEFAULT 0 CHECK(performance_score >= 0 AND performance_score <= 1),
    usage_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (version, rule_id),
    FOREIGN KEY (version) REFERENCES rule_versions(version) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_rules_type ON rules(version, rule_type);

-- Single-row pointer to the active version; promotion is one UPDATE
CREATE TABLE IF NOT EXISTS current_version (
    id INTEGER PRIMARY KEY CHECK(id = 1),
    version TEXT NOT NULL,
    FOREIGN KEY (version) REFERENCES rule_versions(version)
);

-- Applied-patch audit log
CREATE TABLE IF NOT EXISTS patches (
    patch_id TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    rule_type TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    rolled_back INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_patches_applied_at ON patches(applied_at);

-- Processing jobs
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    scale TEXT NOT NULL,
    status TEXT NOT NULL,
    rules_version TEXT NOT NULL DEFAULT '',
    total_cases INTEGER NOT NULL DEFAULT 0,
    processed_cases INTEGER NOT NULL DEFAULT 0,
    failed_cases INTEGER NOT NULL DEFAULT 0,
    current_batch INTEGER NOT NULL DEFAULT 0,
    total_batches INTEGER NOT NULL DEFAULT 0,
    recent_errors TEXT NOT NULL DEFAULT '[]',
    start_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    end_time DATETIME,
    estimated_completion DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_start_time ON jobs(start_time);

-- Resumable progress, one row per job
CREATE TABLE IF NOT EXISTS checkpoints (
    job_id TEXT PRIMARY KEY,
    batch_offset INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);

-- Previously failed cases replayed by the regression gate
CREATE TABLE IF NOT EXISTS regression_cases (
    case_id TEXT PRIMARY KEY,
    pattern TEXT NOT NULL DEFAULT 'unknown',
    content TEXT NOT NULL,
    failed_output TEXT NOT NULL DEFAULT '',
    recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Corpus documents with sampling strata
CREATE TABLE IF NOT EXISTS documents (
    case_id TEXT PRIMARY KEY,
    court_type TEXT NOT NULL DEFAULT '',
    case_type TEXT NOT NULL DEFAULT '',
    year INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_strata ON documents(court_type, case_type, year);
`
