package store

// Schema contains the complete DDL for the healing tables.
const Schema = `
-- Healing sessions: one row per attempt to repair one broken locator.
-- Sessions transition status but are never deleted.
CREATE TABLE IF NOT EXISTS healing_sessions (
    id             TEXT PRIMARY KEY,
    test_case_id   TEXT NOT NULL,
    execution_id   TEXT NOT NULL DEFAULT '',
    trigger_type   TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    failure        TEXT NOT NULL DEFAULT '{}',
    adaptations    TEXT NOT NULL DEFAULT '[]',
    pending_update TEXT,
    confidence     REAL NOT NULL DEFAULT 0,
    analysis       TEXT NOT NULL DEFAULT '',
    reviewed_by    TEXT NOT NULL DEFAULT '',
    reviewed_at    INTEGER,
    review_notes   TEXT NOT NULL DEFAULT '',
    error_message  TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    completed_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sessions_case ON healing_sessions(test_case_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON healing_sessions(status);

-- Healing attempts: append-only pipeline outcomes per session.
CREATE TABLE IF NOT EXISTS healing_attempts (
    id                TEXT PRIMARY KEY,
    session_id        TEXT NOT NULL,
    attempt_number    INTEGER NOT NULL,
    strategy_used     TEXT NOT NULL,
    original_selector TEXT NOT NULL,
    proposed_selector TEXT NOT NULL DEFAULT '',
    confidence        REAL NOT NULL DEFAULT 0,
    reasoning         TEXT NOT NULL DEFAULT '',
    validation        TEXT,
    execution_time_ms INTEGER NOT NULL DEFAULT 0,
    success           INTEGER NOT NULL DEFAULT 0,
    error_message     TEXT NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL,
    UNIQUE(session_id, attempt_number),
    FOREIGN KEY (session_id) REFERENCES healing_sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_attempts_session ON healing_attempts(session_id);

-- Selector updates: proposed or applied locator changes with rollback data.
CREATE TABLE IF NOT EXISTS selector_updates (
    id                TEXT PRIMARY KEY,
    session_id        TEXT NOT NULL,
    test_case_id      TEXT NOT NULL,
    step_id           TEXT NOT NULL,
    original_selector TEXT NOT NULL,
    new_selector      TEXT NOT NULL,
    confidence        REAL NOT NULL DEFAULT 0,
    similarity        REAL NOT NULL DEFAULT 0,
    alternatives      TEXT NOT NULL DEFAULT '[]',
    context_preserved INTEGER NOT NULL DEFAULT 0,
    rollback          TEXT NOT NULL DEFAULT '{}',
    status            TEXT NOT NULL DEFAULT 'pending',
    applied_at        INTEGER,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL,
    FOREIGN KEY (session_id) REFERENCES healing_sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_updates_session ON selector_updates(session_id);
CREATE INDEX IF NOT EXISTS idx_updates_step ON selector_updates(step_id);

-- Test steps: the locator field healing rewrites. Upserted on first
-- sight so repairs work for steps registered lazily.
CREATE TABLE IF NOT EXISTS test_steps (
    id           TEXT PRIMARY KEY,
    test_case_id TEXT NOT NULL DEFAULT '',
    name         TEXT NOT NULL DEFAULT '',
    selector     TEXT NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_case ON test_steps(test_case_id);

-- Per-project healing policies.
CREATE TABLE IF NOT EXISTS healing_policies (
    project_id           TEXT PRIMARY KEY,
    auto_healing_enabled INTEGER NOT NULL DEFAULT 1,
    apply_threshold      REAL NOT NULL DEFAULT 0.8,
    review_floor         REAL NOT NULL DEFAULT 0.5,
    max_attempts         INTEGER NOT NULL DEFAULT 3,
    notify_on_healing    INTEGER NOT NULL DEFAULT 1,
    notify_on_review     INTEGER NOT NULL DEFAULT 1,
    updated_at           INTEGER NOT NULL
);

-- Session events: append-only audit trail of transitions.
CREATE TABLE IF NOT EXISTS session_events (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(session_id);
`
