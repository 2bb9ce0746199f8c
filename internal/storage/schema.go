package storage

const schema = `
-- The 'col' table holds the single collection row.
CREATE TABLE IF NOT EXISTS col (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    crt INTEGER NOT NULL,                    -- creation time, unix seconds
    last_unburied INTEGER NOT NULL DEFAULT 0, -- day cards were last unburied
    selected_deck INTEGER NOT NULL DEFAULT 1
);

-- The 'notes' table holds card content and the tags searches match on.
CREATE TABLE IF NOT EXISTS notes (
    id INTEGER PRIMARY KEY,
    tags TEXT NOT NULL DEFAULT '',           -- space separated
    question TEXT NOT NULL DEFAULT '',
    answer TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT ''
);

-- The 'cards' table stores the scheduling state of every card.
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY,
    nid INTEGER NOT NULL,
    did INTEGER NOT NULL,
    ord INTEGER NOT NULL DEFAULT 0,
    type INTEGER NOT NULL DEFAULT 0,          -- 0: new, 1: learning, 2: review, 3: relearning
    queue INTEGER NOT NULL DEFAULT 0,         -- see domain.Queue
    due INTEGER NOT NULL DEFAULT 0,           -- position, day number or timestamp depending on queue
    ivl INTEGER NOT NULL DEFAULT 0,
    factor INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    left_steps INTEGER NOT NULL DEFAULT 0,
    odue INTEGER NOT NULL DEFAULT 0,
    odid INTEGER NOT NULL DEFAULT 0,
    mod INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS ix_cards_sched ON cards (did, queue, due);
CREATE INDEX IF NOT EXISTS ix_cards_nid ON cards (nid);

-- The 'revlog' table is append-only; the id is the answer time in milliseconds.
CREATE TABLE IF NOT EXISTS revlog (
    id INTEGER PRIMARY KEY,
    cid INTEGER NOT NULL,
    ease INTEGER NOT NULL,
    reps INTEGER NOT NULL,
    ivl INTEGER NOT NULL,
    last_ivl INTEGER NOT NULL,
    factor INTEGER NOT NULL,
    time INTEGER NOT NULL,
    type INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_revlog_cid ON revlog (cid);

-- The 'decks' table holds normal and filtered decks with their daily tallies.
CREATE TABLE IF NOT EXISTS decks (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    conf_id INTEGER NOT NULL DEFAULT 1,
    filtered INTEGER NOT NULL DEFAULT 0,
    new_day INTEGER NOT NULL DEFAULT 0,
    new_count INTEGER NOT NULL DEFAULT 0,
    rev_day INTEGER NOT NULL DEFAULT 0,
    rev_count INTEGER NOT NULL DEFAULT 0,
    lrn_day INTEGER NOT NULL DEFAULT 0,
    lrn_count INTEGER NOT NULL DEFAULT 0,
    time_day INTEGER NOT NULL DEFAULT 0,
    time_count INTEGER NOT NULL DEFAULT 0,
    terms TEXT NOT NULL DEFAULT '[]',         -- JSON list of filter terms
    resched INTEGER NOT NULL DEFAULT 1,
    preview_delay INTEGER                     -- minutes, NULL for the default
);

-- The 'deck_config' table stores shared scheduling options as JSON.
CREATE TABLE IF NOT EXISTS deck_config (
    id INTEGER PRIMARY KEY,
    config TEXT NOT NULL
);
`
