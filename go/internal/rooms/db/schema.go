package db

// Schema creates the rooms tables when they do not exist
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id                  TEXT PRIMARY KEY,
    title               TEXT NOT NULL,
    video_source        TEXT NOT NULL,
    privacy             TEXT NOT NULL DEFAULT 'public',
    metadata            JSONB,
    participants        JSONB NOT NULL DEFAULT '[]'::jsonb,
    viewer_count        INTEGER NOT NULL DEFAULT 0,
    is_playing          BOOLEAN NOT NULL DEFAULT FALSE,
    position            DOUBLE PRECISION NOT NULL DEFAULT 0,
    playback_updated_at BIGINT NOT NULL DEFAULT 0,
    playback_source_id  TEXT,
    created_by          TEXT,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS rooms_created_at_idx ON rooms (created_at DESC);

CREATE TABLE IF NOT EXISTS room_messages (
    room_id    TEXT NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
    seq        BIGINT NOT NULL,
    id         TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    text       TEXT NOT NULL,
    type       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (room_id, seq)
);
`
