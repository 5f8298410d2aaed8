//go:build integration

package containers

// schema mirrors migrations/001_init.sql. Keep the two in sync when the
// schema changes.
const schema = `
CREATE TABLE IF NOT EXISTS identities (
    id             uuid PRIMARY KEY,
    wallet_address text NOT NULL UNIQUE,
    did            text NOT NULL UNIQUE,
    role           text NOT NULL,
    display_name   text NOT NULL DEFAULT '',
    created_at     timestamptz NOT NULL,
    updated_at     timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS credential_templates (
    id          uuid PRIMARY KEY,
    name        text NOT NULL UNIQUE,
    category    text NOT NULL DEFAULT '',
    description text NOT NULL DEFAULT '',
    schema      jsonb NOT NULL,
    created_by  uuid NOT NULL REFERENCES identities(id),
    created_at  timestamptz NOT NULL,
    updated_at  timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
    id          uuid PRIMARY KEY,
    type        text NOT NULL,
    issuer_id   uuid REFERENCES identities(id),
    holder_id   uuid REFERENCES identities(id),
    issuer_did  text NOT NULL,
    subject_did text NOT NULL,
    claims      jsonb NOT NULL,
    status      text NOT NULL,
    issued_at   timestamptz NOT NULL,
    expires_at  timestamptz,
    revoked_at  timestamptz,
    proof       jsonb
);

CREATE INDEX IF NOT EXISTS credentials_subject_did_idx ON credentials (subject_did, issued_at DESC);
CREATE INDEX IF NOT EXISTS credentials_holder_id_idx ON credentials (holder_id);
CREATE INDEX IF NOT EXISTS credentials_issuer_id_idx ON credentials (issuer_id);

CREATE TABLE IF NOT EXISTS proof_requests (
    id              uuid PRIMARY KEY,
    verifier_id     uuid NOT NULL REFERENCES identities(id),
    requested_types text[] NOT NULL,
    target_holders  text[] NOT NULL DEFAULT '{}',
    title           text NOT NULL DEFAULT '',
    description     text NOT NULL DEFAULT '',
    status          text NOT NULL,
    created_at      timestamptz NOT NULL,
    expires_at      timestamptz
);

CREATE INDEX IF NOT EXISTS proof_requests_verifier_idx ON proof_requests (verifier_id, created_at DESC);
CREATE INDEX IF NOT EXISTS proof_requests_open_idx ON proof_requests (status, expires_at);

CREATE TABLE IF NOT EXISTS proof_responses (
    id               uuid PRIMARY KEY,
    proof_request_id uuid NOT NULL REFERENCES proof_requests(id),
    holder_id        uuid NOT NULL REFERENCES identities(id),
    presented_credentials text[] NOT NULL DEFAULT '{}',
    proof_data       jsonb,
    status           text NOT NULL,
    message          text NOT NULL DEFAULT '',
    created_at       timestamptz NOT NULL,
    reviewed_at      timestamptz,
    UNIQUE (proof_request_id, holder_id)
);

CREATE INDEX IF NOT EXISTS proof_responses_holder_idx ON proof_responses (holder_id);
`
