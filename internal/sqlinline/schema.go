package sqlinline

// QCreateSchema creates every table the Postgres backends use. It is safe to
// run on every start.
const QCreateSchema = `--sql 3c9f8e21-5b7a-4d0e-a6c2-91f4d8b7e035
create table if not exists accounts (
    id          text primary key,
    tier        text not null,
    created_at  timestamptz not null default now(),
    updated_at  timestamptz not null default now()
);

create table if not exists generation_jobs (
    id              uuid primary key,
    account_id      text not null,
    status          text not null,
    constraints     jsonb not null default '{}'::jsonb,
    reservation_id  text,
    created_at      timestamptz not null,
    updated_at      timestamptz not null,
    completed_at    timestamptz
);
create index if not exists generation_jobs_unfinished_idx
    on generation_jobs (updated_at) where status in ('pending', 'running');

create table if not exists generation_tasks (
    id             text primary key,
    job_id         uuid not null references generation_jobs (id) on delete cascade,
    idx            int not null,
    current_stage  text not null,
    outcome        text not null default '',
    error          text not null default '',
    image_url      text not null default '',
    record_id      text not null default '',
    body           jsonb not null,
    updated_at     timestamptz not null default now()
);
create index if not exists generation_tasks_job_idx on generation_tasks (job_id, idx);
create index if not exists generation_tasks_placeholder_idx
    on generation_tasks (updated_at) where outcome = 'success_with_placeholder';

create table if not exists job_snapshots (
    job_id      uuid primary key references generation_jobs (id) on delete cascade,
    revision    bigint not null,
    body        jsonb not null,
    updated_at  timestamptz not null default now()
);

create table if not exists quota_records (
    account_id     text not null,
    period_key     text not null,
    resource_kind  text not null,
    limit_units    int not null,
    used           int not null default 0 check (used >= 0),
    reserved       int not null default 0 check (reserved >= 0),
    updated_at     timestamptz not null default now(),
    primary key (account_id, period_key, resource_kind)
);

create table if not exists quota_reservations (
    id             uuid primary key,
    account_id     text not null,
    period_key     text not null,
    resource_kind  text not null,
    amount         int not null,
    outstanding    int not null check (outstanding >= 0),
    created_at     timestamptz not null default now(),
    updated_at     timestamptz not null default now()
);

create table if not exists image_fingerprints (
    scope       text not null,
    task_id     text not null,
    hash        bigint not null,
    created_at  timestamptz not null default now(),
    primary key (scope, task_id)
);

create table if not exists recipes (
    id           uuid primary key,
    task_id      text not null unique,
    job_id       uuid not null,
    account_id   text not null,
    title        text not null,
    concept      jsonb not null,
    nutrition    jsonb not null,
    image_url    text not null,
    placeholder  bool not null default false,
    created_at   timestamptz not null default now(),
    updated_at   timestamptz not null default now()
);

create table if not exists integration_tokens (
    id          uuid primary key,
    provider    text not null unique,
    token       text not null,
    properties  jsonb not null default '{}'::jsonb,
    created_at  timestamptz not null default now(),
    updated_at  timestamptz not null default now()
);
`
