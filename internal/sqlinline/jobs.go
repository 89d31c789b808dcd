package sqlinline

const QInsertJob = `--sql e42ae824-a784-4bef-b3b7-b863b849099a
insert into generation_jobs (id, account_id, status, constraints, reservation_id, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, coalesce($4::jsonb, '{}'::jsonb), nullif($5::text, ''), $6::timestamptz, $6::timestamptz);
`

const QUpsertTask = `--sql 02536e2d-cca1-4064-a56e-4a831fdcfed7
insert into generation_tasks (id, job_id, idx, current_stage, outcome, error, image_url, record_id, body, updated_at)
values ($1::text, $2::uuid, $3::int, $4::text, $5::text, $6::text, $7::text, $8::text, $9::jsonb, now())
on conflict (id) do update set
    current_stage = excluded.current_stage,
    outcome = excluded.outcome,
    error = excluded.error,
    image_url = excluded.image_url,
    record_id = excluded.record_id,
    body = excluded.body,
    updated_at = now();
`

const QTouchJob = `--sql 47f988ef-93e1-4289-8960-4cf870712ff3
update generation_jobs
set updated_at = now()
where id = $1::uuid;
`

const QUpdateJobStatus = `--sql 6338de85-fec3-4377-ba67-a94ede9b0114
update generation_jobs
set status = $2::text,
    completed_at = coalesce($3::timestamptz, completed_at),
    updated_at = now()
where id = $1::uuid;
`

const QUpsertJobSnapshot = `--sql 80e2a5a6-f3ee-4e1d-b04e-977aed0beec1
insert into job_snapshots (job_id, revision, body, updated_at)
values ($1::uuid, $2::bigint, $3::jsonb, now())
on conflict (job_id) do update set
    revision = excluded.revision,
    body = excluded.body,
    updated_at = now()
where job_snapshots.revision < excluded.revision;
`

const QSelectJobSnapshot = `--sql e7874d3b-289e-4713-b9f9-46252a06d2aa
select body
from job_snapshots
where job_id = $1::uuid
limit 1;
`

const QSelectJob = `--sql 2b60796f-7b2f-4361-afe1-8a62f081ca71
select id::text, account_id, status, constraints, coalesce(reservation_id, ''), created_at, updated_at, completed_at
from generation_jobs
where id = $1::uuid
limit 1;
`

const QSelectTasksByJob = `--sql 357fc8ab-1fc3-470d-b47f-aa103f381897
select body
from generation_tasks
where job_id = $1::uuid
order by idx asc;
`

const QListUnfinishedJobs = `--sql 61d0a73e-986b-4190-b70e-71d2949732fe
select id::text, account_id, status, constraints, coalesce(reservation_id, ''), created_at, updated_at, completed_at
from generation_jobs
where status in ('pending', 'running')
  and updated_at < $1::timestamptz
order by updated_at asc
limit $2::int;
`

const QListPlaceholderTasks = `--sql 995db0eb-5599-4d38-a7e3-99a3e936a356
select t.job_id::text, t.id, j.account_id
from generation_tasks t
join generation_jobs j on j.id = t.job_id
where t.outcome = 'success_with_placeholder'
  and j.status not in ('pending', 'running')
order by t.updated_at asc
limit $1::int;
`
