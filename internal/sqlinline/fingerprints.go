package sqlinline

const QInsertFingerprint = `--sql fdf58773-d7c7-455d-b014-bda67f922e51
insert into image_fingerprints (scope, task_id, hash, created_at)
values ($1::text, $2::text, $3::bigint, $4::timestamptz)
on conflict (scope, task_id) do update set
    hash = excluded.hash,
    created_at = excluded.created_at;
`

const QDeleteFingerprint = `--sql 8b7baf57-3152-4eff-b068-0e5f28c3bba6
delete from image_fingerprints
where scope = $1::text
  and task_id = $2::text;
`

const QListFingerprints = `--sql 389072a5-674e-4c7f-8809-d66cab4abc0e
select scope, task_id, hash, created_at
from image_fingerprints
order by created_at asc;
`
