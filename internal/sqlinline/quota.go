package sqlinline

const QEnsureQuotaRecord = `--sql bc26b73c-4d64-4047-86ce-b62f39e4e090
insert into quota_records (account_id, period_key, resource_kind, limit_units, used, reserved, updated_at)
values ($1::text, $2::text, $3::text, $4::int, 0, 0, now())
on conflict (account_id, period_key, resource_kind) do update set
    limit_units = excluded.limit_units,
    updated_at = now();
`

// QReserveQuota checks and increments in one statement; the row lock taken by
// the update serializes concurrent reservations. No row means the limit
// would be exceeded.
const QReserveQuota = `--sql d9e0c787-cdfd-48d5-ae79-4a63d58b3f32
with bumped as (
    update quota_records
    set reserved = reserved + $4::int,
        updated_at = now()
    where account_id = $1::text
      and period_key = $2::text
      and resource_kind = $3::text
      and used + reserved + $4::int <= limit_units
    returning account_id, period_key, resource_kind
),
res as (
    insert into quota_reservations (id, account_id, period_key, resource_kind, amount, outstanding, created_at, updated_at)
    select $5::uuid, account_id, period_key, resource_kind, $4::int, $4::int, now(), now()
    from bumped
    returning id
)
select id::text from res;
`

const QSettleQuota = `--sql bafce8a6-6aa4-4d1f-b109-e5fbf3c7b7eb
with res as (
    update quota_reservations
    set outstanding = outstanding - $2::int,
        updated_at = now()
    where id = $1::uuid
      and outstanding >= $2::int
    returning account_id, period_key, resource_kind
)
update quota_records q
set reserved = q.reserved - $2::int,
    used = q.used + case when $3::bool then $2::int else 0 end,
    updated_at = now()
from res
where q.account_id = res.account_id
  and q.period_key = res.period_key
  and q.resource_kind = res.resource_kind
returning q.used;
`

const QSelectReservationOutstanding = `--sql 5cdf5a79-c325-4058-b9b1-cc90a8d845ea
select outstanding
from quota_reservations
where id = $1::uuid
limit 1;
`

const QSelectQuotaRecord = `--sql 11a73a28-4da5-4d8e-b752-ee27c78d9bfe
select limit_units, used, reserved
from quota_records
where account_id = $1::text
  and period_key = $2::text
  and resource_kind = $3::text
limit 1;
`
