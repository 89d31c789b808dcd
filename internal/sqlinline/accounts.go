package sqlinline

const QSelectAccountTier = `--sql 0116eab4-22ba-4a17-b248-7fb512ee9544
select tier
from accounts
where id = $1::text
limit 1;
`

const QUpsertAccountTier = `--sql 8d86b590-3388-4e3b-9685-ce73bc4aae7b
insert into accounts (id, tier, created_at, updated_at)
values ($1::text, $2::text, now(), now())
on conflict (id) do update set
    tier = excluded.tier,
    updated_at = now();
`
