package sqlinline

// QUpsertRecipe is idempotent by task id; the latest writer wins.
const QUpsertRecipe = `--sql fb5e1e8b-0ace-47e7-99f4-4984dbf5ee67
insert into recipes (id, task_id, job_id, account_id, title, concept, nutrition, image_url, placeholder, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::uuid, $3::text, $4::text, $5::jsonb, $6::jsonb, $7::text, $8::bool, now(), now())
on conflict (task_id) do update set
    title = excluded.title,
    concept = excluded.concept,
    nutrition = excluded.nutrition,
    image_url = excluded.image_url,
    placeholder = excluded.placeholder,
    updated_at = now()
returning id::text;
`

const QSelectRecipeByTask = `--sql d600725f-49d9-4610-9d4a-fca3f7877d28
select task_id, job_id::text, account_id, concept, nutrition, image_url, placeholder, updated_at
from recipes
where task_id = $1::text
limit 1;
`
