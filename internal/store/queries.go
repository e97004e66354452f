package store

// Queries use '?' placeholders; rebind rewrites them for postgres.

const queryInsertPost = `
INSERT INTO scheduled_posts (id, text, fire_at_ms, asset_dir, post_data, posted, status, last_error, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryInsertTimer = `
INSERT INTO post_timers (job_id, fire_at_ms, created_at_ms)
VALUES (?, ?, ?)
`

const selectPostColumns = `
SELECT id, text, fire_at_ms, asset_dir, post_data, posted, status, last_error, created_at_ms, updated_at_ms
FROM scheduled_posts
`

const queryGetPost = selectPostColumns + `WHERE id = ?`

const queryListPosts = selectPostColumns + `ORDER BY fire_at_ms, id LIMIT ? OFFSET ?`

const queryDeleteTimer = `DELETE FROM post_timers WHERE job_id = ?`

const queryDeletePost = `DELETE FROM scheduled_posts WHERE id = ?`

const queryDeleteIdlePost = `DELETE FROM scheduled_posts WHERE id = ? AND status <> 'firing'`

const queryPostStatus = `SELECT status FROM scheduled_posts WHERE id = ?`

const queryListTimers = `
SELECT job_id, fire_at_ms FROM post_timers
ORDER BY fire_at_ms, job_id
`

const queryDueTimers = `
SELECT job_id, fire_at_ms FROM post_timers
WHERE fire_at_ms <= ?
ORDER BY fire_at_ms, job_id
LIMIT ?
`

// The posted guard keeps a completed record from ever being claimed again.
const queryClaimPost = `
UPDATE scheduled_posts
SET status = 'firing', updated_at_ms = ?
WHERE id = ?
  AND status = 'pending'
  AND posted = FALSE
`

const queryMarkFailed = `
UPDATE scheduled_posts
SET status = 'failed', last_error = ?, updated_at_ms = ?
WHERE id = ?
  AND status = 'firing'
`

const queryActiveAssetDirs = `
SELECT asset_dir FROM scheduled_posts
WHERE asset_dir <> ''
`

const queryCountPosts = `SELECT COUNT(1) FROM scheduled_posts`
