package changeset

// SQL issued by the engine. Diffs compare the two most recent snapshot
// dates in streaming_items: the one just appended for this run and the one
// left by the previous run.

const (
	liveItemsTable     = "items"
	snapshotTable      = "streaming_items"
	deletesTable       = "items_to_delete"
	upsertsTable       = "items_to_upsert"
	expirationsTable   = "items_to_prevent_expiring"
	expirationTracking = "items_expiration_tracking"
)

const latestDateSubquery = `
	SELECT DISTINCT import_datetime
	FROM streaming_items
	ORDER BY import_datetime DESC
	LIMIT 1`

const previousDateSubquery = `
	SELECT DISTINCT import_datetime
	FROM streaming_items
	ORDER BY import_datetime DESC
	LIMIT 1 OFFSET 1`

// appendSnapshotQuery copies the live items into the snapshot with this
// run's content hash. %s slots: merchant-id expression, hash expression.
const appendSnapshotQuery = `
	INSERT INTO streaming_items (item_id, merchant_id, hashed_content, import_datetime)
	SELECT DISTINCT ON (items.item_id)
		items.item_id,
		%s,
		%s,
		$1::timestamptz
	FROM items
	ORDER BY items.item_id`

// materializeDeletesQuery stages items present in the previous snapshot but
// absent from the current one.
const materializeDeletesQuery = `
	INSERT INTO items_to_delete (item_id, merchant_id)
	SELECT previous_run.item_id, previous_run.merchant_id
	FROM (
		SELECT item_id, merchant_id
		FROM streaming_items
		WHERE import_datetime = (` + previousDateSubquery + `)
	) AS previous_run
	LEFT JOIN (
		SELECT item_id
		FROM streaming_items
		WHERE import_datetime = (` + latestDateSubquery + `)
	) AS current_run USING (item_id)
	WHERE current_run.item_id IS NULL`

// materializeUpdatesQuery stages items whose content hash changed against
// the previous snapshot. %s slot: hash expression over the live table.
const materializeUpdatesQuery = `
	INSERT INTO items_to_upsert (item_id)
	SELECT items.item_id
	FROM items
	INNER JOIN streaming_items ON items.item_id = streaming_items.item_id
	WHERE streaming_items.import_datetime = (` + previousDateSubquery + `)
	AND streaming_items.hashed_content <> %s`

// materializeInsertsQuery stages items the previous snapshot never saw.
// New items have no previous hash, so they cannot ride the update query.
const materializeInsertsQuery = `
	INSERT INTO items_to_upsert (item_id)
	SELECT current_run.item_id
	FROM (
		SELECT item_id
		FROM streaming_items
		WHERE import_datetime = (` + latestDateSubquery + `)
	) AS current_run
	LEFT JOIN (
		SELECT item_id
		FROM streaming_items
		WHERE import_datetime = (` + previousDateSubquery + `)
	) AS previous_run USING (item_id)
	WHERE previous_run.item_id IS NULL`

// materializeExpiringQuery stages items untouched for longer than the age
// threshold, excluding anything already staged for upsert: an upsert
// refreshes the item's expiration upstream anyway.
const materializeExpiringQuery = `
	INSERT INTO items_to_prevent_expiring (item_id)
	SELECT tracking.item_id
	FROM items_expiration_tracking AS tracking
	INNER JOIN items USING (item_id)
	WHERE tracking.last_touched_date <= CURRENT_DATE - $1::int
	AND tracking.item_id NOT IN (SELECT item_id FROM items_to_upsert)`

const (
	countDeletesQuery   = `SELECT COUNT(*) FROM items_to_delete`
	countUpsertsQuery   = `SELECT COUNT(*) FROM items_to_upsert`
	countExpiringQuery  = `SELECT COUNT(*) FROM items_to_prevent_expiring`
	truncateDeletes     = `TRUNCATE items_to_delete`
	truncateUpserts     = `TRUNCATE items_to_upsert`
	truncateExpirations = `TRUNCATE items_to_prevent_expiring`
)

// rollbackSnapshotQuery undoes this run's snapshot append so the next run
// re-detects the same items as deltas.
const rollbackSnapshotQuery = `
	DELETE FROM streaming_items
	WHERE import_datetime = (` + latestDateSubquery + `)`

const dropLiveItemsQuery = `DROP TABLE IF EXISTS items`
