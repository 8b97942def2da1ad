/*
Package datacore routes SQL between a primary and read replicas and keeps a
cache-aside layer in front of the reads. Writes invalidate what they make
stale using one of several strategies.

Usage:

	import (
		"github.com/prashanthpai/datacore"
		"github.com/prashanthpai/datacore/config"
	)

	func main() {
		...
		cfg, err := config.Load("datacore.yaml")
		...
		db, err := datacore.Open(ctx, cfg, logger)
		...
		defer db.Close()

		// reads go to a replica and are cached for 30 seconds
		page, err := db.Table("orders").
			Where("status", "=", "open").
			OrderBy("created_at", query.Desc).
			WithCache(30*time.Second, "").
			Paginate(ctx, 1, 20)
		...

		// writes go to the primary and drop every cached orders read
		_, err = db.Table("orders").
			Where("id", "=", 7).
			Update(ctx, map[string]interface{}{"status": "paid"})
	}

Invalidation strategies are Broad (the default), Granular, TTLOnly,
Versioned and Tags; pick one per write with Query.InvalidateWith.
Writes issued inside DB.Transaction are invalidated after the commit.

Hand written reads can opt into caching with cache attributes, SQL
comments starting with the `@cache-` prefix:

	item, err := db.Raw(ctx, "books", `
		-- @cache-ttl 30
		-- @cache-max-rows 10
		SELECT name, pages FROM books WHERE pages > $1`, 100)

Cache failures never fail a data operation. They are logged, counted in
Layer.Stats and passed to Config.OnError.
*/
package datacore
