// Package precache pre-populates the static cache generation at install time.
//
// Every manifest path is fetched in parallel through a bounded worker pool.
// Population is all-or-nothing on the network side: every asset must arrive
// with a 2xx status before the first one is written. Any failure aborts the
// batch and cancels the remaining fetches.
//
// Example usage:
//
//	populator := precache.NewPopulator(netClient, precache.DefaultConfig())
//	n, err := populator.Populate(ctx, origin, manifest.Paths(), staticHandle)
package precache
