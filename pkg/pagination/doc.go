// Package pagination walks cursor-paginated Sunwave endpoints.
//
// A page is the last one when its body carries no continuation marker
// (the "next_page" field of a top-level mapping). Pages of one partition are
// strictly sequential: the marker for page N+1 only exists once page N has
// been received and accepted, so there is no parallel fetching here.
// Independent partitions and streams are scheduled concurrently one level up.
//
// Example usage:
//
//	p := pagination.NewPaginator(pagination.DefaultConfig(), logger)
//	err := p.Walk(ctx, "census", func(ctx context.Context, token string) (pagination.Page, error) {
//		return fetchPage(ctx, token)
//	}, func(page pagination.Page) error {
//		return emit(page.Records)
//	})
package pagination
