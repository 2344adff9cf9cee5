// Package pagination merges multi-page Warcraft Logs responses into a single
// logical result.
//
// Two continuation protocols are supported, selected by Descriptor.Kind:
//
//   - KindCursor: the response carries a cursor field (report events use
//     nextPageTimestamp). While the cursor is present and not an end sentinel
//     (absent, null, 0 or ""), it is copied into the cursor request parameter
//     and the next page is requested.
//   - KindPageNumber: the response carries a boolean "more pages" flag and the
//     current page number (encounter rankings use hasMorePages and page). The
//     next request asks for the server-reported page plus one.
//
// Pages are fetched strictly one at a time because each request depends on
// the previous response. The first page is the base document; every later
// page contributes only its merge-field array, appended in page order without
// de-duplication. Continuation fields are removed from the merged document.
//
// Example usage:
//
//	desc := pagination.Cursor("nextPageTimestamp", "start", "events")
//	merged, err := pagination.FetchAll(ctx, desc, params, fetcher)
//
// A failed page aborts the loop and the pages merged so far are discarded.
package pagination
