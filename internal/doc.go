// Package tankwatch implements a monitoring service for water tanks whose
// sensors log into spreadsheets.
//
// # Architecture
//
// The service is structured into several key packages:
//   - api: Rate-limited HTTP client for the spreadsheet query endpoint
//   - gviz: Response envelope, date literals and query builder
//   - readings: Row to timestamped reading reconstruction
//   - thresholds: Static, settings-feed and inline-column thresholds
//   - analytics: Trailing-window trend, extremes and breach durations
//   - session: Per-source state and the views derived from it
//   - scheduler: Periodic refresh of every source
//   - netstate: Connectivity probe driving the offline indicator
//   - server: Read-only JSON API with caching and metrics
//   - config: Application config and the sources document
//
// Key Features
//
//   - Partial data:
//     Unreadable rows are dropped and logged; the rest of the feed is used.
//     A failed refresh keeps the last good readings and sets an error
//     indicator instead.
//
//   - Classification:
//     Heights strictly above the flood threshold are flooded, strictly below
//     the drought threshold are in drought, everything else is normal.
//
//   - Analytics:
//     Average, extremes, rate of change, trend and the time spent flooded or
//     in drought over the last hour.
//
// Example Usage
//
//	curl localhost:8080/api/sources/tank1
//	curl localhost:8080/api/sources/tank1/readings?limit=10
//	curl localhost:8080/api/sources/tank1/insights
//
// For more information about specific packages, see their respective
// documentation.
package tankwatch
