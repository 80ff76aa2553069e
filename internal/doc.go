// Package kskmon implements a monitoring service for KSK Kaluga
// personal accounts.
//
// # Architecture
//
// The service is structured into several key packages:
//   - ksk: HTTP client, authentication and API gateway for the provider
//   - coordinator: refresh cycle, snapshot cache and request coalescing
//   - entities: sensor and button definitions evaluated over snapshots
//   - scheduler: periodic refresh scheduling
//   - app: per-configuration lifecycle and the HTTP surface
//
// Key Features
//
//   - Resilient authentication:
//     The sign-in endpoint has changed its accepted payload shape several
//     times; the authenticator tries every known variant in order until
//     one yields a token.
//
//   - Degraded operation:
//     Optional endpoints (history, payment details) may fail without
//     failing a refresh; the last good snapshot stays available and its
//     age is reported.
//
//   - Coalesced refreshes:
//     Concurrent refresh requests join a single in-flight cycle, and a
//     cooldown window reuses the most recent outcome.
//
// Example Usage
//
//	application := app.New(logger)
//	if err := application.Setup(ctx, cfg); err != nil {
//	    logger.Fatal(err)
//	}
//	http.ListenAndServe(":8080", application.Handler())
//
// For more information about specific packages, see their respective
// documentation.
package kskmon
