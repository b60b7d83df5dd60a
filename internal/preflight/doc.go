// Package preflight provides readiness checks for the filesystem paths and
// remote model endpoints lectern depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failing check.
//   - "lectern config validate" prints RunAll results, and with --probe also
//     calls CheckEndpoint against the configured model APIs.
//
// Checks never fail the caller; they return a Result describing the problem.
package preflight
