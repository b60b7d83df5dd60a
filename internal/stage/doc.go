// Package stage describes the fixed lecture pipeline: the ordered stage
// sequence, the closed status vocabulary each stage moves through, and the
// single transition validator every mutation site consults.
//
// Nothing in this package touches storage. The queue store calls
// ValidateTransition before issuing a compare-and-set, and the scheduler uses
// IsSatisfied and FirstUnsatisfied to decide which stage runs next. Keeping the
// rules here means an illegal edge fails on its first attempt instead of
// silently corrupting a row.
package stage
