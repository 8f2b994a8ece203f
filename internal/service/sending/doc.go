// Package sending implements the provider pool: the ordered set of outbound
// mail accounts, their daily quotas, round-robin rotation inside a provider
// and failover across providers.
//
// Quota consumption is never tracked in memory across calls. It is counted
// from the delivery ledger for the current calendar day of the operating
// timezone, so every process sharing a ledger sees the same numbers.
package sending
