// Package normalize converts raw ad payloads from the ad library into
// models.AdRecord values.
//
// The source is loose about field names, so each canonical field accepts a
// list of aliases (ad_id, adId, id and so on). The first present alias wins
// and the rest are kept in metadata. Payloads are decoded with mapstructure
// in weakly typed mode; every key that is not a canonical field lands in the
// record's metadata as a string, with nested objects encoded as JSON with
// sorted keys.
//
// Timestamps may be epoch seconds, epoch milliseconds or ISO 8601 strings.
// Impressions may be numbers or buckets such as "10K-100K", which resolve to
// their lower bound.
//
// Normalize is deterministic and never mutates its input. Failures are
// reported as *errors.ParseError naming the offending field.
package normalize
