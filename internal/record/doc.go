// Package record defines the unit of data moved by ndexport.
//
// A Record is an ordered list of named fields. Field values belong to a small
// closed set of kinds (null, bool, int, float, number literal, string, time,
// array, object), so every record has exactly one JSON rendering.
//
// Values enter a Record at one of two boundaries:
//   - FromSQL converts database/sql scan results, sanitizing text and keeping
//     column order.
//   - Record.UnmarshalJSON decodes search-engine documents, keeping key order
//     and number literals exactly as received.
//
// Encoding is strict: invalid UTF-8, non-finite floats and times that cannot
// be rendered as RFC 3339 are errors rather than silent substitutions. Repair
// returns a copy with text normalized and times rendered as ISO-8601 strings;
// callers retry encoding once with the repaired copy.
//
// Iterator is the single-pass, forward-only record sequence shared by the
// scroll and cursor sources.
package record
