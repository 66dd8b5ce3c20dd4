// Package sequencer drives one multi-touch outreach sequence per lead.
//
// States:
//
//	created -> active -> paused | completed | opted_out
//
// An active sequence carries a cursor, the index of the next touch to send.
// The cursor only moves forward, one touch at a time, and only after the
// sender reports the touch delivered or bounced. A failed send keeps the
// cursor and retries under bounded exponential backoff; once retries are
// exhausted the sequence pauses and an incident is queued for review.
//
// Every send re-runs the compliance gate immediately before transmission.
// A gate block pauses the sequence and it never resumes on its own. A rate
// limit defers the touch to the next day without pausing.
//
// Touches for one lead never overlap: SendDue and HandleReply hold a
// per-lead lock for their whole duration.
package sequencer
