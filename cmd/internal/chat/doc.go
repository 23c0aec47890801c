// Package chat contains courier's conversation-state engine: the message
// store (memory and Postgres), the read-receipt status lattice, and the
// conversation summary projection.
//
// All ordering is scoped to a thread (wa_id). Display order is the
// store-assigned per-thread sequence, never the wall clock, so late or
// skewed timestamps from bulk import can never reorder committed history.
package chat
