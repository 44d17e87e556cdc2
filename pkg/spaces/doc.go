// Package spaces manages spaces, their team memberships and their creation.
//
// A space is either private (one owner) or team (members with roles). Each
// space carries count and byte limits derived from its level; the counters
// themselves are maintained by package quota.
//
// Space creation goes through Arbiter, which holds a per-user KeyedMutex
// scope around the existence check and insert so that concurrent requests
// cannot create two spaces of the same type for one user. A partial unique
// index on (owner_id, space_type) backs this for non-administrators.
package spaces
