package redisqueue

import "github.com/redis/go-redis/v9"

// Every multi-step Redis operation that must be atomic from the
// caller's perspective (spec.md §4.2) is a server-side script rather
// than a sequence of round trips, following the same EVAL convention
// the corpus uses for its compare-and-swap lock primitives.

// dequeueScript moves up to ARGV[1] payloads from the tail of the
// queue list (oldest first) to the head of the node's backup list and
// returns them. A payload is visible in exactly one of the two lists
// at all times, which is the crash-safety invariant spec.md §3/§4.2
// describes for the backup list.
var dequeueScript = redis.NewScript(`
local queueKey = KEYS[1]
local backupKey = KEYS[2]
local count = tonumber(ARGV[1])
local out = {}
for i = 1, count do
  local payload = redis.call("RPOP", queueKey)
  if not payload then
    break
  end
  redis.call("LPUSH", backupKey, payload)
  table.insert(out, payload)
end
return out
`)

// acknowledgeScript removes the first occurrence (from the head) of an
// exact payload match from a node's backup list.
var acknowledgeScript = redis.NewScript(`
return redis.call("LREM", KEYS[1], 1, ARGV[1])
`)

// descheduleScript atomically pops every member of a sorted set whose
// score is <= now and pushes each onto the head of the queue list
// named in its own payload, guaranteeing at-most-once migration even
// under concurrently running schedulers on other nodes. Each payload's
// enqueued_at is stamped with now, since spec.md §3 defines it as "when
// the job last entered a queue list" — the schedule/retry sorted sets
// don't count.
var descheduleScript = redis.NewScript(`
local setKey = KEYS[1]
local now = ARGV[1]
local due = redis.call("ZRANGEBYSCORE", setKey, "-inf", now)
local moved = 0
for _, payload in ipairs(due) do
  if redis.call("ZREM", setKey, payload) == 1 then
    local decoded = cjson.decode(payload)
    local queue = decoded["queue"]
    if queue == nil or queue == "" then
      queue = "default"
    end
    decoded["enqueued_at"] = tonumber(now)
    redis.call("LPUSH", "queue:" .. queue, cjson.encode(decoded))
    redis.call("SADD", "queues", queue)
    moved = moved + 1
  end
end
return moved
`)

// unlockScript deletes a unique key only if its current value equals
// the caller's jid, so one node can never release a lock another node
// went on to acquire after the first node's operation stalled.
var unlockScript = redis.NewScript(`
local key = KEYS[1]
local jid = ARGV[1]
local current = redis.call("GET", key)
if current == jid then
  redis.call("DEL", key)
  return 1
end
return 0
`)

// uniqueLockScript performs a SET NX PX and reports who ended up
// holding the lock: on success it returns the caller's own jid: on
// contention it returns the existing holder's jid untouched, so the
// caller can tell the two cases apart with a single round trip.
var uniqueLockScript = redis.NewScript(`
local key = KEYS[1]
local jid = ARGV[1]
local ttlMs = ARGV[2]
local ok = redis.call("SET", key, jid, "NX", "PX", ttlMs)
if ok then
  return jid
end
return redis.call("GET", key)
`)

// resurrectScript moves every payload in a node's backup list back
// onto its queue, iterating head-to-tail so the payload that had been
// in flight longest (the backup list's tail) lands at the queue's
// tail — the next slot a dequeue will read — and lands there last, so
// it stays at the front of the line.
var resurrectScript = redis.NewScript(`
local backupKey = KEYS[1]
local queueKey = KEYS[2]
local items = redis.call("LRANGE", backupKey, 0, -1)
for _, payload in ipairs(items) do
  redis.call("RPUSH", queueKey, payload)
end
redis.call("DEL", backupKey)
return #items
`)
