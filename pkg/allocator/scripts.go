// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package allocator

import "github.com/go-redis/redis/v8"

// reserveScript picks the least loaded live server and takes one capacity
// unit. Stale heartbeats never win a reservation even before the sweeper
// runs.
// KEYS[1] pool key. ARGV[1] now ms, ARGV[2] heartbeat ttl ms.
// Returns the chosen server url, or false when no live server has capacity.
var reserveScript = redis.NewScript(`
local pool = redis.call('HGETALL', KEYS[1])
local best_url = nil
local best_record = nil
local best_capacity = 0
for i = 1, #pool, 2 do
  local record = cjson.decode(pool[i + 1])
  local capacity = tonumber(record['capacity']) or 0
  local last_seen = tonumber(record['last_seen_ms']) or 0
  if capacity > 0 and (tonumber(ARGV[1]) - last_seen) <= tonumber(ARGV[2]) then
    if capacity > best_capacity then
      best_url = pool[i]
      best_record = record
      best_capacity = capacity
    end
  end
end
if not best_url then
  return false
end
best_record['capacity'] = best_capacity - 1
redis.call('HSET', KEYS[1], best_url, cjson.encode(best_record))
return best_url
`)

// releaseScript gives one capacity unit back. With a session record present
// the record names the server and is deleted; otherwise ARGV carries the url
// directly, which is the compensation path after a failed callback.
// KEYS[1] pool key, KEYS[2] session key. ARGV[1] fallback server url.
// Returns 1 when capacity was restored, 0 when there was nothing to release.
var releaseScript = redis.NewScript(`
local url = ARGV[1]
local raw = redis.call('GET', KEYS[2])
if raw then
  url = cjson.decode(raw)['server_url']
  redis.call('DEL', KEYS[2])
elseif url == '' then
  return 0
end
local record_raw = redis.call('HGET', KEYS[1], url)
if record_raw then
  local record = cjson.decode(record_raw)
  record['capacity'] = (tonumber(record['capacity']) or 0) + 1
  redis.call('HSET', KEYS[1], url, cjson.encode(record))
end
return 1
`)

// sweepScript purges servers whose heartbeat aged out. Safe to run from any
// instance at any time.
// KEYS[1] pool key. ARGV[1] now ms, ARGV[2] heartbeat ttl ms.
// Returns the number of purged servers.
var sweepScript = redis.NewScript(`
local pool = redis.call('HGETALL', KEYS[1])
local purged = 0
for i = 1, #pool, 2 do
  local record = cjson.decode(pool[i + 1])
  local last_seen = tonumber(record['last_seen_ms']) or 0
  if (tonumber(ARGV[1]) - last_seen) > tonumber(ARGV[2]) then
    redis.call('HDEL', KEYS[1], pool[i])
    purged = purged + 1
  end
end
return purged
`)
