// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package queuestore

import "github.com/go-redis/redis/v8"

// The scripts build sibling key names from queue values, which pins the
// deployment to a single store endpoint. That is the documented topology:
// every instance shares one store.

// enqueueScript admits a player, moving them out of any prior queue first.
// KEYS[1] owner key, KEYS[2] queue key, KEYS[3] meta key.
// ARGV[1] player id, ARGV[2] mode, ARGV[3] enqueued_at_ms, ARGV[4] metadata.
// Returns 1 when a prior entry was replaced, 0 on a plain add.
var enqueueScript = redis.NewScript(`
local prior = redis.call('GET', KEYS[1])
local replaced = 0
if prior then
  redis.call('ZREM', 'mm:q:' .. prior, ARGV[1])
  redis.call('DEL', 'mm:meta:' .. prior .. ':' .. ARGV[1])
  replaced = 1
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[3]), ARGV[1])
redis.call('SET', KEYS[3], ARGV[4])
redis.call('SET', KEYS[1], ARGV[2])
return replaced
`)

// dequeueScript removes a player from one mode queue.
// KEYS[1] owner key, KEYS[2] queue key, KEYS[3] meta key.
// ARGV[1] player id, ARGV[2] mode.
// Returns 1 when an entry was removed, 0 when nothing was queued.
var dequeueScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
if removed == 1 then
  local owner = redis.call('GET', KEYS[1])
  if owner == ARGV[2] then
    redis.call('DEL', KEYS[1])
  end
end
return removed
`)

// tryMatchPopScript pops one full group anchored on the oldest waiter.
// KEYS[1] queue key.
// ARGV[1] mode, ARGV[2] group size, ARGV[3] window width,
// ARGV[4] max queue wait ms, ARGV[5] now ms, ARGV[6] scan limit.
// Returns a flat array of player id, enqueued_at_ms, metadata per member, or
// an empty array when no group closes.
var tryMatchPopScript = redis.NewScript(`
local entries = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[6]) - 1, 'WITHSCORES')
if #entries == 0 then
  return {}
end

local anchor = entries[1]
local anchor_at = tonumber(entries[2])
local anchor_meta = redis.call('GET', 'mm:meta:' .. ARGV[1] .. ':' .. anchor)
if not anchor_meta then
  redis.call('ZREM', KEYS[1], anchor)
  redis.call('DEL', 'mm:owner:' .. anchor)
  return {}
end

local waited = tonumber(ARGV[5]) - anchor_at
if waited < 0 then
  waited = 0
end
local steps = math.floor(waited / tonumber(ARGV[4]))
local window = tonumber(ARGV[3]) * (1 + steps)
local anchor_skill = tonumber(cjson.decode(anchor_meta)['skill']) or 0
local lo = anchor_skill - window
local hi = anchor_skill + window

local group_size = tonumber(ARGV[2])
local picked = {}
for i = 1, #entries, 2 do
  local player = entries[i]
  local meta
  if player == anchor then
    meta = anchor_meta
  else
    meta = redis.call('GET', 'mm:meta:' .. ARGV[1] .. ':' .. player)
  end
  if meta then
    local skill = tonumber(cjson.decode(meta)['skill']) or 0
    if skill >= lo and skill <= hi then
      table.insert(picked, {player, entries[i + 1], meta})
      if #picked == group_size then
        break
      end
    end
  end
end

if #picked < group_size then
  return {}
end

local result = {}
for _, e in ipairs(picked) do
  redis.call('ZREM', KEYS[1], e[1])
  redis.call('DEL', 'mm:meta:' .. ARGV[1] .. ':' .. e[1])
  redis.call('DEL', 'mm:owner:' .. e[1])
  table.insert(result, e[1])
  table.insert(result, e[2])
  table.insert(result, e[3])
end
return result
`)
