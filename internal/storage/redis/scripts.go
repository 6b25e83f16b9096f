package redis

import "github.com/redis/go-redis/v9"

const (
	// addUsageScript atomically increments a ledger cell and indexes its date
	addUsageScript = `
local usage_key = KEYS[1]     -- focusguard:usage:{date}
local dates_key = KEYS[2]     -- focusguard:usage:dates

local domain = ARGV[1]
local date = ARGV[2]
local millis = tonumber(ARGV[3])

local total = redis.call('HINCRBY', usage_key, domain, millis)
redis.call('SADD', dates_key, date)

return total
`

	// mergeUsageScript raises a ledger cell to at least the given value
	mergeUsageScript = `
local usage_key = KEYS[1]     -- focusguard:usage:{date}
local dates_key = KEYS[2]     -- focusguard:usage:dates

local domain = ARGV[1]
local date = ARGV[2]
local value = tonumber(ARGV[3])

local current = tonumber(redis.call('HGET', usage_key, domain) or '0')
if value > current then
  redis.call('HSET', usage_key, domain, value)
  current = value
end
redis.call('SADD', dates_key, date)

return current
`

	// deleteUsageDateScript drops one date's hash and index entry, returning the cell count
	deleteUsageDateScript = `
local usage_key = KEYS[1]     -- focusguard:usage:{date}
local dates_key = KEYS[2]     -- focusguard:usage:dates

local date = ARGV[1]

local count = redis.call('HLEN', usage_key)
redis.call('DEL', usage_key)
redis.call('SREM', dates_key, date)

return count
`
)

var (
	addUsage        = redis.NewScript(addUsageScript)
	mergeUsage      = redis.NewScript(mergeUsageScript)
	deleteUsageDate = redis.NewScript(deleteUsageDateScript)
)
