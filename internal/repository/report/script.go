package report

import "github.com/kailas-cloud/matchd/internal/db"

// applyMatchScript return codes.
const (
	applyNotFound  = -1
	applyUnchanged = 0
	applyAppended  = 1
)

// applyMatchScript adds a partner to one report atomically.
// KEYS[1] report key, ARGV[1] partner id (JSON string), ARGV[2] match detail (JSON object).
// The id list and the detail list are appended together, so they never diverge.
var applyMatchScript = db.NewScript("apply_match", `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end

local function ensure_array(path)
  local t = redis.call('JSON.TYPE', KEYS[1], path)
  if type(t) ~= 'table' or t[1] ~= 'array' then
    redis.call('JSON.SET', KEYS[1], path, '[]')
  end
end

ensure_array('$.matchedReportIds')
ensure_array('$.matchDetails')
redis.call('JSON.SET', KEYS[1], '$.status', '"matched"')

local idx = redis.call('JSON.ARRINDEX', KEYS[1], '$.matchedReportIds', ARGV[1])
if type(idx) == 'table' and idx[1] ~= nil and idx[1] >= 0 then
  return 0
end

redis.call('JSON.ARRAPPEND', KEYS[1], '$.matchedReportIds', ARGV[1])
redis.call('JSON.ARRAPPEND', KEYS[1], '$.matchDetails', ARGV[2])
return 1
`)
