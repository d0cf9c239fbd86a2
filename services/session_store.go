package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chirhoevents/Chirhoevents-sub010/internal/status"
	"github.com/chirhoevents/Chirhoevents-sub010/models"
)

// Redis layout, one queue per (event, registration type):
//
//	queue:index                          SET  "event|type" registry
//	queue:seq:{event}:{type}             monotonic enrollment counter
//	queue:waiting:{event}:{type}         ZSET member=clientKey score=sequence
//	queue:active:{event}:{type}          ZSET member=clientKey score=expiresAt (unix)
//	queue:session:{event}:{type}:{client} HASH one session
//	queue:terminal                       LIST terminal sessions awaiting archival
//
// Every transition that touches slot accounting runs as a single Lua
// script so racing checks, completes and reaper sweeps can never
// over-admit or double-release a slot.

const (
	indexKey    = "queue:index"
	terminalKey = "queue:terminal"
)

func seqKey(eventID, regType string) string {
	return fmt.Sprintf("queue:seq:%s:%s", eventID, regType)
}

func waitingKey(eventID, regType string) string {
	return fmt.Sprintf("queue:waiting:%s:%s", eventID, regType)
}

func activeKey(eventID, regType string) string {
	return fmt.Sprintf("queue:active:%s:%s", eventID, regType)
}

func sessionKeyPrefix(eventID, regType string) string {
	return fmt.Sprintf("queue:session:%s:%s:", eventID, regType)
}

func sessionKey(eventID, regType, clientKey string) string {
	return sessionKeyPrefix(eventID, regType) + clientKey
}

// archiveHelper is shared by the scripts below: it stamps the terminal
// status, snapshots the hash onto the terminal list and drops the hash.
const archiveHelper = `
local function archive(key, terminal, st, endedAt)
  local raw = redis.call('HGETALL', key)
  local t = {}
  for i = 1, #raw, 2 do t[raw[i]] = raw[i+1] end
  redis.call('RPUSH', terminal, cjson.encode({
    id = t['id'] or '',
    event_id = t['event_id'] or '',
    registration_type = t['registration_type'] or '',
    client_key = t['client_key'] or '',
    status = st,
    sequence = tonumber(t['sequence']) or 0,
    created_at = tonumber(t['created_at']) or 0,
    admitted_at = tonumber(t['admitted_at']) or 0,
    expires_at = tonumber(t['expires_at']) or 0,
    ended_at = endedAt,
    extension_used = t['extension_used'] == '1',
  }))
  redis.call('DEL', key)
end
`

// checkAndAdmitScript implements the check() transition. It first
// lazily expires actives past their deadline (so the slot count it
// admits against is live), then either reports the caller's existing
// session, admits it straight into a free slot, or enqueues it.
// Direct admission is only taken when nobody is waiting; otherwise a
// newcomer would jump the FIFO order ahead of queued clients.
//
// KEYS: sessionKey, waitingKey, activeKey, seqKey, terminalKey, indexKey
// ARGV: now, capacity, sessionDurationSec, extensionAllowed, sessionID,
//       clientKey, eventID, regType, sessionPrefix
const checkAndAdmitScript = archiveHelper + `
local sessionK = KEYS[1]
local waitingK = KEYS[2]
local activeK  = KEYS[3]
local seqK     = KEYS[4]
local termK    = KEYS[5]
local indexK   = KEYS[6]

local now        = tonumber(ARGV[1])
local capacity   = tonumber(ARGV[2])
local duration   = tonumber(ARGV[3])
local extAllowed = ARGV[4]
local sessionID  = ARGV[5]
local clientKey  = ARGV[6]
local eventID    = ARGV[7]
local regType    = ARGV[8]
local prefix     = ARGV[9]

redis.call('SADD', indexK, eventID .. '|' .. regType)

local stale = redis.call('ZRANGEBYSCORE', activeK, '-inf', now)
for _, m in ipairs(stale) do
  redis.call('ZREM', activeK, m)
  archive(prefix .. m, termK, 'expired', now)
end

local st = redis.call('HGET', sessionK, 'status')
if st == 'waiting' then
  redis.call('HSET', sessionK, 'last_seen_at', now)
  local rank = redis.call('ZRANK', waitingK, clientKey)
  if rank == false then rank = 0 end
  return {'waiting', rank + 1, redis.call('HGET', sessionK, 'id')}
end
if st == 'active' then
  redis.call('HSET', sessionK, 'last_seen_at', now)
  return {'active',
    redis.call('HGET', sessionK, 'expires_at'),
    redis.call('HGET', sessionK, 'id'),
    redis.call('HGET', sessionK, 'extension_allowed'),
    redis.call('HGET', sessionK, 'extension_used')}
end

local seq = redis.call('INCR', seqK)
local activeCount = redis.call('ZCARD', activeK)
local waitingCount = redis.call('ZCARD', waitingK)
if activeCount < capacity and waitingCount == 0 then
  local expires = now + duration
  redis.call('HSET', sessionK,
    'id', sessionID, 'event_id', eventID, 'registration_type', regType,
    'client_key', clientKey, 'status', 'active', 'sequence', seq,
    'created_at', now, 'admitted_at', now, 'expires_at', expires,
    'last_seen_at', now, 'extension_allowed', extAllowed, 'extension_used', '0')
  redis.call('ZADD', activeK, expires, clientKey)
  return {'admitted', expires, sessionID, extAllowed, '0'}
end

redis.call('HSET', sessionK,
  'id', sessionID, 'event_id', eventID, 'registration_type', regType,
  'client_key', clientKey, 'status', 'waiting', 'sequence', seq,
  'created_at', now, 'last_seen_at', now,
  'extension_allowed', extAllowed, 'extension_used', '0')
redis.call('ZADD', waitingK, seq, clientKey)
local rank = redis.call('ZRANK', waitingK, clientKey)
if rank == false then rank = 0 end
return {'waiting', rank + 1, sessionID}
`

// completeScript releases an active slot exactly once.
// KEYS: sessionKey, activeKey, terminalKey
// ARGV: now, clientKey
const completeScript = archiveHelper + `
local st = redis.call('HGET', KEYS[1], 'status')
if st ~= 'active' then return 0 end
redis.call('ZREM', KEYS[2], ARGV[2])
archive(KEYS[1], KEYS[3], 'completed', tonumber(ARGV[1]))
return 1
`

// extendScript grants the single bounded extension. A session found
// already past its deadline is archived on the spot rather than left
// for the next sweep. Return codes map onto the status sentinels so
// callers can tell "already used" apart from "not found".
// KEYS: sessionKey, activeKey, terminalKey
// ARGV: now, extensionSec, clientKey
const extendScript = archiveHelper + `
local st = redis.call('HGET', KEYS[1], 'status')
if st == false then return {-1} end
if st ~= 'active' then return {-2} end
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires_at')) or 0
local now = tonumber(ARGV[1])
if expires <= now then
  redis.call('ZREM', KEYS[2], ARGV[3])
  archive(KEYS[1], KEYS[3], 'expired', now)
  return {-3}
end
if redis.call('HGET', KEYS[1], 'extension_allowed') ~= '1' then return {-4} end
if redis.call('HGET', KEYS[1], 'extension_used') == '1' then return {-5} end
local newExpires = expires + tonumber(ARGV[2])
redis.call('HSET', KEYS[1], 'expires_at', newExpires, 'extension_used', '1', 'last_seen_at', now)
redis.call('ZADD', KEYS[2], newExpires, ARGV[3])
return {1, newExpires}
`

// sweepScript is the reaper's pass over one queue: expire actives past
// deadline, abandon waiters silent past the grace window, then promote
// the longest-waiting clients into the freed slots in strict sequence
// order. Safe to run concurrently with checkAndAdmitScript because
// both run atomically against the same keys.
// KEYS: waitingKey, activeKey, terminalKey
// ARGV: now, capacity, sessionDurationSec, graceSec, sessionPrefix
const sweepScript = archiveHelper + `
local waitingK = KEYS[1]
local activeK  = KEYS[2]
local termK    = KEYS[3]

local now      = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local duration = tonumber(ARGV[3])
local grace    = tonumber(ARGV[4])
local prefix   = ARGV[5]

local expired = {}
local stale = redis.call('ZRANGEBYSCORE', activeK, '-inf', now)
for _, m in ipairs(stale) do
  redis.call('ZREM', activeK, m)
  archive(prefix .. m, termK, 'expired', now)
  table.insert(expired, m)
end

local abandoned = {}
local waiters = redis.call('ZRANGE', waitingK, 0, -1)
for _, m in ipairs(waiters) do
  local seen = tonumber(redis.call('HGET', prefix .. m, 'last_seen_at')) or 0
  if now - seen > grace then
    redis.call('ZREM', waitingK, m)
    archive(prefix .. m, termK, 'abandoned', now)
    table.insert(abandoned, m)
  end
end

local promoted = {}
local free = capacity - redis.call('ZCARD', activeK)
if free > 0 then
  local heads = redis.call('ZRANGE', waitingK, 0, free - 1)
  for _, m in ipairs(heads) do
    redis.call('ZREM', waitingK, m)
    local expires = now + duration
    redis.call('HSET', prefix .. m, 'status', 'active', 'admitted_at', now, 'expires_at', expires)
    redis.call('ZADD', activeK, expires, m)
    table.insert(promoted, m)
  end
end

return {expired, abandoned, promoted}
`

// CheckOutcome is the store-level result of a check() call. Admitted
// is true only when this call itself took the slot, which is when an
// admission event should be published.
type CheckOutcome struct {
	SessionID        string
	Status           string
	Admitted         bool
	Position         int
	ExpiresAt        time.Time
	ExtensionAllowed bool
	ExtensionUsed    bool
}

// SweepResult lists the clients a reaper pass transitioned.
type SweepResult struct {
	Expired   []string
	Abandoned []string
	Promoted  []string
}

// QueueRef identifies one configured queue seen by the store.
type QueueRef struct {
	EventID          string
	RegistrationType string
}

type SessionStore struct {
	Redis *redis.Client

	// newID yields session ids; swapped out in tests.
	newID func() string
}

func NewSessionStore(redisClient *redis.Client) *SessionStore {
	return &SessionStore{Redis: redisClient, newID: uuid.NewString}
}

// CheckIn runs the atomic admit-or-enqueue transition for one client.
func (s *SessionStore) CheckIn(ctx context.Context, cfg *models.QueueConfig, clientKey string, now time.Time) (*CheckOutcome, error) {
	keys := []string{
		sessionKey(cfg.EventID, cfg.RegistrationType, clientKey),
		waitingKey(cfg.EventID, cfg.RegistrationType),
		activeKey(cfg.EventID, cfg.RegistrationType),
		seqKey(cfg.EventID, cfg.RegistrationType),
		terminalKey,
		indexKey,
	}
	res, err := s.Redis.Eval(ctx, checkAndAdmitScript, keys,
		now.Unix(),
		cfg.MaxActive,
		int(cfg.SessionDuration.Seconds()),
		boolFlag(cfg.ExtensionAllowed),
		s.newID(),
		clientKey,
		cfg.EventID,
		cfg.RegistrationType,
		sessionKeyPrefix(cfg.EventID, cfg.RegistrationType),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("check-in script: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) < 3 {
		return nil, fmt.Errorf("check-in script: unexpected reply %v", res)
	}

	out := &CheckOutcome{Status: asString(reply[0])}
	switch out.Status {
	case models.StatusWaiting:
		out.Position = int(asInt64(reply[1]))
		out.SessionID = asString(reply[2])
	case "admitted", models.StatusActive:
		out.Admitted = out.Status == "admitted"
		out.Status = models.StatusActive
		out.ExpiresAt = time.Unix(asInt64(reply[1]), 0)
		out.SessionID = asString(reply[2])
		if len(reply) >= 5 {
			out.ExtensionAllowed = asString(reply[3]) == "1"
			out.ExtensionUsed = asString(reply[4]) == "1"
		}
	default:
		return nil, fmt.Errorf("check-in script: unknown state %q", out.Status)
	}
	return out, nil
}

// Complete releases the caller's active slot. It reports false when no
// active session exists, which callers treat as already-terminal.
func (s *SessionStore) Complete(ctx context.Context, eventID, regType, clientKey string, now time.Time) (bool, error) {
	keys := []string{
		sessionKey(eventID, regType, clientKey),
		activeKey(eventID, regType),
		terminalKey,
	}
	res, err := s.Redis.Eval(ctx, completeScript, keys, now.Unix(), clientKey).Result()
	if err != nil {
		return false, fmt.Errorf("complete script: %w", err)
	}
	return asInt64(res) == 1, nil
}

// Extend applies the single allowed extension and returns the new
// deadline. Failure modes come back as distinct status sentinels.
func (s *SessionStore) Extend(ctx context.Context, eventID, regType, clientKey string, extension time.Duration, now time.Time) (time.Time, error) {
	keys := []string{
		sessionKey(eventID, regType, clientKey),
		activeKey(eventID, regType),
		terminalKey,
	}
	res, err := s.Redis.Eval(ctx, extendScript, keys,
		now.Unix(), int(extension.Seconds()), clientKey).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("extend script: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return time.Time{}, fmt.Errorf("extend script: unexpected reply %v", res)
	}
	switch asInt64(reply[0]) {
	case 1:
		return time.Unix(asInt64(reply[1]), 0), nil
	case -1:
		return time.Time{}, status.ErrSessionNotFound
	case -2:
		return time.Time{}, status.ErrSessionNotActive
	case -3:
		return time.Time{}, status.ErrSessionExpired
	case -4:
		return time.Time{}, status.ErrExtensionNotAllowed
	case -5:
		return time.Time{}, status.ErrExtensionAlreadyUsed
	}
	return time.Time{}, fmt.Errorf("extend script: unknown code %v", reply[0])
}

// Sweep runs one reaper pass over a queue.
func (s *SessionStore) Sweep(ctx context.Context, cfg *models.QueueConfig, grace time.Duration, now time.Time) (*SweepResult, error) {
	keys := []string{
		waitingKey(cfg.EventID, cfg.RegistrationType),
		activeKey(cfg.EventID, cfg.RegistrationType),
		terminalKey,
	}
	res, err := s.Redis.Eval(ctx, sweepScript, keys,
		now.Unix(),
		cfg.MaxActive,
		int(cfg.SessionDuration.Seconds()),
		int(grace.Seconds()),
		sessionKeyPrefix(cfg.EventID, cfg.RegistrationType),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("sweep script: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) < 3 {
		return nil, fmt.Errorf("sweep script: unexpected reply %v", res)
	}
	return &SweepResult{
		Expired:   asStrings(reply[0]),
		Abandoned: asStrings(reply[1]),
		Promoted:  asStrings(reply[2]),
	}, nil
}

// Session reads one session hash back into its model form. It reports
// status.ErrSessionNotFound for clients the store has never seen or
// has already archived.
func (s *SessionStore) Session(ctx context.Context, eventID, regType, clientKey string) (*models.QueueSession, error) {
	fields, err := s.Redis.HGetAll(ctx, sessionKey(eventID, regType, clientKey)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, status.ErrSessionNotFound
	}
	return &models.QueueSession{
		ID:               fields["id"],
		EventID:          fields["event_id"],
		RegistrationType: fields["registration_type"],
		ClientKey:        fields["client_key"],
		Status:           fields["status"],
		Sequence:         asInt64(fields["sequence"]),
		CreatedAt:        unixField(fields["created_at"]),
		AdmittedAt:       unixField(fields["admitted_at"]),
		ExpiresAt:        unixField(fields["expires_at"]),
		LastSeenAt:       unixField(fields["last_seen_at"]),
		ExtensionAllowed: fields["extension_allowed"] == "1",
		ExtensionUsed:    fields["extension_used"] == "1",
	}, nil
}

// Queues lists every queue the store has seen a check for.
func (s *SessionStore) Queues(ctx context.Context) ([]QueueRef, error) {
	members, err := s.Redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	refs := make([]QueueRef, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, "|", 2)
		if len(parts) != 2 {
			continue
		}
		refs = append(refs, QueueRef{EventID: parts[0], RegistrationType: parts[1]})
	}
	return refs, nil
}

// Counts returns the live waiting/active depth of one queue.
func (s *SessionStore) Counts(ctx context.Context, eventID, regType string) (waiting, active int64, err error) {
	waiting, err = s.Redis.ZCard(ctx, waitingKey(eventID, regType)).Result()
	if err != nil {
		return 0, 0, err
	}
	active, err = s.Redis.ZCard(ctx, activeKey(eventID, regType)).Result()
	if err != nil {
		return 0, 0, err
	}
	return waiting, active, nil
}

// WaitingClients returns the FIFO-ordered waiting clients of a queue.
func (s *SessionStore) WaitingClients(ctx context.Context, eventID, regType string) ([]string, error) {
	return s.Redis.ZRange(ctx, waitingKey(eventID, regType), 0, -1).Result()
}

// DrainTerminal pops up to max terminal sessions for archival. Entries
// that fail to decode are skipped so one bad record cannot wedge the
// archive loop.
func (s *SessionStore) DrainTerminal(ctx context.Context, max int) ([]models.TerminalSession, error) {
	raw, err := s.Redis.LPopCount(ctx, terminalKey, max).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sessions := make([]models.TerminalSession, 0, len(raw))
	for _, item := range raw {
		var ts models.TerminalSession
		if err := json.Unmarshal([]byte(item), &ts); err != nil {
			continue
		}
		sessions = append(sessions, ts)
	}
	return sessions, nil
}

func unixField(v string) time.Time {
	sec := asInt64(v)
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return fmt.Sprintf("%v", v)
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	}
	return 0
}

func asStrings(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, asString(item))
	}
	return out
}
