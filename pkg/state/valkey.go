package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ValkeyConfig configures the networked backend.
type ValkeyConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// KeyPrefix is prepended to every key, separating this server's
	// data from other users of the same database.
	KeyPrefix string

	// Logger receives fallback-path diagnostics.
	Logger *slog.Logger
}

// patchScript merges the incoming JSON value into the existing entry
// server-side and re-applies any positive remaining TTL, keeping the
// read-merge-write atomic.
const patchScript = `
local function isarray(t)
  local n = 0
  for k in pairs(t) do
    if type(k) ~= 'number' then return false end
    n = n + 1
  end
  return n == #t
end

local incoming = cjson.decode(ARGV[1])
local cur = redis.call('GET', KEYS[1])
local merged = incoming
if cur then
  local ok, existing = pcall(cjson.decode, cur)
  if ok and type(existing) == 'table' and type(incoming) == 'table' then
    if (not isarray(existing)) and (not isarray(incoming)) then
      merged = existing
      for k, v in pairs(incoming) do merged[k] = v end
    elseif isarray(existing) and isarray(incoming) then
      merged = existing
      local off = #existing
      for i, v in ipairs(incoming) do merged[off + i] = v end
    end
  end
end
local ttl = redis.call('PTTL', KEYS[1])
local encoded = cjson.encode(merged)
if ttl > 0 then
  redis.call('SET', KEYS[1], encoded, 'PX', ttl)
else
  redis.call('SET', KEYS[1], encoded)
end
return encoded
`

// Valkey stores JSON-serialized values in a valkey/redis server.
// Increment and (when scripting is available) Patch are atomic
// server-side; everything else is single-command.
type Valkey struct {
	client valkey.Client
	prefix string
	lg     *slog.Logger

	// scripting flips to false after the first EVAL failure so later
	// patches go straight to the non-atomic fallback.
	scripting atomic.Bool
}

// NewValkey connects and pings the server.
func NewValkey(cfg ValkeyConfig) (*Valkey, error) {
	if cfg.Host == "" {
		return nil, errors.New("state: valkey host required")
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("state: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("state: valkey ping: %w", err)
	}

	v := &Valkey{client: client, prefix: cfg.KeyPrefix, lg: cfg.Logger}
	v.scripting.Store(true)
	return v, nil
}

// NewValkeyWithClient wraps an existing client. Test hook.
func NewValkeyWithClient(client valkey.Client, keyPrefix string) *Valkey {
	v := &Valkey{client: client, prefix: keyPrefix, lg: slog.Default()}
	v.scripting.Store(true)
	return v
}

func (v *Valkey) key(k string) string { return v.prefix + k }

func (v *Valkey) Get(ctx context.Context, key string) (any, bool, error) {
	resp := v.client.Do(ctx, v.client.B().Get().Key(v.key(key)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("state: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("state: valkey get bytes: %w", err)
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		// Raw counters written by INCRBYFLOAT are bare numerics and
		// already covered by json; anything else passes through as a
		// string.
		return string(payload), true, nil
	}
	return value, true, nil
}

func (v *Valkey) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: valkey marshal: %w", err)
	}
	var cmd valkey.Completed
	if ttl > 0 {
		cmd = v.client.B().Set().Key(v.key(key)).Value(string(payload)).Px(ttl).Build()
	} else {
		cmd = v.client.B().Set().Key(v.key(key)).Value(string(payload)).Build()
	}
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("state: valkey set: %w", err)
	}
	return nil
}

func (v *Valkey) Delete(ctx context.Context, key string) error {
	if err := v.client.Do(ctx, v.client.B().Del().Key(v.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("state: valkey del: %w", err)
	}
	return nil
}

func (v *Valkey) Increment(ctx context.Context, key string, by float64) (float64, error) {
	resp := v.client.Do(ctx, v.client.B().Incrbyfloat().Key(v.key(key)).Increment(by).Build())
	if err := resp.Error(); err != nil {
		if !strings.Contains(err.Error(), "not a valid float") {
			return 0, fmt.Errorf("state: valkey incr: %w", err)
		}
		// Non-numeric prior value: treat as 0, preserve remaining TTL.
		if err := v.setKeepTTL(ctx, key, by); err != nil {
			return 0, err
		}
		return by, nil
	}
	s, err := resp.ToString()
	if err != nil {
		return 0, fmt.Errorf("state: valkey incr result: %w", err)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("state: valkey incr parse: %w", err)
	}
	if n == math.Trunc(n) {
		return math.Trunc(n), nil
	}
	return n, nil
}

func (v *Valkey) setKeepTTL(ctx context.Context, key string, value float64) error {
	ttlResp := v.client.Do(ctx, v.client.B().Pttl().Key(v.key(key)).Build())
	remaining, _ := ttlResp.ToInt64()
	payload := strconv.FormatFloat(value, 'f', -1, 64)
	var cmd valkey.Completed
	if remaining > 0 {
		cmd = v.client.B().Set().Key(v.key(key)).Value(payload).Px(time.Duration(remaining) * time.Millisecond).Build()
	} else {
		cmd = v.client.B().Set().Key(v.key(key)).Value(payload).Build()
	}
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("state: valkey set: %w", err)
	}
	return nil
}

func (v *Valkey) Patch(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: valkey marshal: %w", err)
	}

	if v.scripting.Load() {
		cmd := v.client.B().Eval().Script(patchScript).Numkeys(1).Key(v.key(key)).Arg(string(payload)).Build()
		err := v.client.Do(ctx, cmd).Error()
		if err == nil {
			return nil
		}
		// Engines without scripting degrade to read-merge-write.
		// Last write wins under concurrency on this path.
		v.scripting.Store(false)
		v.lg.Warn("state: valkey scripting unavailable, patch degrades to non-atomic", "error", err)
	}

	existing, _, err := v.Get(ctx, key)
	if err != nil {
		return err
	}
	merged := Merge(existing, value)

	ttlResp := v.client.Do(ctx, v.client.B().Pttl().Key(v.key(key)).Build())
	remaining, _ := ttlResp.ToInt64()

	var ttl time.Duration
	if remaining > 0 {
		ttl = time.Duration(remaining) * time.Millisecond
	}
	return v.Set(ctx, key, merged, ttl)
}

func (v *Valkey) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	cursor := uint64(0)
	for {
		resp := v.client.Do(ctx, v.client.B().Scan().Cursor(cursor).Match(v.key(prefix)+"*").Count(256).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("state: valkey scan: %w", err)
		}
		for _, k := range entry.Elements {
			keys = append(keys, strings.TrimPrefix(k, v.prefix))
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (v *Valkey) Close() error {
	v.client.Close()
	return nil
}
