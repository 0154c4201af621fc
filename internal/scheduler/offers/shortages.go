package offers

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
)

const DefaultShortagesKey = "scale:agent-shortages"

// ShortageRepository publishes the resources agents are short of, so that operators and autoscalers can act on them.
type ShortageRepository interface {
	StoreShortages(shortages map[string]*schedulerobjects.NodeResources) error
	GetShortages() (map[string]*schedulerobjects.NodeResources, error)
}

// RedisShortageRepository keeps the current shortages in a Redis hash with one field per agent.
// Each store replaces the whole hash.
type RedisShortageRepository struct {
	db  redis.UniversalClient
	key string
}

func NewRedisShortageRepository(db redis.UniversalClient, key string) *RedisShortageRepository {
	if key == "" {
		key = DefaultShortagesKey
	}
	return &RedisShortageRepository{db: db, key: key}
}

func (r *RedisShortageRepository) StoreShortages(shortages map[string]*schedulerobjects.NodeResources) error {
	pipe := r.db.TxPipeline()
	pipe.Del(r.key)
	for agentId, resources := range shortages {
		data, err := json.Marshal(resources.AsMap())
		if err != nil {
			return errors.WithStack(err)
		}
		pipe.HSet(r.key, agentId, data)
	}
	if _, err := pipe.Exec(); err != nil {
		return errors.Wrap(err, "error storing agent shortages in redis")
	}
	return nil
}

func (r *RedisShortageRepository) GetShortages() (map[string]*schedulerobjects.NodeResources, error) {
	result, err := r.db.HGetAll(r.key).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error retrieving agent shortages from redis")
	}
	rv := make(map[string]*schedulerobjects.NodeResources, len(result))
	for agentId, data := range result {
		var resources map[string]float64
		if err := json.Unmarshal([]byte(data), &resources); err != nil {
			return nil, errors.Wrapf(err, "error decoding shortage of agent %s", agentId)
		}
		rv[agentId] = schedulerobjects.NewNodeResources(resources)
	}
	return rv, nil
}
