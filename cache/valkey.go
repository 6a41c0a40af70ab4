package cache

import (
	"context"
	"time"

	"github.com/valkey-io/valkey-go"
)

const valkeyKeyPrefix = "genflow:result:"

// ValkeyStore is the shared backend for multi-instance deployments. Entries
// expire server-side, so the store has no Sweep.
type ValkeyStore struct {
	client valkey.Client
}

func NewValkeyStore(client valkey.Client) *ValkeyStore {
	return &ValkeyStore{client: client}
}

func (s *ValkeyStore) Load(ctx context.Context, key string) ([]byte, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(valkeyKeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.AsBytes()
}

func (s *ValkeyStore) Save(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Do(
		ctx, s.client.B().Set().
			Key(valkeyKeyPrefix+key).
			Value(valkey.BinaryString(value)).
			Ex(ttl).
			Build(),
	).Error()
}
