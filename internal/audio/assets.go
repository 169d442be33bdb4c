package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Asset is a playable in-memory audio object.
type Asset struct {
	ID          string
	URL         string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// AssetStore holds playback assets until they are released. Every asset
// created must eventually be released by its owner.
type AssetStore struct {
	mu     sync.Mutex
	assets map[string]*Asset
}

func NewAssetStore() *AssetStore {
	return &AssetStore{assets: make(map[string]*Asset)}
}

// Create registers a WAV payload and returns its handle.
func (s *AssetStore) Create(data []byte) *Asset {
	id := uuid.NewString()
	asset := &Asset{
		ID:          id,
		URL:         "blob:shabadfinder/" + id,
		ContentType: "audio/wav",
		Data:        data,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	s.assets[id] = asset
	s.mu.Unlock()
	return asset
}

// Open returns a live asset by id.
func (s *AssetStore) Open(id string) (*Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	return asset, ok
}

// Release drops an asset. It reports whether the asset was still live.
func (s *AssetStore) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[id]; !ok {
		return false
	}
	delete(s.assets, id)
	return true
}

// Live returns the number of unreleased assets.
func (s *AssetStore) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assets)
}
