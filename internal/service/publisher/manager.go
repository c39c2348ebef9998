package publisher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/models"
)

// Manager is the adapter registry: one Publisher per platform identifier,
// selected by name rather than by runtime type inspection.
type Manager struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
	configs    map[string]PublishConfig
	logger     *zap.Logger
	db         *gorm.DB
}

func NewManager(logger *zap.Logger, db *gorm.DB) *Manager {
	return &Manager{
		publishers: make(map[string]Publisher),
		configs:    make(map[string]PublishConfig),
		logger:     logger,
		db:         db,
	}
}

func (m *Manager) Register(publisher Publisher) error {
	name := publisher.PlatformName()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.publishers[name]; exists {
		return fmt.Errorf("publisher for platform %s already registered", name)
	}

	m.publishers[name] = publisher
	m.ensurePlatformRow(name)
	m.logger.Info("Publisher registered", zap.String("platform", name))
	return nil
}

func (m *Manager) Get(platformName string) (Publisher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	publisher, exists := m.publishers[platformName]
	if !exists {
		return nil, fmt.Errorf("publisher for platform %s not found", platformName)
	}
	return publisher, nil
}

// AvailablePlatforms returns the registered platform names, sorted for a
// stable API response.
func (m *Manager) AvailablePlatforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.publishers))
	for name := range m.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) SetConfig(platformName string, config PublishConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[platformName] = config
}

func (m *Manager) Config(platformName string) (PublishConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	config, exists := m.configs[platformName]
	if !exists {
		return PublishConfig{}, fmt.Errorf("config for platform %s not found", platformName)
	}
	return config, nil
}

// Enabled reports whether a platform is registered and switched on.
func (m *Manager) Enabled(platformName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.publishers[platformName]; !exists {
		return false
	}
	config, exists := m.configs[platformName]
	return exists && config.Enabled
}

// Authorized checks the adapter's authorization state for one tenant
// account. Unregistered platforms are never authorized.
func (m *Manager) Authorized(ctx context.Context, platformName, accountRef string) bool {
	publisher, err := m.Get(platformName)
	if err != nil {
		return false
	}
	return publisher.CheckAuthorization(ctx, accountRef)
}

// AnyAuthorized reports whether at least one of the post's target
// platforms can still accept a publish call.
func (m *Manager) AnyAuthorized(ctx context.Context, post *models.Post) bool {
	for _, platform := range post.Platforms {
		if !m.Enabled(platform) {
			continue
		}
		if m.Authorized(ctx, platform, post.AccountRef(platform)) {
			return true
		}
	}
	return false
}

// ensurePlatformRow keeps the persisted platform registry in step with
// the registered adapters. Called with m.mu held.
func (m *Manager) ensurePlatformRow(name string) {
	if m.db == nil {
		return
	}

	var platform models.Platform
	if err := m.db.Where("name = ?", name).First(&platform).Error; err != nil {
		platform = models.Platform{
			Name:        name,
			DisplayName: displayName(name),
			Config:      "{}",
			Enabled:     true,
		}
		if createErr := m.db.Create(&platform).Error; createErr != nil {
			m.logger.Error("Failed to create platform row",
				zap.String("platform", name),
				zap.Error(createErr))
		}
	}
}

func displayName(name string) string {
	parts := strings.Split(name, "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}
