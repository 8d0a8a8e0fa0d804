package history

import (
	"fmt"

	"go.uber.org/zap"
)

// NewStore creates a new history Store based on the configuration
func NewStore(config StoreConfig, logger *zap.Logger) (Store, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryStore(config), nil
	case StoreTypeRedis:
		return NewRedisStore(config, logger)
	case StoreTypeMongo:
		return NewMongoStore(config, logger)
	case StoreTypeSQL:
		return NewSQLStore(config, logger)
	default:
		return nil, fmt.Errorf("unsupported history store type: %s", config.Type)
	}
}

// MustNewStore creates a new history Store or panics on error.
//
// WARNING: This function should ONLY be used during application initialization
// (e.g., in main() or init()). Using panic in request handlers or business logic
// is strongly discouraged. For runtime store creation, use NewStore instead.
//
// Example usage:
//
//	func main() {
//	    store := history.MustNewStore(config, logger) // OK - initialization
//	    // ...
//	}
func MustNewStore(config StoreConfig, logger *zap.Logger) Store {
	store, err := NewStore(config, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create history store: %v", err))
	}
	return store
}
