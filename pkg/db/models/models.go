package models

// All lists every persisted model in dependency order. Used for sqlite
// schema bootstrapping; Postgres is owned by goose migrations.
func All() []any {
	return []any{
		&DeliveryAgent{},
		&Order{},
		&OrderItem{},
		&DeliveryAssignment{},
		&EarningLog{},
		&PlatformSettings{},
	}
}
