package models

import "gorm.io/gorm"

// AllModels lists every table owned by this service.
func AllModels() []interface{} {
	return []interface{}{
		&IdempotencyRecord{},
		&ApprovalPolicy{},
		&WorkflowInstance{}, &WorkflowTask{},
		&OutboxEvent{},
		&AuditEntry{}, &DomainEvent{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
