package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

type migrationStep struct {
	name string
	run  func(ctx context.Context, p *Pool) error
}

// migrationSteps creates the jobs schema, lets gorm shape the tables from the
// row models, then adds the indexes and constraints gorm tags cannot express.
func migrationSteps() []migrationStep {
	return []migrationStep{
		{name: "create schema", run: execScript(preAutoMigrateSQL)},
		{name: "auto-migrate models", run: func(ctx context.Context, p *Pool) error {
			return p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...)
		}},
		{name: "indexes and constraints", run: execScript(postAutoMigrateSQL)},
	}
}

func (p *Pool) migrate(ctx context.Context) error {
	for _, step := range migrationSteps() {
		if err := step.run(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func execScript(script string) func(ctx context.Context, p *Pool) error {
	return func(ctx context.Context, p *Pool) error {
		trimmed := strings.TrimSpace(script)
		if trimmed == "" {
			return nil
		}
		return p.gdb.WithContext(ctx).Exec(trimmed).Error
	}
}
