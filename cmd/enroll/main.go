package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/clock"
	"github.com/coursekit/enroll/internal/config"
	"github.com/coursekit/enroll/internal/grant"
	"github.com/coursekit/enroll/internal/identity"
	"github.com/coursekit/enroll/internal/migration"
	"github.com/coursekit/enroll/internal/notification"
	"github.com/coursekit/enroll/internal/observability"
	"github.com/coursekit/enroll/internal/offering"
	"github.com/coursekit/enroll/internal/payment"
	"github.com/coursekit/enroll/internal/plan"
	"github.com/coursekit/enroll/internal/policy"
	"github.com/coursekit/enroll/internal/reconciler"
	"github.com/coursekit/enroll/internal/renewal"
	"github.com/coursekit/enroll/internal/seed"
	"github.com/coursekit/enroll/internal/server"
	"github.com/coursekit/enroll/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// The monolith: HTTP surface and reconciliation loop in one process.
func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		policy.Module,
		offering.Module,
		grant.Module,
		plan.Module,
		identity.Module,
		notification.Module,
		payment.Module,
		renewal.Module,
		reconciler.Module,

		server.Module,

		fx.Invoke(SeedDemoData),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func SeedDemoData(conn *gorm.DB, cfg config.Config) error {
	if !cfg.SeedDemoData || cfg.IsProduction() {
		return nil
	}
	return seed.EnsureDemoData(conn, snowflake.ID(cfg.DefaultOrgID))
}
