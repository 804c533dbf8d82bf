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
	"github.com/coursekit/enroll/pkg/db"
	"go.uber.org/fx"
)

// Headless reconciler host for deployments that split the sweep loop
// from the API pods.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services required by the reconciler
		policy.Module,
		offering.Module,
		grant.Module,
		plan.Module,
		identity.Module,
		notification.Module,
		payment.Module,
		renewal.Module,

		// No server module!
		reconciler.Module,
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
