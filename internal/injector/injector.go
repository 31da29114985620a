//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/config"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/events/bus"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/metrics"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/resolver"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/template"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/transport"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/server"
)

var observabilitySet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
	wire.Bind(new(prometheus.Gatherer), new(*prometheus.Registry)),
	metrics.New,
)

var runtimeSet = wire.NewSet(
	ProvideDocuments,
	ProvideFactory,
	template.NewLoader,
	template.NewRegistry,
	resolver.FromFactory,
	ProvideStore,
	bus.New,
	ProvideManager,
	transport.NewHub,
	ProvideAuthority,
)

func InitializeServer(cfg *config.Config) (*server.Server, func(), error) {
	wire.Build(
		observabilitySet,
		runtimeSet,
		wire.Struct(new(server.Deps), "*"),
		server.New,
	)
	return nil, nil, nil
}
