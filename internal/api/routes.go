package api

import (
	"net/http"

	"github.com/JaimeStill/compass/internal/config"
	"github.com/JaimeStill/compass/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	archive := newArchiveHandler(
		runtime.Storage,
		runtime.Logger,
		cfg.Storage.MaxListSize,
	)

	routes.Register(
		mux,
		domain.Mappings.Handler().Routes(),
		domain.Records.Handler(cfg.API.MaxUploadSizeBytes()).Routes(),
		domain.Reports.Handler().Routes(),
		archive.routes(),
	)
}
