package donation

import (
	"go.uber.org/fx"

	"github.com/thelab33/futurefunded/internal/donation/repository"
	"github.com/thelab33/futurefunded/internal/donation/service"
)

var Module = fx.Module("donation",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
