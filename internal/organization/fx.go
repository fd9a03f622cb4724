package organization

import (
	"go.uber.org/fx"

	"github.com/thelab33/futurefunded/internal/organization/repository"
)

var Module = fx.Module("organization",
	fx.Provide(repository.Provide),
)
