package cost

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/manash/imgcanvas/internal/provider"
	"github.com/manash/imgcanvas/pkg/models"
)

// MeteredGateway records the cost of every call that returned an image.
// Text-only answers and failures are not billed as images.
type MeteredGateway struct {
	provider.Gateway
	meter         *Meter
	editModel     string
	generateModel string
}

var _ provider.Gateway = (*MeteredGateway)(nil)

func NewMeteredGateway(gw provider.Gateway, meter *Meter, cfg *provider.Config) *MeteredGateway {
	return &MeteredGateway{
		Gateway:       gw,
		meter:         meter,
		editModel:     cfg.EditModel,
		generateModel: cfg.GenerateModel,
	}
}

func (g *MeteredGateway) EditImage(ctx context.Context, img *models.Image, instruction string) (*models.EditResult, error) {
	res, err := g.Gateway.EditImage(ctx, img, instruction)
	if err == nil && res.HasImage() {
		price := g.meter.RecordEdit(g.editModel)
		log.Debug().Str("model", g.editModel).Float64("cost", price).Msg("Edit billed")
	}
	return res, err
}

func (g *MeteredGateway) GenerateImage(ctx context.Context, instruction string) (*models.Image, error) {
	img, err := g.Gateway.GenerateImage(ctx, instruction)
	if err == nil {
		price := g.meter.RecordGeneration(g.generateModel)
		log.Debug().Str("model", g.generateModel).Float64("cost", price).Msg("Generation billed")
	}
	return img, err
}
