package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/tally/internal/catalog/domain"
	"github.com/smallbiznis/tally/internal/tenant/router"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	GenID  *snowflake.Node
	Router *router.Router
	Repo   catalogdomain.Repository
}

type Service struct {
	log    *zap.Logger
	genID  *snowflake.Node
	router *router.Router
	repo   catalogdomain.Repository
}

func NewService(p Params) catalogdomain.Service {
	return &Service{
		log:    p.Log.Named("catalog.service"),
		genID:  p.GenID,
		router: p.Router,
		repo:   p.Repo,
	}
}

func (s *Service) CreateProduct(ctx context.Context, req catalogdomain.CreateProductRequest) (*catalogdomain.Product, error) {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, catalogdomain.ErrInvalidProduct
	}

	product := &catalogdomain.Product{
		ID:          s.genID.Generate(),
		BusinessID:  req.BusinessID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		IsActive:    true,
	}

	variants := make([]catalogdomain.ProductVariant, 0, len(req.Variants))
	for _, v := range req.Variants {
		if strings.TrimSpace(v.Name) == "" || v.Price.IsNegative() || v.Quantity < 0 {
			return nil, catalogdomain.ErrInvalidProduct
		}
		variants = append(variants, catalogdomain.ProductVariant{
			ID:        s.genID.Generate(),
			ProductID: product.ID,
			Name:      strings.TrimSpace(v.Name),
			SKU:       strings.TrimSpace(v.SKU),
			Price:     v.Price,
			Quantity:  v.Quantity,
		})
	}

	if err := s.repo.InsertProduct(ctx, store, product, variants); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Service) GetProduct(ctx context.Context, id snowflake.ID) (*catalogdomain.Product, []catalogdomain.ProductVariant, error) {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return nil, nil, err
	}

	product, err := s.repo.FindProduct(ctx, store, id)
	if err != nil {
		return nil, nil, err
	}
	if product == nil {
		return nil, nil, catalogdomain.ErrProductNotFound
	}

	variants, err := s.repo.ListVariants(ctx, store, id)
	if err != nil {
		return nil, nil, err
	}
	return product, variants, nil
}

func (s *Service) GetVariant(ctx context.Context, id snowflake.ID) (*catalogdomain.ProductVariant, error) {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	variant, err := s.repo.FindVariant(ctx, store, id)
	if err != nil {
		return nil, err
	}
	if variant == nil {
		return nil, catalogdomain.ErrVariantNotFound
	}
	return variant, nil
}

func (s *Service) SetProductActive(ctx context.Context, id snowflake.ID, active bool) error {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return err
	}

	product, err := s.repo.FindProduct(ctx, store, id)
	if err != nil {
		return err
	}
	if product == nil {
		return catalogdomain.ErrProductNotFound
	}
	return s.repo.SetProductActive(ctx, store, id, active)
}

func (s *Service) DeductQuantity(ctx context.Context, variantID snowflake.ID, quantity int) error {
	if quantity <= 0 {
		return catalogdomain.ErrInvalidQuantity
	}

	store, err := s.router.Resolve(ctx)
	if err != nil {
		return err
	}

	variant, err := s.repo.FindVariant(ctx, store, variantID)
	if err != nil {
		return err
	}
	if variant == nil {
		return catalogdomain.ErrVariantNotFound
	}

	product, err := s.repo.FindProduct(ctx, store, variant.ProductID)
	if err != nil {
		return err
	}
	if product == nil || !product.IsActive {
		return catalogdomain.ErrInactiveProduct
	}

	ok, err := s.repo.DeductQuantity(ctx, store, variantID, quantity)
	if err != nil {
		return err
	}
	if !ok {
		return catalogdomain.ErrInsufficientQuantity
	}
	return nil
}

func (s *Service) RestoreQuantity(ctx context.Context, variantID snowflake.ID, quantity int) error {
	if quantity <= 0 {
		return catalogdomain.ErrInvalidQuantity
	}

	store, err := s.router.Resolve(ctx)
	if err != nil {
		return err
	}
	return s.repo.RestoreQuantity(ctx, store, variantID, quantity)
}
