package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/repository"
)

// projectAccess собирает правила доступа к проектным группам из двух репозиториев.
type projectAccess struct {
	catalog *repository.CatalogRepository
	orders  *repository.OrderRepository
}

func (p projectAccess) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return p.catalog.GetProject(ctx, id)
}

func (p projectAccess) HasAcceptedOrderInProject(ctx context.Context, projectID, freelancerID uuid.UUID) (bool, error) {
	return p.orders.HasAcceptedOrderInProject(ctx, projectID, freelancerID)
}
