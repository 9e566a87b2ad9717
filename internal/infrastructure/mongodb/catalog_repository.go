package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atelier-platform/production-engine/internal/domain"
	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
)

// CatalogRepository reads products and their bills of materials
type CatalogRepository struct {
	products *pkgmongo.InstrumentedCollection
	bom      *pkgmongo.InstrumentedCollection
}

// NewCatalogRepository creates the catalog repository
func NewCatalogRepository(client *pkgmongo.InstrumentedClient) *CatalogRepository {
	return &CatalogRepository{
		products: client.Collection(CollectionProducts),
		bom:      client.Collection(CollectionBOM),
	}
}

func (r *CatalogRepository) bomIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "productId", Value: 1}, {Key: "materialId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_product_material_unique"),
		},
	}
}

// FindProducts loads products by id; unknown ids are absent from the map
func (r *CatalogRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]*domain.Product, error) {
	var products []*domain.Product
	if err := r.products.FindAll(ctx, bson.M{"_id": bson.M{"$in": productIDs}}, &products); err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	out := make(map[string]*domain.Product, len(products))
	for _, p := range products {
		out[p.ProductID] = p
	}
	return out, nil
}

// FindBOM groups the bill of materials by product
func (r *CatalogRepository) FindBOM(ctx context.Context, productIDs []string) (map[string][]domain.BOMEntry, error) {
	var entries []domain.BOMEntry
	opts := options.Find().SetSort(bson.D{{Key: "productId", Value: 1}, {Key: "materialId", Value: 1}})
	if err := r.bom.FindAll(ctx, bson.M{"productId": bson.M{"$in": productIDs}}, &entries, opts); err != nil {
		return nil, fmt.Errorf("failed to find bill of materials: %w", err)
	}
	out := make(map[string][]domain.BOMEntry)
	for _, e := range entries {
		out[e.ProductID] = append(out[e.ProductID], e)
	}
	return out, nil
}

// UpsertProduct writes a product
func (r *CatalogRepository) UpsertProduct(ctx context.Context, product *domain.Product) error {
	product.UpdatedAt = time.Now().UTC()
	opts := options.Replace().SetUpsert(true)
	if _, err := r.products.ReplaceOne(ctx, bson.M{"_id": product.ProductID}, product, opts); err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

// UpsertBOMEntry writes the line for one (product, material) pair
func (r *CatalogRepository) UpsertBOMEntry(ctx context.Context, entry domain.BOMEntry) error {
	filter := bson.M{"productId": entry.ProductID, "materialId": entry.MaterialID}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.bom.ReplaceOne(ctx, filter, entry, opts); err != nil {
		return fmt.Errorf("failed to upsert bill of materials entry: %w", err)
	}
	return nil
}
