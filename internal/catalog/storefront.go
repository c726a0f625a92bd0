package catalog

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/solemart/storefront/internal/domain"
	"github.com/solemart/storefront/internal/shopify"
)

const productFields = `
id
title
handle
description
images(first: 5) {
  edges { node { url altText } }
}
priceRange {
  minVariantPrice { amount currencyCode }
}
variants(first: 25) {
  edges {
    node {
      id
      title
      availableForSale
      price { amount currencyCode }
      selectedOptions { name value }
    }
  }
}`

var (
	productsQuery = fmt.Sprintf(`
query products($first: Int!, $query: String) {
  products(first: $first, query: $query) {
    edges { node { %s } }
  }
}`, productFields)

	productByHandleQuery = fmt.Sprintf(`
query productByHandle($handle: String!) {
  product(handle: $handle) { %s }
}`, productFields)
)

type wireProduct struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Handle      string `json:"handle"`
	Description string `json:"description"`
	Images      struct {
		Edges []struct {
			Node struct {
				URL     string `json:"url"`
				AltText string `json:"altText"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"images"`
	PriceRange struct {
		MinVariantPrice struct {
			Amount       string `json:"amount"`
			CurrencyCode string `json:"currencyCode"`
		} `json:"minVariantPrice"`
	} `json:"priceRange"`
	Variants struct {
		Edges []struct {
			Node struct {
				ID               string `json:"id"`
				Title            string `json:"title"`
				AvailableForSale bool   `json:"availableForSale"`
				Price            struct {
					Amount       string `json:"amount"`
					CurrencyCode string `json:"currencyCode"`
				} `json:"price"`
				SelectedOptions []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"selectedOptions"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"variants"`
}

// StorefrontSource reads products from the Storefront API.
type StorefrontSource struct {
	client *shopify.Client
	log    logrus.FieldLogger
}

func NewStorefrontSource(client *shopify.Client, log logrus.FieldLogger) *StorefrontSource {
	return &StorefrontSource{client: client, log: log}
}

func (s *StorefrontSource) Products(ctx context.Context, first int, query string) ([]Product, error) {
	if first <= 0 {
		first = 20
	}
	vars := map[string]any{"first": first}
	if query != "" {
		vars["query"] = query
	}

	var out struct {
		Products struct {
			Edges []struct {
				Node wireProduct `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	}
	if err := s.client.Query(ctx, productsQuery, vars, &out); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	products := make([]Product, 0, len(out.Products.Edges))
	for _, edge := range out.Products.Edges {
		products = append(products, convertProduct(edge.Node))
	}
	return products, nil
}

func (s *StorefrontSource) ProductByHandle(ctx context.Context, handle string) (*Product, error) {
	var out struct {
		Product *wireProduct `json:"product"`
	}
	if err := s.client.Query(ctx, productByHandleQuery, map[string]any{"handle": handle}, &out); err != nil {
		return nil, fmt.Errorf("product %s: %w", handle, err)
	}
	if out.Product == nil {
		return nil, nil
	}
	product := convertProduct(*out.Product)
	return &product, nil
}

func convertProduct(w wireProduct) Product {
	p := Product{
		ID:          w.ID,
		Title:       w.Title,
		Handle:      w.Handle,
		Description: w.Description,
		MinPrice: domain.Money{
			Amount:       w.PriceRange.MinVariantPrice.Amount,
			CurrencyCode: w.PriceRange.MinVariantPrice.CurrencyCode,
		},
	}
	for _, edge := range w.Images.Edges {
		p.Images = append(p.Images, Image{URL: edge.Node.URL, AltText: edge.Node.AltText})
	}
	for _, edge := range w.Variants.Edges {
		v := Variant{
			ID:               edge.Node.ID,
			Title:            edge.Node.Title,
			AvailableForSale: edge.Node.AvailableForSale,
			Price: domain.Money{
				Amount:       edge.Node.Price.Amount,
				CurrencyCode: edge.Node.Price.CurrencyCode,
			},
		}
		for _, opt := range edge.Node.SelectedOptions {
			v.SelectedOptions = append(v.SelectedOptions, domain.SelectedOption{Name: opt.Name, Value: opt.Value})
		}
		p.Variants = append(p.Variants, v)
	}
	return p
}
