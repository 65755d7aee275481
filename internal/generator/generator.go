package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User is a generated marketplace account.
type User struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
	PhotoURL string `json:"photoURL"`
}

// Product is a generated listing. SKU is the dataset-local key that
// advertisements and reports refer to until seeding assigns real identifiers.
type Product struct {
	SKU          string          `json:"sku"`
	SellerEmail  string          `json:"sellerEmail"`
	SellerName   string          `json:"sellerName"`
	Category     string          `json:"category"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Condition    string          `json:"condition"`
	Location     string          `json:"location"`
	Price        decimal.Decimal `json:"price"`
	OriginalCost decimal.Decimal `json:"originalPrice"`
	YearsOfUse   int             `json:"yearsOfUse"`
	PostedAt     time.Time       `json:"postedAt"`
}

// MarshalJSON writes the prices as JSON numbers, the form the product schema
// accepts when the dataset is seeded.
func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		Price        float64 `json:"price"`
		OriginalCost float64 `json:"originalPrice"`
	}{
		plain:        plain(p),
		Price:        p.Price.InexactFloat64(),
		OriginalCost: p.OriginalCost.InexactFloat64(),
	})
}

// AdvertisedItem promotes a product; ProductID holds the product SKU.
type AdvertisedItem struct {
	ProductID string `json:"productId"`
}

// ReportedItem flags a product; ReportedProductID holds the product SKU.
type ReportedItem struct {
	ReportedProductID string `json:"reportedProductId"`
	ReporterEmail     string `json:"reporterEmail"`
	Reason            string `json:"reason"`
}

// Dataset contains one slice per seeded collection.
type Dataset struct {
	Users           []User           `json:"users"`
	Products        []Product        `json:"products"`
	AdvertisedItems []AdvertisedItem `json:"advertisedItems"`
	ReportedItems   []ReportedItem   `json:"reportedItems"`
}

// Generator produces a synthetic marketplace: buyers and sellers, their
// listings, and a share of advertised and reported products.
type Generator struct {
	cfg       Config
	rand      *rand.Rand
	fragments nameFragments
	now       time.Time
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.NumUsers <= 0 {
		cfg.NumUsers = def.NumUsers
	}
	if cfg.NumProducts < 0 {
		cfg.NumProducts = def.NumProducts
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:       cfg,
		rand:      rand.New(rand.NewSource(cfg.Seed)),
		fragments: defaultNameFragments(),
		now:       time.Now().UTC(),
	}
}

// Generate synthesises the dataset. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	users := make([]User, g.cfg.NumUsers)
	var sellers []User

	for i := range users {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		users[i] = g.randomUser(i)
		if users[i].Role == "seller" {
			sellers = append(sellers, users[i])
		}
	}
	if len(sellers) == 0 {
		users[0].Role = "seller"
		sellers = append(sellers, users[0])
	}

	ds := Dataset{
		Users:           users,
		Products:        make([]Product, 0, g.cfg.NumProducts),
		AdvertisedItems: []AdvertisedItem{},
		ReportedItems:   []ReportedItem{},
	}

	for i := 0; i < g.cfg.NumProducts; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}

		seller := sellers[g.rand.Intn(len(sellers))]
		product := g.randomProduct(i, seller)
		ds.Products = append(ds.Products, product)

		if g.rand.Float64() < g.cfg.AdChance {
			ds.AdvertisedItems = append(ds.AdvertisedItems, AdvertisedItem{ProductID: product.SKU})
		}
		if g.rand.Float64() < g.cfg.ReportChance {
			reporter := users[g.rand.Intn(len(users))]
			ds.ReportedItems = append(ds.ReportedItems, ReportedItem{
				ReportedProductID: product.SKU,
				ReporterEmail:     reporter.Email,
				Reason:            g.pick(g.fragments.reportReasons),
			})
		}
	}

	return ds, nil
}

func (g *Generator) randomUser(idx int) User {
	first := g.pick(g.fragments.first)
	last := g.pick(g.fragments.last)
	role := "buyer"
	if g.rand.Float64() < 0.4 {
		role = "seller"
	}
	return User{
		Name:     first + " " + last,
		Email:    fmt.Sprintf("%s.%s%d@%s", strings.ToLower(first), strings.ToLower(last), idx+1, g.pick(g.fragments.domains)),
		Role:     role,
		Verified: role == "seller" && g.rand.Float64() < 0.5,
		PhotoURL: fmt.Sprintf("https://i.pravatar.cc/150?u=%d", idx+1),
	}
}

func (g *Generator) randomProduct(idx int, seller User) Product {
	category := g.pick(g.fragments.categories)
	item := g.pick(g.fragments.items[category])
	brand := g.pick(g.fragments.brands)

	// prices in whole cents: 5.00 .. 1500.00
	original := decimal.New(int64(500+g.rand.Intn(149500)), -2)
	discount := decimal.NewFromFloat(0.3 + g.rand.Float64()*0.5).Round(2)
	price := original.Mul(discount).Round(2)

	return Product{
		SKU:          fmt.Sprintf("SKU-%06d", idx+1),
		SellerEmail:  seller.Email,
		SellerName:   seller.Name,
		Category:     category,
		Title:        brand + " " + item,
		Description:  fmt.Sprintf("Pre-owned %s %s in %s condition.", strings.ToLower(brand), item, g.pick(g.fragments.conditions)),
		Condition:    g.pick(g.fragments.conditions),
		Location:     g.pick(g.fragments.cities),
		Price:        price,
		OriginalCost: original,
		YearsOfUse:   g.rand.Intn(6),
		PostedAt:     g.now.Add(-time.Duration(g.rand.Intn(90*24)) * time.Hour),
	}
}

func (g *Generator) pick(options []string) string {
	return options[g.rand.Intn(len(options))]
}

type nameFragments struct {
	first         []string
	last          []string
	domains       []string
	cities        []string
	brands        []string
	conditions    []string
	categories    []string
	items         map[string][]string
	reportReasons []string
}

func defaultNameFragments() nameFragments {
	return nameFragments{
		first:      []string{"Jane", "John", "Alex", "Priya", "Liu", "Maria", "Omar", "Sofia", "Noah", "Emma", "Lucas", "Mia", "Ava", "Ethan", "Zara"},
		last:       []string{"Doe", "Smith", "Chen", "Patel", "Garcia", "Khan", "Kim", "Ivanov", "Nguyen", "Silva", "Brown", "Lee"},
		domains:    []string{"example.com", "mail.com", "flashback.shop", "inbox.org"},
		cities:     []string{"Dhaka", "Chittagong", "Sylhet", "Khulna", "Rajshahi", "Barisal", "Rangpur"},
		brands:     []string{"Samsung", "Apple", "Xiaomi", "Walton", "Hatil", "Otobi", "Sony", "Canon"},
		conditions: []string{"excellent", "good", "fair"},
		categories: []string{"phones", "laptops", "furniture", "cameras"},
		items: map[string][]string{
			"phones":    {"Galaxy S21", "iPhone 12", "Redmi Note 10", "Pixel 6"},
			"laptops":   {"ThinkPad", "MacBook Air", "IdeaPad", "Zenbook"},
			"furniture": {"Study Table", "Bookshelf", "Office Chair", "Dining Set"},
			"cameras":   {"DSLR Body", "Mirrorless Kit", "Action Cam", "Prime Lens"},
		},
		reportReasons: []string{"suspected scam", "wrong category", "item already sold", "misleading photos"},
	}
}
